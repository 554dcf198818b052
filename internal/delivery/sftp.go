package delivery

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig describes the upload target.
type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	TargetDir      string
	KnownHostsFile string
	Timeout        time.Duration
}

// Addr returns host:port.
func (c SFTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// remote is the subset of an SFTP session used for uploads.
type remote interface {
	Mkdir(dir string) error
	Put(localPath, remotePath string) error
	Close() error
}

type dialFunc func(cfg SFTPConfig) (remote, error)

// dialSFTP opens an SSH connection with password auth and starts an SFTP
// session on it.
func dialSFTP(cfg SFTPConfig) (remote, error) {
	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = callback
	}
	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}
	conn, err := ssh.Dial("tcp", cfg.Addr(), sshCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", cfg.Addr(), err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start sftp session: %w", err)
	}
	return &sftpRemote{client: client, conn: conn}, nil
}

type sftpRemote struct {
	client *sftp.Client
	conn   io.Closer
}

func (r *sftpRemote) Mkdir(dir string) error {
	return r.client.Mkdir(dir)
}

func (r *sftpRemote) Put(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := r.client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	return dst.Close()
}

func (r *sftpRemote) Close() error {
	err := r.client.Close()
	if r.conn != nil {
		err = errors.Join(err, r.conn.Close())
	}
	return err
}

// upload creates <target>/<base of localDir> and copies every regular file
// of localDir into it. Subdirectories are not descended into.
func upload(r remote, localDir, targetDir string) (int, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", localDir, err)
	}
	remoteDir := path.Join(targetDir, filepath.Base(localDir))
	if err := r.Mkdir(remoteDir); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", remoteDir, err)
	}
	uploaded := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		local := filepath.Join(localDir, entry.Name())
		if err := r.Put(local, path.Join(remoteDir, entry.Name())); err != nil {
			return uploaded, err
		}
		uploaded++
	}
	return uploaded, nil
}
