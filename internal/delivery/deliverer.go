package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dirjobs/internal/config"
	"dirjobs/internal/fileutil"
	"dirjobs/internal/logging"
	"dirjobs/internal/services"
)

// Deliverer implements processing.Deliverer.
type Deliverer struct {
	sftp     *SFTPConfig
	sshfsDir string
	keepTmp  bool
	dial     dialFunc
	logger   *slog.Logger
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deliverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New builds a Deliverer from the delivery section of cfg.
func New(cfg *config.Config, opts ...Option) *Deliverer {
	d := &Deliverer{
		sshfsDir: cfg.Delivery.SSHFSDir,
		keepTmp:  cfg.Delivery.KeepTmp,
		dial:     dialSFTP,
		logger:   logging.NewNop(),
	}
	if cfg.SFTPEnabled() {
		d.sftp = &SFTPConfig{
			Host:           cfg.Delivery.SFTPHost,
			Port:           cfg.Delivery.SFTPPort,
			User:           cfg.Delivery.SFTPUser,
			Password:       cfg.Delivery.SFTPPassword,
			TargetDir:      cfg.Delivery.SFTPTargetDir,
			KnownHostsFile: cfg.Delivery.KnownHostsFile,
			Timeout:        time.Duration(cfg.Delivery.ConnectTimeoutSeconds) * time.Second,
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "delivery")
	return d
}

// Target describes where output goes, for startup logging.
func (d *Deliverer) Target() string {
	switch {
	case d.sftp != nil && d.sshfsDir != "":
		return fmt.Sprintf("sftp://%s@%s/%s then %s", d.sftp.User, d.sftp.Addr(), d.sftp.TargetDir, d.sshfsDir)
	case d.sftp != nil:
		return fmt.Sprintf("sftp://%s@%s/%s", d.sftp.User, d.sftp.Addr(), d.sftp.TargetDir)
	case d.sshfsDir != "":
		return d.sshfsDir
	case d.keepTmp:
		return "local tmp dir"
	default:
		return "none"
	}
}

// Deliver ships tmpDir. An SFTP upload runs first; the scratch directory is
// removed after a successful upload unless keep_tmp is set, and kept when the
// upload fails. With an sshfs dir the scratch directory is moved there. With
// neither, it is removed unless keep_tmp is set.
func (d *Deliverer) Deliver(ctx context.Context, tmpDir string) error {
	logger := logging.WithContext(ctx, d.logger)
	var errs []error

	if d.sftp != nil {
		start := time.Now()
		count, err := d.uploadSFTP(tmpDir)
		if err != nil {
			logging.ErrorWithContext(logger, "sftp upload failed; keeping output locally", "sftp_upload_failed",
				logging.String("tmp_dir", tmpDir),
				logging.String("host", d.sftp.Addr()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check sftp credentials and target_dir"),
			)
			errs = append(errs, err)
		} else {
			logger.Debug("sftp upload completed",
				logging.Int("files", count),
				logging.Duration("elapsed", time.Since(start)),
			)
			if !d.keepTmp {
				if err := d.remove(logger, tmpDir); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	if d.sshfsDir != "" {
		if _, err := os.Stat(tmpDir); err != nil {
			logger.Debug("nothing left to move to sshfs dir", logging.String("tmp_dir", tmpDir))
		} else {
			dst := filepath.Join(d.sshfsDir, filepath.Base(tmpDir))
			logger.Debug("moving output to sshfs dir", logging.String("destination", dst))
			if err := fileutil.MoveDir(tmpDir, dst); err != nil {
				wrapped := services.Wrap(services.ErrExternalTool, "delivery", "sshfs move", dst, err)
				logging.ErrorWithContext(logger, "sshfs move failed; keeping output locally", "sshfs_move_failed",
					logging.Error(wrapped),
					logging.String(logging.FieldErrorHint, "check that the sshfs mount is available"),
				)
				errs = append(errs, wrapped)
			}
		}
	}

	if d.sftp == nil && d.sshfsDir == "" && !d.keepTmp {
		if err := d.remove(logger, tmpDir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Deliverer) uploadSFTP(tmpDir string) (int, error) {
	r, err := d.dial(*d.sftp)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "delivery", "sftp connect", d.sftp.Addr(), err)
	}
	defer r.Close()
	count, err := upload(r, tmpDir, d.sftp.TargetDir)
	if err != nil {
		return count, services.Wrap(services.ErrTransient, "delivery", "sftp upload", tmpDir, err)
	}
	return count, nil
}

func (d *Deliverer) remove(logger *slog.Logger, tmpDir string) error {
	logger.Debug("deleting tmp dir", logging.String("tmp_dir", tmpDir))
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("remove tmp dir: %w", err)
	}
	return nil
}
