package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"dirjobs/internal/config"
	"dirjobs/internal/deps"
	"dirjobs/internal/jobstore"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckDirectoryReadable verifies that the directory exists and can be listed.
func CheckDirectoryReadable(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckQueueLayout verifies the queue root and each of its state directories.
// Every worker renames entries between these directories, so all of them
// need write access.
func CheckQueueLayout(root string) []Result {
	results := []Result{CheckDirectoryAccess("Queue root", root)}
	layout := jobstore.DefaultLayout()
	for _, state := range jobstore.AllStates() {
		dir, err := layout.Dir(state)
		if err != nil {
			results = append(results, Result{Name: "Queue " + string(state), Detail: err.Error()})
			continue
		}
		results = append(results, CheckDirectoryAccess("Queue "+string(state), filepath.Join(root, dir)))
	}
	return results
}

// CheckSystemDeps evaluates the binaries needed by the configured encoder
// backend. Dry runs never execute the container runtime, so it is skipped.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	switch cfg.Encoder.Backend {
	case config.BackendContainer:
		if !cfg.Worker.DryRun {
			requirements = append(requirements, deps.ContainerRuntime(cfg.Encoder.ContainerBinary))
		}
	case config.BackendDrapto:
		requirements = append(requirements, deps.DraptoTools()...)
	}
	return deps.CheckBinaries(requirements)
}

// CheckSFTP verifies that the SFTP endpoint accepts TCP connections. It does
// not authenticate; that happens on the first delivery.
func CheckSFTP(ctx context.Context, cfg *config.Config) Result {
	const name = "SFTP"

	if cfg == nil || !cfg.SFTPEnabled() {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	timeout := time.Duration(cfg.Delivery.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.Delivery.SFTPHost, strconv.Itoa(cfg.Delivery.SFTPPort))
	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", addr)}
}

func fromStatus(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Path}
	}
	return Result{Name: status.Name, Detail: status.Detail}
}
