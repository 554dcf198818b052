package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"dirjobs/internal/config"
	"dirjobs/internal/logging"
	"dirjobs/internal/processing"
	"dirjobs/internal/services"
)

// BackendName identifies this backend in logs and stats.
const BackendName = "container"

// Mount points inside the encoding image.
const (
	VideosMount  = "/videos"
	TmpMount     = "/tmpdir"
	ResultsMount = "/results"
)

var commandContext = exec.CommandContext

// Encoder runs jobs in the configured image.
type Encoder struct {
	binary    string
	image     string
	processor string
	skipPull  bool
	uid       int
	gid       int
	logger    *slog.Logger
}

// New builds a container backend from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	binary := strings.TrimSpace(cfg.Encoder.ContainerBinary)
	if binary == "" {
		binary = "docker"
	}
	return &Encoder{
		binary:    binary,
		image:     cfg.Encoder.Image,
		processor: strings.TrimSpace(cfg.Encoder.Processor),
		skipPull:  cfg.Encoder.SkipPull,
		uid:       os.Geteuid(),
		gid:       os.Getegid(),
		logger:    logging.NewComponentLogger(logger, "container"),
	}
}

// Name implements processing.Encoder.
func (e *Encoder) Name() string { return BackendName }

// PullCommand returns the image pull command line.
func (e *Encoder) PullCommand() []string {
	return []string{e.binary, "pull", e.image}
}

// RunCommand returns the container run command line for req.
func (e *Encoder) RunCommand(req *processing.Request) ([]string, error) {
	mounts := make([]string, 0, 3)
	for _, m := range []struct{ host, target string }{
		{req.VideoDir, VideosMount},
		{req.TmpDir, TmpMount},
		{req.ResultDir, ResultsMount},
	} {
		abs, err := filepath.Abs(m.host)
		if err != nil {
			return nil, fmt.Errorf("resolve mount %s: %w", m.host, err)
		}
		mounts = append(mounts, abs+":"+m.target)
	}

	cmd := []string{
		e.binary, "run",
		"--rm",
		"--user", strconv.Itoa(e.uid) + ":" + strconv.Itoa(e.gid),
		"-v", mounts[0],
		"-v", mounts[1],
		"-v", mounts[2],
	}
	if e.processor != "" {
		cmd = append(cmd, "--cpuset-cpus="+e.processor)
	}
	cmd = append(cmd, e.image)
	cmd = append(cmd, req.Descriptor.Args()...)
	return cmd, nil
}

// Encode implements processing.Encoder.
func (e *Encoder) Encode(ctx context.Context, req *processing.Request) error {
	if req == nil || req.Descriptor == nil {
		return errors.New("container encode requires a job descriptor")
	}
	logger := logging.WithContext(ctx, e.logger)

	if !e.skipPull {
		if err := e.pull(ctx, logger, req); err != nil {
			return err
		}
	}

	video := filepath.Join(req.VideoDir, req.Descriptor.Video)
	if _, err := os.Stat(video); err != nil {
		return services.Wrap(services.ErrNotFound, "container", "locate input", "could not find video "+req.Descriptor.Video, err)
	}

	cmd, err := e.RunCommand(req)
	if err != nil {
		return err
	}
	cmdLine := strings.Join(cmd, " ")
	if req.Stats != nil {
		req.Stats["docker_cmd"] = cmdLine
	}
	logger.Debug("run container", logging.String("command", cmdLine))

	if req.DryRun {
		logging.WarnWithContext(logger, "dry run selected; not starting container", "dry_run",
			logging.String(logging.FieldImpact, "no output is produced"),
			logging.String(logging.FieldErrorHint, "disable dry_run to encode"),
		)
		return nil
	}

	if err := e.exec(ctx, cmd, req.ResultDir, "docker_run"); err != nil {
		logging.ErrorWithContext(logger, "container run failed", "container_run_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the logs in "+req.ResultDir),
		)
		return services.Wrap(services.ErrExternalTool, "container", "run", e.image, err)
	}
	return nil
}

func (e *Encoder) pull(ctx context.Context, logger *slog.Logger, req *processing.Request) error {
	cmd := e.PullCommand()
	logger.Info("checking for newer image", logging.String("image", e.image))
	logger.Debug("pull image", logging.String("command", strings.Join(cmd, " ")))

	if req.DryRun {
		logging.WarnWithContext(logger, "dry run selected; not pulling image", "dry_run",
			logging.String(logging.FieldImpact, "the local image is used as is"),
			logging.String(logging.FieldErrorHint, "disable dry_run to pull"),
		)
		return nil
	}
	if err := e.exec(ctx, cmd, req.ResultDir, "docker_pull"); err != nil {
		logging.ErrorWithContext(logger, "image pull failed", "container_pull_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the logs in "+req.ResultDir),
		)
		return services.Wrap(services.ErrExternalTool, "container", "pull", e.image, err)
	}
	return nil
}

// exec runs argv with stdout and stderr captured to <prefix>_stdout.txt and
// <prefix>_stderr.txt in dir.
func (e *Encoder) exec(ctx context.Context, argv []string, dir, prefix string) error {
	stdout, err := os.Create(filepath.Join(dir, prefix+"_stdout.txt"))
	if err != nil {
		return fmt.Errorf("create stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(dir, prefix+"_stderr.txt"))
	if err != nil {
		return fmt.Errorf("create stderr log: %w", err)
	}
	defer stderr.Close()

	cmd := commandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

var _ processing.Encoder = (*Encoder)(nil)
