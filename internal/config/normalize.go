package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeEncoder()
	if err := c.normalizeDelivery(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.jobs_dir", &c.Paths.JobsDir},
		{"paths.video_dir", &c.Paths.VideoDir},
		{"paths.tmp_dir", &c.Paths.TmpDir},
		{"paths.result_dir", &c.Paths.ResultDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.ID = strings.TrimSpace(c.Worker.ID)
	if c.Worker.ID == "" {
		if value, ok := os.LookupEnv("DIRJOBS_WORKER_ID"); ok {
			c.Worker.ID = strings.TrimSpace(value)
		}
	}
	if c.Worker.ID == "" {
		c.Worker.ID = defaultWorkerID
	}
	c.Worker.JobExtension = norm.NFC.String(strings.TrimSpace(c.Worker.JobExtension))
	if c.Worker.JobExtension == "" {
		c.Worker.JobExtension = defaultJobExtension
	}
	if !strings.HasPrefix(c.Worker.JobExtension, ".") {
		c.Worker.JobExtension = "." + c.Worker.JobExtension
	}
	c.Worker.StopFile = strings.TrimSpace(c.Worker.StopFile)
	if c.Worker.StopFile == "" {
		c.Worker.StopFile = defaultStopFile
	}
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Backend = strings.ToLower(strings.TrimSpace(c.Encoder.Backend))
	if c.Encoder.Backend == "" {
		c.Encoder.Backend = defaultBackend
	}
	c.Encoder.ContainerBinary = strings.TrimSpace(c.Encoder.ContainerBinary)
	if c.Encoder.ContainerBinary == "" {
		c.Encoder.ContainerBinary = defaultContainerBinary
	}
	c.Encoder.Image = strings.TrimSpace(c.Encoder.Image)
	if c.Encoder.Image == "" {
		c.Encoder.Image = defaultImage
	}
	c.Encoder.Processor = strings.TrimSpace(c.Encoder.Processor)
}

func (c *Config) normalizeDelivery() error {
	c.Delivery.SFTPHost = strings.TrimSpace(c.Delivery.SFTPHost)
	c.Delivery.SFTPUser = strings.TrimSpace(c.Delivery.SFTPUser)
	if c.Delivery.SFTPPassword == "" {
		if value, ok := os.LookupEnv("DIRJOBS_SFTP_PASSWORD"); ok {
			c.Delivery.SFTPPassword = value
		}
	}
	c.Delivery.SFTPTargetDir = strings.TrimSpace(c.Delivery.SFTPTargetDir)
	if c.Delivery.SFTPTargetDir == "" {
		c.Delivery.SFTPTargetDir = defaultSFTPTargetDir
	}
	if c.Delivery.SFTPPort == 0 {
		c.Delivery.SFTPPort = defaultSFTPPort
	}
	if c.Delivery.ConnectTimeoutSeconds <= 0 {
		c.Delivery.ConnectTimeoutSeconds = defaultConnectTimeoutSeconds
	}
	if strings.TrimSpace(c.Delivery.KnownHostsFile) != "" {
		expanded, err := expandPath(strings.TrimSpace(c.Delivery.KnownHostsFile))
		if err != nil {
			return fmt.Errorf("delivery.known_hosts_file: %w", err)
		}
		c.Delivery.KnownHostsFile = expanded
	}
	if strings.TrimSpace(c.Delivery.SSHFSDir) != "" {
		expanded, err := expandPath(strings.TrimSpace(c.Delivery.SSHFSDir))
		if err != nil {
			return fmt.Errorf("delivery.sshfs_dir: %w", err)
		}
		c.Delivery.SSHFSDir = expanded
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
