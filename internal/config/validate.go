package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dirjobs/internal/services"
)

var workerIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Validate ensures the configuration is usable. Every failure wraps
// services.ErrConfiguration.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validatePaths,
		c.validateWorker,
		c.validateEncoder,
		c.validateDelivery,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", services.ErrConfiguration, err)
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.JobsDir == "" {
		return errors.New("paths.jobs_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if !workerIDPattern.MatchString(c.Worker.ID) {
		return fmt.Errorf("worker.id %q may only contain letters and digits", c.Worker.ID)
	}
	if strings.ContainsAny(c.Worker.JobExtension, `/\`) {
		return fmt.Errorf("worker.job_extension %q must not contain path separators", c.Worker.JobExtension)
	}
	if c.Worker.SyncSeconds <= 0 {
		return errors.New("worker.sync_seconds must be positive")
	}
	if c.Worker.IdleMinSeconds <= 0 {
		return errors.New("worker.idle_min_seconds must be positive")
	}
	if c.Worker.IdleMaxSeconds < c.Worker.IdleMinSeconds {
		return errors.New("worker.idle_max_seconds must be >= worker.idle_min_seconds")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	switch c.Encoder.Backend {
	case BackendContainer:
		if c.Encoder.Image == "" {
			return errors.New("encoder.image must be set for the container backend")
		}
	case BackendDrapto:
	default:
		return fmt.Errorf("encoder.backend %q must be %q or %q", c.Encoder.Backend, BackendContainer, BackendDrapto)
	}
	return nil
}

func (c *Config) validateDelivery() error {
	if !c.SFTPEnabled() {
		return nil
	}
	if c.Delivery.SFTPUser == "" {
		return errors.New("delivery.sftp_user must be set when delivery.sftp_host is set")
	}
	if c.Delivery.SFTPPort <= 0 || c.Delivery.SFTPPort > 65535 {
		return fmt.Errorf("delivery.sftp_port %d is out of range", c.Delivery.SFTPPort)
	}
	return nil
}
