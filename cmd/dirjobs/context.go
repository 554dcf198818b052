package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"dirjobs/internal/config"
	"dirjobs/internal/jobstore"
	"dirjobs/internal/logging"
	"dirjobs/internal/workerrun"
)

type commandContext struct {
	configFlag  *string
	jobsDirFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag, jobsDirFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		jobsDirFlag: jobsDirFlag,
	}
}

// ensureConfig loads configuration once and applies global flag overrides.
// It never creates directories; commands that need them do so themselves.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.jobsDirFlag != nil && strings.TrimSpace(*c.jobsDirFlag) != "" {
			expanded, err := config.ExpandPath(strings.TrimSpace(*c.jobsDirFlag))
			if err != nil {
				c.configErr = fmt.Errorf("resolve --jobs-dir: %w", err)
				return
			}
			cfg.Paths.JobsDir = expanded
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) withStore(fn func(*config.Config, *jobstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := workerrun.OpenStore(cfg, logging.NewNop())
	if err != nil {
		return err
	}
	return fn(cfg, store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
