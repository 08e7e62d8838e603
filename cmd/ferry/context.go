package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/config"
	"ferry/internal/labbcat"
	"ferry/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the run logger and prunes expired log files once per
// process.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = fmt.Errorf("create logger: %w", err)
			return
		}
		if removed := logging.PruneLogs(logger, cfg.Paths.LogDir, logging.LogFilePattern,
			logging.LogFileName(time.Now()), cfg.Logging.RetentionDays); removed > 0 {
			logger.Debug("expired log files removed", logging.Int("count", removed))
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

func newClient(cfg *config.Config) (*labbcat.Client, error) {
	return newClientWithRetries(cfg, 0)
}

// newClientWithRetries builds a client with an explicit retry budget; a
// negative value makes every request a single attempt.
func newClientWithRetries(cfg *config.Config, retries int) (*labbcat.Client, error) {
	client, err := labbcat.New(labbcat.Config{
		BaseURL:   cfg.Server.URL,
		Username:  cfg.Server.Username,
		Password:  cfg.Server.Password,
		UserAgent: cfg.Server.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Retries:   retries,
	})
	if err != nil {
		return nil, fmt.Errorf("create server client: %w", err)
	}
	return client, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
