package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeUpload()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.URL = strings.TrimSpace(c.Server.URL)
	if c.Server.URL == "" {
		if value, ok := os.LookupEnv("FERRY_SERVER_URL"); ok {
			c.Server.URL = strings.TrimSpace(value)
		}
	}
	if c.Server.URL != "" && !strings.HasSuffix(c.Server.URL, "/") {
		c.Server.URL += "/"
	}
	c.Server.Username = strings.TrimSpace(c.Server.Username)
	if c.Server.Username == "" {
		if value, ok := os.LookupEnv("FERRY_USERNAME"); ok {
			c.Server.Username = strings.TrimSpace(value)
		}
	}
	if c.Server.Password == "" {
		if value, ok := os.LookupEnv("FERRY_PASSWORD"); ok {
			c.Server.Password = value
		}
	}
	c.Server.UserAgent = strings.TrimSpace(c.Server.UserAgent)
	if c.Server.UserAgent == "" {
		c.Server.UserAgent = defaultUserAgent
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizeUpload() {
	if c.Upload.PollIntervalMillis == 0 {
		c.Upload.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Upload.MaxPollFailures == 0 {
		c.Upload.MaxPollFailures = defaultMaxPollFailures
	}
	if c.Upload.ExistenceConcurrency == 0 {
		c.Upload.ExistenceConcurrency = defaultExistenceConcurrency
	}
	c.Upload.TrsFolder = strings.TrimSpace(c.Upload.TrsFolder)
	if len(c.Upload.MediaExtensions) == 0 {
		c.Upload.MediaExtensions = append([]string(nil), DefaultMediaExtensions...)
	}
	cleaned := make([]string, 0, len(c.Upload.MediaExtensions))
	for _, ext := range c.Upload.MediaExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			cleaned = append(cleaned, ext)
		}
	}
	c.Upload.MediaExtensions = cleaned
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("FERRY_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
