package config

const (
	defaultUserAgent            = "ferry/dev"
	defaultRequestTimeout       = 60
	defaultPollIntervalMillis   = 1000
	defaultMaxPollFailures      = 5
	defaultExistenceConcurrency = 4
	defaultTrsFolder            = "trs"
	defaultStateDir             = "~/.local/share/ferry"
	defaultLogDir               = "~/.local/share/ferry/logs"
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// DefaultMediaExtensions is the fallback allow-list used when a file has no
// recognizable MIME type.
var DefaultMediaExtensions = []string{"wav", "mp3", "jpg", "gif", "png", "mp4", "mpeg", "avi"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			UserAgent:      defaultUserAgent,
			RequestTimeout: defaultRequestTimeout,
		},
		Upload: Upload{
			PollIntervalMillis:   defaultPollIntervalMillis,
			MaxPollFailures:      defaultMaxPollFailures,
			ExistenceConcurrency: defaultExistenceConcurrency,
			TrsFolder:            defaultTrsFolder,
			MediaExtensions:      append([]string(nil), DefaultMediaExtensions...),
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunStarted:     false,
			RunCompleted:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
