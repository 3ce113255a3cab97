package config

import "time"

// Config holds client configuration values.
type Config struct {
	// ServerURL is the REST base URL of the portal messaging API.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	// SocketURL is the WebSocket endpoint for the real-time channel.
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`
	// DatabasePath locates the local session/cache database.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Reconnection policy for the real-time channel.
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Snapshot polling. OpenPollInterval applies while the conversation view
	// is open; IdlePollInterval keeps the unread badge fresh while closed.
	OpenPollInterval time.Duration `mapstructure:"open_poll_interval" yaml:"open_poll_interval"`
	IdlePollInterval time.Duration `mapstructure:"idle_poll_interval" yaml:"idle_poll_interval"`

	// TypingDebounce is the silence interval after which typing=false is sent.
	TypingDebounce time.Duration `mapstructure:"typing_debounce" yaml:"typing_debounce"`
	// TypingExpiry auto-clears the counterparty typing flag when the
	// follow-up typing=false event is lost.
	TypingExpiry time.Duration `mapstructure:"typing_expiry" yaml:"typing_expiry"`

	// MaxAttachmentSize is the per-file ceiling enforced before upload.
	MaxAttachmentSize int64 `mapstructure:"max_attachment_size" yaml:"max_attachment_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:         "http://localhost:333/api",
		SocketURL:         "ws://localhost:333/socket",
		DatabasePath:      "messenger.db",
		LogLevel:          "info",
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		DialTimeout:       20 * time.Second,
		RequestTimeout:    15 * time.Second,
		OpenPollInterval:  30 * time.Second,
		IdlePollInterval:  2 * time.Minute,
		TypingDebounce:    2 * time.Second,
		TypingExpiry:      3 * time.Second,
		MaxAttachmentSize: 10 << 20,
	}
}
