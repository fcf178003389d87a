package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultControlPlanePort = 6060
	DefaultHost             = "localhost"

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultControlPlanePort,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		HTTPProxy: HTTPProxyConfig{
			Enabled:           true,
			Listen:            ":8080",
			ConnectionTimeout: 10 * time.Second,
			ResponseTimeout:   60 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      500 * time.Millisecond,
			MaxBodySize:       32 << 20,
		},
		SOCKS5: SOCKS5Config{
			Enabled:           true,
			Listen:            ":1080",
			ConnectionTimeout: 10 * time.Second,
			ResponseTimeout:   30 * time.Second,
			BindTimeout:       30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:           true,
			Listen:            ":8081",
			MaxMessageSize:    64 << 20,
			PermessageDeflate: true,
		},
		RateLimit: RateLimitConfig{
			GlobalRPS:   500,
			GlobalBurst: 1000,
			PerKeyRPS:   20,
			PerKeyBurst: 40,
			CleanupIdle: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			PrettyLogs: true,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "rama",
			SampleRate:  0.1,
		},
	}
}

// Load loads configuration from file and environment variables
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RAMA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have RAMA_CONFIG_FILE env var
		if configFile := os.Getenv("RAMA_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	// The config structs carry yaml tags only, so decode by those names
	// (e.g. "http_proxy") rather than mapstructure's default tag.
	if err := viper.Unmarshal(config, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // Ignore miultiple rapid changes
			}
			lastReload = now

			// looks like on windows this event is triggered
			// before the file is fully written, not sure why
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return config, nil
}
