package config

import "time"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	HTTPProxy HTTPProxyConfig  `yaml:"http_proxy"`
	SOCKS5    SOCKS5Config     `yaml:"socks5"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Logging   LoggingConfig    `yaml:"logging"`
	Tracing   TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds the control-plane listener configuration (C11).
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins restricts cross-origin access to /stats and
	// /debug/tunnels to origins matching one of these glob patterns
	// (e.g. "https://*.internal.example.com"). Empty means "*".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// UnifiedProxyListen, if set, opens one additional listener that
	// peeks each connection's first bytes and routes it to either the
	// HTTP proxy or the SOCKS5 core by protocol, instead of requiring a
	// client to know which dedicated port to dial. Leave empty to keep
	// HTTPProxy.Listen and SOCKS5.Listen as separate, protocol-specific
	// ports.
	UnifiedProxyListen string `yaml:"unified_proxy_listen"`
}

// HTTPProxyConfig configures the forward/reverse HTTP proxy listener (C6).
type HTTPProxyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Listen            string        `yaml:"listen"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	MaxBodySize       int64         `yaml:"max_body_size"`

	// RoutePrefix, when set, mounts the forward-proxy path under this
	// prefix (e.g. "/forward") and strips it before dialling upstream.
	RoutePrefix string `yaml:"route_prefix"`

	MITM MITMConfig      `yaml:"mitm"`
	Auth ProxyAuthConfig `yaml:"auth"`
}

// MITMConfig configures the CA-signed man-in-the-middle interception path.
type MITMConfig struct {
	Enabled   bool   `yaml:"enabled"`
	CAFile    string `yaml:"ca_file"`
	CAKeyFile string `yaml:"ca_key_file"`
}

// ProxyAuthConfig configures proxy-authentication enforcement.
type ProxyAuthConfig struct {
	Mode      string `yaml:"mode"` // "", "basic", "jwt"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	JWTSecret string `yaml:"jwt_secret"`
}

// SOCKS5Config configures the SOCKS5 listener (C7).
type SOCKS5Config struct {
	Enabled           bool          `yaml:"enabled"`
	Listen            string        `yaml:"listen"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	BindTimeout       time.Duration `yaml:"bind_timeout"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`

	// AllowedTargets restricts CONNECT/BIND/UDP-ASSOCIATE destinations to
	// host:port patterns matching one of these globs; empty means
	// unrestricted.
	AllowedTargets []string `yaml:"allowed_targets"`
}

// WebSocketConfig configures the WebSocket listener (C8).
type WebSocketConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Listen            string `yaml:"listen"`
	MaxMessageSize    int64  `yaml:"max_message_size"`
	PermessageDeflate bool   `yaml:"permessage_deflate"`
}

// UpstreamConfig describes one authority the proxy cores may dial,
// tracked by internal/upstream.Pool.
type UpstreamConfig struct {
	Name          string        `yaml:"name"`
	Addr          string        `yaml:"addr"`
	HealthPath    string        `yaml:"health_path"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// RateLimitConfig configures the Limit policy (C9).
type RateLimitConfig struct {
	GlobalRPS   float64       `yaml:"global_rps"`
	GlobalBurst int           `yaml:"global_burst"`
	PerKeyRPS   float64       `yaml:"per_key_rps"`
	PerKeyBurst int           `yaml:"per_key_burst"`
	CleanupIdle time.Duration `yaml:"cleanup_idle"`

	RedisAddr   string        `yaml:"redis_addr"`
	RedisWindow time.Duration `yaml:"redis_window"`
	RedisLimit  int64         `yaml:"redis_limit"`

	// TrustProxyHeaders, when true, derives the per-key limiter identity
	// from X-Forwarded-For/X-Real-IP instead of the raw TCP peer, but only
	// for connections whose peer address falls within TrustedCIDRs.
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedCIDRs      []string `yaml:"trusted_cidrs"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	PrettyLogs bool   `yaml:"pretty_logs"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// TracingConfig configures the OpenTelemetry span Layer (C10).
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}
