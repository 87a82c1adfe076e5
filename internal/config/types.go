package config

// Config is the top-level sidecar configuration.
type Config struct {
	Worker   WorkerConfig            `toml:"worker"`
	Timeouts TimeoutConfig           `toml:"timeouts"`
	Protocol ProtocolConfig          `toml:"protocol"`
	Methods  map[string]MethodConfig `toml:"methods,omitempty"`
	Log      LogConfig               `toml:"log"`
	Metrics  MetricsConfig           `toml:"metrics"`
}

// WorkerConfig describes the worker executable.
type WorkerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args,omitempty"`
	Dir     string            `toml:"dir,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`

	// RootMarker, when set, moves the working directory up to the nearest
	// ancestor containing this file.
	RootMarker         string `toml:"root_marker,omitempty"`
	RootMarkerContains string `toml:"root_marker_contains,omitempty"`
}

// TimeoutConfig holds Go duration strings ("120s", "500ms").
type TimeoutConfig struct {
	Call      string `toml:"call,omitempty"`
	Fire      string `toml:"fire,omitempty"`
	Shutdown  string `toml:"shutdown,omitempty"`
	StopGrace string `toml:"stop_grace,omitempty"`
	Idle      string `toml:"idle,omitempty"`
}

// ProtocolConfig names the methods and events the host relies on.
type ProtocolConfig struct {
	// InitMethod is nil for the default; an empty string disables the
	// handshake.
	InitMethod      *string  `toml:"init_method,omitempty"`
	ShutdownMethod  string   `toml:"shutdown_method,omitempty"`
	DisconnectEvent string   `toml:"disconnect_event,omitempty"`
	FireMethods     []string `toml:"fire_methods,omitempty"`
}

// MethodConfig holds per-method overrides.
type MethodConfig struct {
	CacheTTL string `toml:"cache_ttl,omitempty"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"` // text (default) or json
	// File enables a rotated log file; "default" means the state dir.
	File       string `toml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

// DefaultInitMethod is sent right after the worker starts.
const DefaultInitMethod = "initialize"

// Init returns the handshake method, or "" when the handshake is disabled.
func (p ProtocolConfig) Init() string {
	if p.InitMethod == nil {
		return DefaultInitMethod
	}
	return *p.InitMethod
}

// IsFire reports whether method is acknowledged immediately by the worker
// and completes through events.
func (p ProtocolConfig) IsFire(method string) bool {
	for _, m := range p.FireMethods {
		if m == method {
			return true
		}
	}
	return false
}
