package api

import "time"

// ServerConfig configures the optional read-only status surface.
// Grounded on the teacher's types.ServerConfig (Host/Port/WebSocketPath/
// timeouts), trimmed to the fields this surface actually uses — no
// MaxConnections/EnableMetrics/MetricsPort, since /metrics is always on
// when this server runs at all.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	WebSocketPath string        `mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`

	// RecentEventsLimit bounds the /api/v1/events response size.
	RecentEventsLimit int `mapstructure:"recent_events_limit"`
}

// DefaultServerConfig mirrors the teacher's server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "0.0.0.0",
		Port:              8090,
		WebSocketPath:     "/ws",
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		RecentEventsLimit: 200,
	}
}
