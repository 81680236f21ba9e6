package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ProtocolVersion is the version of the client wire contract advertised
// in the connection welcome message.
const ProtocolVersion = "1.0"

// Config holds all configuration for the ASR gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Audio contract. The gateway only accepts little-endian signed 16-bit
	// PCM at this rate; clients resample before sending.
	SampleRate int `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	Channels   int `envconfig:"AUDIO_CHANNELS" default:"1"`

	// Voice activity detection
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for speech
	VADHoldMs          int     `envconfig:"VAD_HOLD_MS" default:"60"`             // Energy must persist this long before onset
	SilenceDurationMs  int     `envconfig:"SILENCE_DURATION_MS" default:"500"`    // Trailing silence that seals a segment
	MaxSegmentSeconds  int     `envconfig:"MAX_SEGMENT_SECONDS" default:"5"`      // Force-seal to bound memory and latency

	// Recognition backend
	BackendURL        string `envconfig:"BACKEND_URL" default:"ws://localhost:8443/v1/recognize"`
	BackendGRPCTarget string `envconfig:"BACKEND_GRPC_TARGET" default:"localhost:50051"` // gRPC health probe target
	BackendMode       string `envconfig:"BACKEND_MODE" default:"real"`                   // real, synthetic
	DegradedFallback  string `envconfig:"DEGRADED_FALLBACK" default:"synthetic"`         // synthetic, reject
	BackendLanguage   string `envconfig:"BACKEND_LANGUAGE" default:"en-US"`
	EnablePartials    bool   `envconfig:"ENABLE_PARTIALS" default:"true"`
	ChunkSizeBytes    int    `envconfig:"BACKEND_CHUNK_SIZE_BYTES" default:"8192"` // Audio write granularity to the backend

	// Timeouts and limits
	ConnectTimeoutSeconds int `envconfig:"BACKEND_CONNECT_TIMEOUT_SECONDS" default:"10"`
	SegmentTimeoutSeconds int `envconfig:"SEGMENT_TIMEOUT_SECONDS" default:"10"` // Bounds time-to-final per segment
	DrainTimeoutSeconds   int `envconfig:"DRAIN_TIMEOUT_SECONDS" default:"30"`   // Bounds waiting for finals at stop
	MaxPendingSegments    int `envconfig:"MAX_PENDING_SEGMENTS" default:"8"`     // Sealed segments queued ahead of the backend
	MaxConnections        int `envconfig:"MAX_CONNECTIONS" default:"100"`
	IdleTimeoutSeconds    int `envconfig:"IDLE_TIMEOUT_SECONDS" default:"60"`  // No inbound traffic closes the connection
	MaxSessionSeconds     int `envconfig:"MAX_SESSION_SECONDS" default:"3600"` // Hard cap on connection lifetime
	MaxMessageSizeMB      int `envconfig:"MAX_MESSAGE_SIZE_MB" default:"10"`
	ShutdownGraceSeconds  int `envconfig:"SHUTDOWN_GRACE_SECONDS" default:"30"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // Milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // Milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that envconfig defaults cannot express
func (c *Config) Validate() error {
	if c.SampleRate != 16000 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be 16000, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("AUDIO_CHANNELS must be 1, got %d", c.Channels)
	}
	switch c.BackendMode {
	case "real", "synthetic":
	default:
		return fmt.Errorf("BACKEND_MODE must be 'real' or 'synthetic', got %q", c.BackendMode)
	}
	switch c.DegradedFallback {
	case "synthetic", "reject":
	default:
		return fmt.Errorf("DEGRADED_FALLBACK must be 'synthetic' or 'reject', got %q", c.DegradedFallback)
	}
	if c.VADEnergyThreshold <= 0 {
		return fmt.Errorf("VAD_ENERGY_THRESHOLD must be positive, got %f", c.VADEnergyThreshold)
	}
	if c.SilenceDurationMs <= 0 {
		return fmt.Errorf("SILENCE_DURATION_MS must be positive, got %d", c.SilenceDurationMs)
	}
	if c.MaxSegmentSeconds <= 0 {
		return fmt.Errorf("MAX_SEGMENT_SECONDS must be positive, got %d", c.MaxSegmentSeconds)
	}
	if c.MaxPendingSegments <= 0 {
		return fmt.Errorf("MAX_PENDING_SEGMENTS must be positive, got %d", c.MaxPendingSegments)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	return nil
}
