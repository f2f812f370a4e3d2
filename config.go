package nimbus

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatVerbosity controls which heartbeat outcomes get announced to
// listeners. See heartbeat.go.
type HeartbeatVerbosity int

const (
	HeartbeatVerbosityNone HeartbeatVerbosity = iota
	HeartbeatVerbosityFailures
	HeartbeatVerbosityAll
)

// ReconnectionPolicyKind selects the backoff shape used by the polling
// Reconnection Controller. See reconnection.go.
type ReconnectionPolicyKind int

const (
	ReconnectionLinear ReconnectionPolicyKind = iota
	ReconnectionExponential
)

// Config is the tunable surface of a Manager. Zero value is usable; use
// DefaultConfig for sensible non-zero defaults.
type Config struct {
	// HeartbeatInterval is the period between heartbeat firings, used as-is
	// as the ticker period; 0 disables the scheduler entirely.
	HeartbeatInterval time.Duration
	// HeartbeatVerbosity selects which heartbeat outcomes are announced.
	HeartbeatVerbosity HeartbeatVerbosity

	// RequestMessageCountThreshold, if non-nil, announces
	// CategoryRequestMessageCountExceeded whenever a response carries at
	// least this many messages.
	RequestMessageCountThreshold *int

	// FilterExpression is passed through to every Subscribe call unmodified.
	FilterExpression string

	// SuppressLeaveEvents disables the best-effort Leave call issued on
	// unsubscribe and presence changes.
	SuppressLeaveEvents bool

	// StartSubscriberThread controls whether NewManager starts the
	// Dispatcher's drain goroutine immediately.
	StartSubscriberThread bool

	// ReconnectionPolicy and MaxReconnectionAttempts configure the polling
	// Reconnection Controller.
	ReconnectionPolicy      ReconnectionPolicyKind
	MaxReconnectionAttempts int

	// DuplicationFilterCapacity bounds the Duplication Filter's identity set.
	DuplicationFilterCapacity int

	// Logger receives structured diagnostics. A nil Logger is replaced with
	// zap.NewNop() so callers never need a nil check.
	Logger *zap.Logger
}

// DefaultConfig returns a Config matching the defaults of the reference
// implementation this engine's wire behavior is modeled on.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:         0,
		HeartbeatVerbosity:        HeartbeatVerbosityNone,
		SuppressLeaveEvents:       false,
		StartSubscriberThread:     true,
		ReconnectionPolicy:        ReconnectionExponential,
		MaxReconnectionAttempts:   10,
		DuplicationFilterCapacity: 100,
		Logger:                    zap.NewNop(),
	}
}

func (c *Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Option mutates a Config at Manager construction time, mirroring the
// teacher's ClientOption idiom.
type Option func(*Config)

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = interval }
}

func WithHeartbeatVerbosity(v HeartbeatVerbosity) Option {
	return func(c *Config) { c.HeartbeatVerbosity = v }
}

func WithRequestMessageCountThreshold(n int) Option {
	return func(c *Config) { c.RequestMessageCountThreshold = &n }
}

func WithFilterExpression(expr string) Option {
	return func(c *Config) { c.FilterExpression = expr }
}

func WithSuppressLeaveEvents(suppress bool) Option {
	return func(c *Config) { c.SuppressLeaveEvents = suppress }
}

func WithStartSubscriberThread(start bool) Option {
	return func(c *Config) { c.StartSubscriberThread = start }
}

func WithReconnectionPolicy(policy ReconnectionPolicyKind, maxAttempts int) Option {
	return func(c *Config) {
		c.ReconnectionPolicy = policy
		c.MaxReconnectionAttempts = maxAttempts
	}
}

func WithDuplicationFilterCapacity(capacity int) Option {
	return func(c *Config) { c.DuplicationFilterCapacity = capacity }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}
