package nimbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// heartbeatScheduler fires a heartbeat every Config.HeartbeatInterval while
// connected, first fire immediate. Grounded on the teacher's heartbeatLoop/
// Ping pattern in realtime.go, generalized from a fixed WS ping-pong to the
// HeartbeatCaller contract over the registry's plain target channel/group set.
//
// It owns its own mutex rather than sharing the facade lock: firing only
// reads the Registry (under the registry's own lock) and never touches
// Manager state directly, so it doesn't need the broader lock.
type heartbeatScheduler struct {
	mu       sync.Mutex
	caller   HeartbeatCaller
	registry *Registry
	listeners *ListenerRegistry
	interval time.Duration
	verbosity HeartbeatVerbosity
	logger   *zap.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
}

func newHeartbeatScheduler(caller HeartbeatCaller, registry *Registry, listeners *ListenerRegistry, cfg Config) *heartbeatScheduler {
	return &heartbeatScheduler{
		caller:    caller,
		registry:  registry,
		listeners: listeners,
		interval:  cfg.HeartbeatInterval,
		verbosity: cfg.HeartbeatVerbosity,
		logger:    cfg.logger(),
	}
}

// Register (re)starts the ticker loop, cancelling any previous one. A
// no-op if the interval is zero. Called registerHeartbeatTimer in the
// original source; every builder operation that calls reconnect() calls
// this too.
func (h *heartbeatScheduler) Register() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		<-h.stopped
	}
	if h.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.stopped = make(chan struct{})
	go h.run(ctx, h.stopped)
}

// Stop cancels the ticker loop. Called on disconnect().
func (h *heartbeatScheduler) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	stopped := h.stopped
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (h *heartbeatScheduler) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	if !h.fire(ctx) {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.fire(ctx) {
				return
			}
		}
	}
}

// fire issues one heartbeat call and returns false if the scheduler should
// stop itself (any error self-stops, per the heartbeat error contract).
func (h *heartbeatScheduler) fire(ctx context.Context) bool {
	channels := h.registry.TargetChannels(false)
	groups := h.registry.TargetChannelGroups(false)
	if len(channels) == 0 && len(groups) == 0 {
		return true
	}

	status, err := h.caller.Heartbeat(ctx, channels, groups)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		h.logger.Warn("heartbeat transport error", zap.Error(err))
		return false
	}

	if status.Error {
		if h.verbosity != HeartbeatVerbosityNone {
			h.listeners.AnnounceStatus(publicStatusWithCategory(*status, status.Category))
		}
		h.logger.Warn("heartbeat failed, stopping scheduler", zap.Int("status_code", status.StatusCode))
		return false
	}

	if h.verbosity == HeartbeatVerbosityAll {
		h.listeners.AnnounceStatus(publicStatusWithCategory(*status, CategoryAcknowledgment))
	}
	return true
}
