package nimbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transport bundles the three abstract collaborators the Subscribe Loop
// needs (§6) plus the cheap probe the Reconnection Controller polls with.
// *Client implements it; so can a hand-rolled fake for tests.
type Transport interface {
	SubscribeCaller
	HeartbeatCaller
	LeaveCaller
	ProbeCaller
}

// Manager is the Subscription Manager facade (§4.9): it serializes builder
// mutations under one lock and wires the Registry, Duplication Filter,
// Message Queue/Dispatcher, Listener Registry, Heartbeat Scheduler, and
// Reconnection/Delayed-Reconnection controllers together. Grounded
// directly on SubscriptionManager.java's public method surface.
type Manager struct {
	mu sync.Mutex // facade lock; registry lock nests inside it, never the reverse

	registry     *Registry
	dup          *duplicationFilter
	queue        *messageQueue
	dispatcher   *dispatcher
	listeners    *ListenerRegistry
	heartbeat    *heartbeatScheduler
	reconnection *reconnectionController
	delayed      *delayedReconnection

	subscribeCaller SubscribeCaller
	leaveCaller     LeaveCaller

	cfg    Config
	logger *zap.Logger

	// Loop State (§3), guarded by mu.
	connected                   bool
	timetoken                   int64
	storedTimetoken             *int64
	region                      string
	subscriptionStatusAnnounced bool
	subscribeCancel             context.CancelFunc
	subscribeGen                uint64

	destroyed bool
}

// NewManager wires a Manager around transport. The manager starts
// disconnected with an empty registry, matching §3's lifecycle.
func NewManager(transport Transport, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger()

	m := &Manager{
		registry:        newRegistry(),
		dup:             newDuplicationFilter(cfg.DuplicationFilterCapacity),
		queue:           newMessageQueue(),
		listeners:       newListenerRegistry(),
		subscribeCaller: transport,
		leaveCaller:     transport,
		cfg:             cfg,
		logger:          logger,
		delayed:         newDelayedReconnection(defaultDelayedReconnectDelay),
	}
	m.dispatcher = newDispatcher(m.queue, m.dup, m.listeners, logger)
	m.heartbeat = newHeartbeatScheduler(transport, m.registry, m.listeners, cfg)
	m.reconnection = newReconnectionController(transport, cfg.ReconnectionPolicy, cfg.MaxReconnectionAttempts, m, logger)

	if cfg.StartSubscriberThread {
		m.dispatcher.Start()
	}
	return m
}

// AddListener registers l to receive status/message/presence events.
func (m *Manager) AddListener(l *Listener) {
	m.listeners.Add(l)
}

// RemoveListener unregisters l.
func (m *Manager) RemoveListener(l *Listener) {
	m.listeners.Remove(l)
}

// SubscribeOp describes a subscribe builder mutation.
type SubscribeOp struct {
	Channels      []string
	ChannelGroups []string
	WithPresence  bool
	State         map[string]json.RawMessage
	// Timetoken, if set, overrides the normal preserve-into-storedTimetoken
	// cursor policy: the loop resumes from exactly this cursor.
	Timetoken *int64
}

// Subscribe applies op to the registry and restarts the loop (§4.9).
func (m *Manager) Subscribe(op SubscribeOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}

	m.registry.ApplySubscribe(registrySubscribeOp{
		Channels:      op.Channels,
		ChannelGroups: op.ChannelGroups,
		WithPresence:  op.WithPresence,
		State:         op.State,
	})
	m.dup.Clear()
	m.subscriptionStatusAnnounced = false

	if op.Timetoken != nil {
		m.timetoken = *op.Timetoken
	} else {
		if m.timetoken != 0 {
			t := m.timetoken
			m.storedTimetoken = &t
		}
		m.timetoken = 0
	}

	m.reconnectLocked()
}

// UnsubscribeOp describes an unsubscribe builder mutation.
type UnsubscribeOp struct {
	Channels      []string
	ChannelGroups []string
}

// Unsubscribe removes channels/groups, applies the unsubscribe cursor
// policy, optionally dispatches Leave, and restarts the loop (§4.9).
func (m *Manager) Unsubscribe(op UnsubscribeOp) {
	m.mu.Lock()

	m.registry.ApplyUnsubscribe(registryUnsubscribeOp{Channels: op.Channels, ChannelGroups: op.ChannelGroups})
	m.dup.Clear()
	m.subscriptionStatusAnnounced = false

	if m.registry.IsEmpty() {
		m.region = ""
		m.storedTimetoken = nil
		m.timetoken = 0
	} else {
		t := m.timetoken
		m.storedTimetoken = &t
		m.timetoken = 0
	}

	destroyed := m.destroyed
	m.mu.Unlock()

	m.maybeLeave(op.Channels, op.ChannelGroups)

	if !destroyed {
		m.mu.Lock()
		m.reconnectLocked()
		m.mu.Unlock()
	}
}

// UnsubscribeAll is sugar over Unsubscribe with the full current target
// lists (supplemented from the original source — not a separate code path).
func (m *Manager) UnsubscribeAll() {
	channels := m.registry.TargetChannels(false)
	groups := m.registry.TargetChannelGroups(false)
	m.Unsubscribe(UnsubscribeOp{Channels: channels, ChannelGroups: groups})
}

// PresenceStateOp attaches an opaque state blob to channels/groups.
type PresenceStateOp struct {
	Channels      []string
	ChannelGroups []string
	State         json.RawMessage
}

// SetPresenceState updates per-channel/group state without changing the
// subscription mix.
func (m *Manager) SetPresenceState(op PresenceStateOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.ApplyState(StateOp{Channels: op.Channels, ChannelGroups: op.ChannelGroups, State: op.State})
}

// PresenceConnectedOp joins or leaves the presence mirror for a set of
// channels/groups.
type PresenceConnectedOp struct {
	Channels      []string
	ChannelGroups []string
	Connected     bool
}

// SetPresenceConnected joins/leaves presence, optionally dispatching Leave,
// and restarts the loop (§4.9).
func (m *Manager) SetPresenceConnected(op PresenceConnectedOp) {
	m.mu.Lock()

	m.registry.ApplyPresence(registryPresenceOp{Channels: op.Channels, ChannelGroups: op.ChannelGroups, Connected: op.Connected})
	m.dup.Clear()
	m.subscriptionStatusAnnounced = false

	if m.timetoken != 0 {
		t := m.timetoken
		m.storedTimetoken = &t
	}
	m.timetoken = 0

	destroyed := m.destroyed
	m.mu.Unlock()

	if !op.Connected {
		m.maybeLeave(op.Channels, op.ChannelGroups)
	}

	if !destroyed {
		m.mu.Lock()
		m.reconnectLocked()
		m.mu.Unlock()
	}
}

// maybeLeave dispatches a best-effort Leave call, subject to
// Config.SuppressLeaveEvents, suppressing the announcement (not the call)
// when the Leave itself comes back access-denied (§7).
func (m *Manager) maybeLeave(channels, groups []string) {
	if m.cfg.SuppressLeaveEvents || (len(channels) == 0 && len(groups) == 0) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status, err := m.leaveCaller.Leave(ctx, channels, groups)
		if err != nil || status == nil || status.Category == CategoryAccessDenied {
			return
		}
		m.listeners.AnnounceStatus(publicStatusWithCategory(*status, status.Category))
	}()
}

// Reconnect sets connected=true, restarts the loop, and re-registers the
// heartbeat timer (§4.9(e)).
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectLocked()
}

func (m *Manager) reconnectLocked() {
	if m.destroyed {
		return
	}
	m.connected = true
	m.reconnection.Cancel()
	m.startSubscribeLoop()
	m.heartbeat.Register()
}

// Disconnect tears down all timers and cancels the outstanding call (§3).
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
	m.reconnection.Cancel()
}

// disconnectLocked implements the disconnect() contract of §5, used both by
// the public Disconnect() and by the loop's hard-failure handling (which
// follows it with reconnection.Start() for CategoryUnexpectedDisconnect).
func (m *Manager) disconnectLocked() {
	m.connected = false
	m.cancelSubscribeCallLocked()
	m.heartbeat.Stop()
	m.delayed.Cancel()
	m.registry.ResetTemporaryUnavailable()
}

// Destroy additionally terminates the Dispatcher when force is true.
func (m *Manager) Destroy(force bool) {
	m.mu.Lock()
	m.destroyed = true
	m.disconnectLocked()
	m.reconnection.Cancel()
	m.mu.Unlock()

	if force {
		m.dispatcher.Stop()
	}
}

// GetSubscribedChannels returns the target (presence-mirror-free) channel
// list, per the original source's prepareTargetChannelList(false).
func (m *Manager) GetSubscribedChannels() []string {
	return m.registry.TargetChannels(false)
}

// GetSubscribedChannelGroups returns the target channel-group list.
func (m *Manager) GetSubscribedChannelGroups() []string {
	return m.registry.TargetChannelGroups(false)
}

// onReconnection implements ReconnectionListener. Affected channels/groups
// are recomputed at announce time, not captured at disconnect time — a
// detail easy to miss from the distilled spec alone, preserved from the
// original source.
func (m *Manager) onReconnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	channels := m.registry.TargetChannels(true)
	groups := m.registry.TargetChannelGroups(true)
	m.connected = true
	m.startSubscribeLoop()
	m.heartbeat.Register()
	m.announce(&Status{Category: CategoryReconnected, Operation: "subscribe", AffectedChannels: channels, AffectedChannelGroups: groups}, CategoryReconnected)
}

// onMaxReconnectionExhaustion implements ReconnectionListener.
func (m *Manager) onMaxReconnectionExhaustion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announce(&Status{Category: CategoryReconnectionAttemptsExhausted, Operation: "subscribe"}, CategoryReconnectionAttemptsExhausted)
}
