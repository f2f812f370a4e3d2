package nimbus

import (
	"context"

	"go.uber.org/zap"
)

// The Subscribe Loop is not a separate type: its state (connected,
// timetoken, storedTimetoken, region, subscriptionStatusAnnounced,
// subscribeCancel/subscribeGen) lives directly on Manager and is guarded by
// the same facade lock, per §5's nested-locking discipline. This file holds
// the loop's algorithm as Manager methods, grounded directly on
// SubscriptionManager.java's startSubscribeLoop/response-handler switch.
//
// Every restart is a goroutine launch or a timer callback — never a direct
// call from within a response handler — so an unbroken run of responses
// never grows the call stack (Design Notes §9).

// startSubscribeLoop is step 1-4 of §4.8. Precondition: m.mu held,
// m.connected == true.
func (m *Manager) startSubscribeLoop() {
	m.cancelSubscribeCallLocked()

	// SubscribedToOnlyTemporaryUnavailable must be checked before
	// HasAnythingToSubscribe: a channel set that is entirely unavailable
	// makes HasAnythingToSubscribe false too, and would otherwise return
	// here before ever scheduling the retry.
	if m.registry.SubscribedToOnlyTemporaryUnavailable() {
		m.delayed.Schedule(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.connected {
				// Give every unavailable channel/group another chance rather
				// than re-checking the same now-stale unavailable set, which
				// would just reschedule forever without ever probing again.
				m.registry.ResetTemporaryUnavailable()
				m.startSubscribeLoop()
			}
		})
		return
	}
	if !m.registry.HasAnythingToSubscribe() {
		return
	}

	channels := m.registry.EffectiveChannels()
	groups := m.registry.EffectiveChannelGroups()
	state := m.registry.CreateStatePayload()

	req := SubscribeRequest{
		Channels:         channels,
		ChannelGroups:    groups,
		Timetoken:        m.timetoken,
		Region:           m.region,
		FilterExpression: m.cfg.FilterExpression,
		State:            state,
	}

	m.subscribeGen++
	gen := m.subscribeGen
	ctx, cancel := context.WithCancel(context.Background())
	m.subscribeCancel = cancel

	m.logger.Debug("issuing subscribe",
		zap.Int("channel_count", len(channels)),
		zap.Int("group_count", len(groups)),
		zap.Int64("timetoken", req.Timetoken),
		zap.String("region", req.Region),
	)

	go m.runSubscribeCall(ctx, gen, req)
}

// cancelSubscribeCallLocked cancels the outstanding subscribe call, if any.
// Cancellation is silent: the in-flight runSubscribeCall goroutine checks
// ctx.Err() before touching any Manager state, so no status is announced
// for a call cancelled this way. Precondition: m.mu held.
func (m *Manager) cancelSubscribeCallLocked() {
	if m.subscribeCancel != nil {
		m.subscribeCancel()
		m.subscribeCancel = nil
	}
}

// runSubscribeCall issues the long-poll outside the facade lock (the
// suspension point of §5) and re-enters under the lock to handle the
// result.
func (m *Manager) runSubscribeCall(ctx context.Context, gen uint64, req SubscribeRequest) {
	envelope, status, err := m.subscribeCaller.Subscribe(ctx, req)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.subscribeGen {
		// Superseded by a newer call; this response is stale.
		return
	}
	m.subscribeCancel = nil

	if err != nil {
		m.handleSubscribeResult(nil, &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "subscribe"})
		return
	}
	m.handleSubscribeResult(envelope, status)
}

// handleSubscribeResult is step 5 of §4.8: the category routing table.
// Precondition: m.mu held.
func (m *Manager) handleSubscribeResult(envelope *SubscribeEnvelope, status *Status) {
	switch status.Category {
	case CategoryAcknowledgment:
		m.handleSubscribeSuccess(envelope, status)

	case CategoryTimeout:
		m.startSubscribeLoop()

	case CategoryUnexpectedDisconnect:
		m.disconnectLocked()
		m.announce(status, CategoryUnexpectedDisconnect)
		m.reconnection.Start()

	case CategoryBadRequest:
		m.disconnectLocked()
		m.announce(status, CategoryBadRequest)

	case CategoryURITooLong:
		m.disconnectLocked()
		m.announce(status, CategoryURITooLong)

	case CategoryAccessDenied:
		m.announce(status, CategoryAccessDenied)
		affected := len(status.AffectedChannels) > 0 || len(status.AffectedChannelGroups) > 0
		if affected {
			m.registry.AddTemporaryUnavailableChannels(status.AffectedChannels)
			m.registry.AddTemporaryUnavailableGroups(status.AffectedChannelGroups)
			m.startSubscribeLoop()
		}

	default:
		m.announce(status, status.Category)
		m.delayed.Schedule(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.connected {
				m.startSubscribeLoop()
			}
		})
	}
}

// handleSubscribeSuccess is §4.8.1. Precondition: m.mu held.
func (m *Manager) handleSubscribeSuccess(envelope *SubscribeEnvelope, status *Status) {
	if len(status.AffectedChannels) > 0 {
		m.registry.RemoveTemporaryUnavailableChannels(status.AffectedChannels)
	}
	if len(status.AffectedChannelGroups) > 0 {
		m.registry.RemoveTemporaryUnavailableGroups(status.AffectedChannelGroups)
	}

	if !m.subscriptionStatusAnnounced {
		m.subscriptionStatusAnnounced = true
		m.announce(status, CategoryConnected)
	}

	if m.cfg.RequestMessageCountThreshold != nil && len(envelope.Messages) >= *m.cfg.RequestMessageCountThreshold {
		m.announce(status, CategoryRequestMessageCountExceeded)
	}

	if len(envelope.Messages) > 0 {
		m.queue.Push(envelope.Messages)
	}

	if m.storedTimetoken != nil {
		m.timetoken = *m.storedTimetoken
		m.storedTimetoken = nil
	} else {
		m.timetoken = envelope.Metadata.Timetoken
	}
	m.region = envelope.Metadata.Region

	m.startSubscribeLoop()
}

// announce projects status and fans it out with the given category,
// matching §4.8.2's public-status projection rule.
func (m *Manager) announce(status *Status, category Category) {
	m.listeners.AnnounceStatus(publicStatusWithCategory(*status, category))
}
