package nimbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopUnexpectedDisconnectTriggersReconnectionToReconnected(t *testing.T) {
	transport := newFakeTransport()
	manager := NewManager(transport)
	defer manager.Destroy(true)
	manager.reconnection.baseDelay = time.Millisecond
	manager.reconnection.maxDelay = 10 * time.Millisecond

	listener, rec := newRecordingListener()
	manager.AddListener(listener)
	manager.Subscribe(SubscribeOp{Channels: []string{"room-1"}})

	go transport.push(subscribeResult{status: &Status{Category: CategoryUnexpectedDisconnect, Error: true}})

	require.Eventually(t, func() bool {
		return hasCategory(rec.statusesSnapshot(), CategoryUnexpectedDisconnect)
	}, time.Second, 2*time.Millisecond)

	manager.mu.Lock()
	connected := manager.connected
	manager.mu.Unlock()
	assert.False(t, connected, "disconnectLocked must flip connected to false")

	require.Eventually(t, func() bool {
		return hasCategory(rec.statusesSnapshot(), CategoryReconnected)
	}, time.Second, 2*time.Millisecond)

	manager.mu.Lock()
	connected = manager.connected
	manager.mu.Unlock()
	assert.True(t, connected)

	go transport.push(subscribeResult{status: &Status{Category: CategoryTimeout}})
	require.Eventually(t, func() bool {
		return transport.subscribeCallCount() >= 2
	}, time.Second, 2*time.Millisecond)
}

func TestLoopBadRequestIsTerminal(t *testing.T) {
	transport := newFakeTransport()
	manager := NewManager(transport)
	defer manager.Destroy(true)

	listener, rec := newRecordingListener()
	manager.AddListener(listener)
	manager.Subscribe(SubscribeOp{Channels: []string{"room-1"}})

	go transport.push(subscribeResult{status: &Status{Category: CategoryBadRequest, Error: true}})

	require.Eventually(t, func() bool {
		return hasCategory(rec.statusesSnapshot(), CategoryBadRequest)
	}, time.Second, 2*time.Millisecond)

	callsAfterBadRequest := transport.subscribeCallCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, callsAfterBadRequest, transport.subscribeCallCount(), "a bad request must not restart the loop")

	manager.mu.Lock()
	connected := manager.connected
	manager.mu.Unlock()
	assert.False(t, connected)
}

func TestLoopAllTemporarilyUnavailableSleepsThenRetriesOnce(t *testing.T) {
	transport := newFakeTransport()
	manager := NewManager(transport)
	defer manager.Destroy(true)
	manager.delayed.delay = 20 * time.Millisecond

	listener, rec := newRecordingListener()
	manager.AddListener(listener)
	manager.Subscribe(SubscribeOp{Channels: []string{"room-1"}})

	require.Eventually(t, func() bool {
		return transport.subscribeCallCount() >= 1
	}, time.Second, 2*time.Millisecond)

	go transport.push(subscribeResult{
		status: &Status{Category: CategoryAccessDenied, Error: true, AffectedChannels: []string{"room-1"}},
	})

	require.Eventually(t, func() bool {
		return hasCategory(rec.statusesSnapshot(), CategoryAccessDenied)
	}, time.Second, 2*time.Millisecond)

	callsAfterAccessDenied := transport.subscribeCallCount()
	assert.ElementsMatch(t, []string{}, manager.registry.EffectiveChannels(), "room-1 is now temporarily unavailable")

	// No further subscribe call while every channel is unavailable, until
	// the delayed retry fires.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, callsAfterAccessDenied, transport.subscribeCallCount())

	// The delayed retry issues exactly one call; the timeout it receives
	// restarts the loop once more, so the count settles at +2.
	go transport.push(subscribeResult{status: &Status{Category: CategoryTimeout}})
	require.Eventually(t, func() bool {
		return transport.subscribeCallCount() == callsAfterAccessDenied+2
	}, time.Second, 2*time.Millisecond)
}

func TestLoopSilentCancelProducesNoStatus(t *testing.T) {
	transport := newFakeTransport()
	manager := NewManager(transport)
	defer manager.Destroy(true)

	listener, rec := newRecordingListener()
	manager.AddListener(listener)
	manager.Subscribe(SubscribeOp{Channels: []string{"room-1"}})

	require.Eventually(t, func() bool {
		return transport.subscribeCallCount() >= 1
	}, time.Second, 2*time.Millisecond)

	// Superseding the in-flight call must not produce any status event.
	manager.Subscribe(SubscribeOp{Channels: []string{"room-1", "room-2"}})

	go transport.push(subscribeResult{status: &Status{Category: CategoryTimeout}})
	require.Eventually(t, func() bool {
		return transport.subscribeCallCount() >= 2
	}, time.Second, 2*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.statusesSnapshot())
}
