package nimbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeHeartbeatCaller struct {
	mu             sync.Mutex
	calls          int
	resp           *Status
	err            error
	lastChannels   []string
	lastGroups     []string
}

func (f *fakeHeartbeatCaller) Heartbeat(ctx context.Context, channels, groups []string) (*Status, error) {
	f.mu.Lock()
	f.calls++
	f.lastChannels = append([]string(nil), channels...)
	f.lastGroups = append([]string(nil), groups...)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeHeartbeatCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeHeartbeatCaller) lastRequest() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChannels, f.lastGroups
}

func TestHeartbeatSchedulerSkipsWhenRegistryEmpty(t *testing.T) {
	caller := &fakeHeartbeatCaller{resp: &Status{Category: CategoryAcknowledgment}}
	registry := newRegistry()
	h := newHeartbeatScheduler(caller, registry, newListenerRegistry(), Config{
		HeartbeatInterval: 10 * time.Millisecond,
		Logger:            zap.NewNop(),
	})

	h.Register()
	time.Sleep(30 * time.Millisecond)
	h.Stop()

	assert.Equal(t, 0, caller.callCount())
}

func TestHeartbeatSchedulerFiresWhileSubscribed(t *testing.T) {
	caller := &fakeHeartbeatCaller{resp: &Status{Category: CategoryAcknowledgment}}
	registry := newRegistry()
	registry.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})

	h := newHeartbeatScheduler(caller, registry, newListenerRegistry(), Config{
		HeartbeatInterval: 10 * time.Millisecond,
		Logger:            zap.NewNop(),
	})

	h.Register()
	time.Sleep(35 * time.Millisecond)
	h.Stop()

	assert.GreaterOrEqual(t, caller.callCount(), 2, "immediate fire plus at least one tick")
}

func TestHeartbeatSchedulerUsesPlainChannelNamesNotPresenceMirror(t *testing.T) {
	caller := &fakeHeartbeatCaller{resp: &Status{Category: CategoryAcknowledgment}}
	registry := newRegistry()
	registry.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}, WithPresence: true})

	h := newHeartbeatScheduler(caller, registry, newListenerRegistry(), Config{
		HeartbeatInterval: 10 * time.Millisecond,
		Logger:            zap.NewNop(),
	})

	h.Register()
	time.Sleep(15 * time.Millisecond)
	h.Stop()

	channels, _ := h.caller.(*fakeHeartbeatCaller).lastRequest()
	assert.Equal(t, []string{"room-1"}, channels, "heartbeat must use the plain channel name, not its presence mirror")
}

func TestHeartbeatSchedulerStopsOnErrorStatus(t *testing.T) {
	caller := &fakeHeartbeatCaller{resp: &Status{Category: CategoryAccessDenied, Error: true}}
	registry := newRegistry()
	registry.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})

	listeners := newListenerRegistry()
	var mu sync.Mutex
	var announced []Status
	listeners.Add(&Listener{OnStatus: func(s Status) { mu.Lock(); announced = append(announced, s); mu.Unlock() }})

	h := newHeartbeatScheduler(caller, registry, listeners, Config{
		HeartbeatInterval:  10 * time.Millisecond,
		HeartbeatVerbosity: HeartbeatVerbosityFailures,
		Logger:             zap.NewNop(),
	})

	h.Register()
	time.Sleep(50 * time.Millisecond)
	callsAtStop := caller.callCount()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, callsAtStop, caller.callCount(), "scheduler self-stops after the first error")
	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, announced)
	assert.Equal(t, CategoryAccessDenied, announced[0].Category)
}

func TestHeartbeatSchedulerVerbosityNoneSuppressesSuccessAnnouncements(t *testing.T) {
	caller := &fakeHeartbeatCaller{resp: &Status{Category: CategoryAcknowledgment}}
	registry := newRegistry()
	registry.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})

	listeners := newListenerRegistry()
	calls := 0
	listeners.Add(&Listener{OnStatus: func(Status) { calls++ }})

	h := newHeartbeatScheduler(caller, registry, listeners, Config{
		HeartbeatInterval:  10 * time.Millisecond,
		HeartbeatVerbosity: HeartbeatVerbosityNone,
		Logger:             zap.NewNop(),
	})

	h.Register()
	time.Sleep(30 * time.Millisecond)
	h.Stop()

	assert.Equal(t, 0, calls)
}
