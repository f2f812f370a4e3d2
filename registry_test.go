package nimbus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrySubscribeAndEffectiveSets(t *testing.T) {
	t.Run("plain subscribe has no presence mirror", func(t *testing.T) {
		r := newRegistry()
		r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})
		assert.ElementsMatch(t, []string{"room-1"}, r.EffectiveChannels())
	})

	t.Run("with-presence subscribe mirrors into -pnpres", func(t *testing.T) {
		r := newRegistry()
		r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}, WithPresence: true})
		assert.ElementsMatch(t, []string{"room-1", "room-1-pnpres"}, r.EffectiveChannels())
	})

	t.Run("state attaches only to named channels", func(t *testing.T) {
		r := newRegistry()
		state := map[string]json.RawMessage{"room-1": json.RawMessage(`{"mood":"ok"}`)}
		r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1", "room-2"}, State: state})
		payload := r.CreateStatePayload()
		assert.Equal(t, json.RawMessage(`{"mood":"ok"}`), payload["room-1"])
		_, ok := payload["room-2"]
		assert.False(t, ok)
	})
}

func TestRegistryUnsubscribeClearsEverything(t *testing.T) {
	r := newRegistry()
	r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}, WithPresence: true})
	r.AddTemporaryUnavailableChannels([]string{"room-1"})
	r.ApplyUnsubscribe(registryUnsubscribeOp{Channels: []string{"room-1"}})

	assert.True(t, r.IsEmpty())
	assert.Empty(t, r.EffectiveChannels())
}

func TestRegistryTemporaryUnavailability(t *testing.T) {
	r := newRegistry()
	r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1", "room-2"}})

	assert.True(t, r.HasAnythingToSubscribe())
	assert.False(t, r.SubscribedToOnlyTemporaryUnavailable())

	r.AddTemporaryUnavailableChannels([]string{"room-1"})
	assert.True(t, r.HasAnythingToSubscribe(), "room-2 is still available")
	assert.ElementsMatch(t, []string{"room-2"}, r.EffectiveChannels())

	r.AddTemporaryUnavailableChannels([]string{"room-2"})
	assert.False(t, r.HasAnythingToSubscribe())
	assert.True(t, r.SubscribedToOnlyTemporaryUnavailable())

	r.RemoveTemporaryUnavailableChannels([]string{"room-1"})
	assert.True(t, r.HasAnythingToSubscribe())
	assert.False(t, r.SubscribedToOnlyTemporaryUnavailable())
}

func TestRegistryResetTemporaryUnavailable(t *testing.T) {
	r := newRegistry()
	r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})
	r.AddTemporaryUnavailableChannels([]string{"room-1"})
	assert.False(t, r.HasAnythingToSubscribe())

	r.ResetTemporaryUnavailable()
	assert.True(t, r.HasAnythingToSubscribe())
}

func TestRegistryPresenceConnectedToggle(t *testing.T) {
	r := newRegistry()
	r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})

	r.ApplyPresence(registryPresenceOp{Channels: []string{"room-1"}, Connected: true})
	assert.ElementsMatch(t, []string{"room-1", "room-1-pnpres"}, r.EffectiveChannels())

	r.ApplyPresence(registryPresenceOp{Channels: []string{"room-1"}, Connected: false})
	assert.ElementsMatch(t, []string{"room-1"}, r.EffectiveChannels())
}

func TestRegistryPresenceOnlyChannelWithoutPriorSubscribe(t *testing.T) {
	r := newRegistry()
	r.ApplyPresence(registryPresenceOp{Channels: []string{"room-1"}, Connected: true})
	assert.ElementsMatch(t, []string{"room-1"}, r.TargetChannels(false))
	assert.ElementsMatch(t, []string{"room-1", "room-1-pnpres"}, r.TargetChannels(true))
}

func TestRegistryTargetChannelsIgnoresUnavailability(t *testing.T) {
	r := newRegistry()
	r.ApplySubscribe(registrySubscribeOp{Channels: []string{"room-1"}})
	r.AddTemporaryUnavailableChannels([]string{"room-1"})

	assert.Empty(t, r.EffectiveChannels())
	assert.ElementsMatch(t, []string{"room-1"}, r.TargetChannels(false))
}
