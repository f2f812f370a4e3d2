package nimbus

import (
	"encoding/json"
	"sync"
)

type channelEntry struct {
	subscribedWithPresence bool
	state                  json.RawMessage
}

// Registry is the authoritative set of subscribed channels/groups, their
// per-entry state blobs, and the temporarily-unavailable subset. One mutex
// guards every map, one accessor method per concern — grounded on the
// teacher's MemoryStorage shape (offline.go).
type Registry struct {
	mu sync.Mutex

	channels      map[string]*channelEntry
	groups        map[string]*channelEntry
	unavailableCh map[string]struct{}
	unavailableGr map[string]struct{}
}

func newRegistry() *Registry {
	return &Registry{
		channels:      make(map[string]*channelEntry),
		groups:        make(map[string]*channelEntry),
		unavailableCh: make(map[string]struct{}),
		unavailableGr: make(map[string]struct{}),
	}
}

// registrySubscribeOp adds or refreshes channels/groups in the registry.
type registrySubscribeOp struct {
	Channels      []string
	ChannelGroups []string
	WithPresence  bool
	State         map[string]json.RawMessage
}

func (r *Registry) ApplySubscribe(op registrySubscribeOp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range op.Channels {
		e := r.channels[ch]
		if e == nil {
			e = &channelEntry{}
			r.channels[ch] = e
		}
		if op.WithPresence {
			e.subscribedWithPresence = true
		}
		if s, ok := op.State[ch]; ok {
			e.state = s
		}
	}
	for _, gr := range op.ChannelGroups {
		e := r.groups[gr]
		if e == nil {
			e = &channelEntry{}
			r.groups[gr] = e
		}
		if op.WithPresence {
			e.subscribedWithPresence = true
		}
		if s, ok := op.State[gr]; ok {
			e.state = s
		}
	}
}

// registryUnsubscribeOp removes channels/groups from the registry
// entirely, along with any temporarily-unavailable marker they carried.
type registryUnsubscribeOp struct {
	Channels      []string
	ChannelGroups []string
}

func (r *Registry) ApplyUnsubscribe(op registryUnsubscribeOp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range op.Channels {
		delete(r.channels, ch)
		delete(r.unavailableCh, ch)
	}
	for _, gr := range op.ChannelGroups {
		delete(r.groups, gr)
		delete(r.unavailableGr, gr)
	}
}

// registryPresenceOp toggles the presence-mirror flag for existing
// entries, and creates presence-only entries when Connected is true and
// none existed.
type registryPresenceOp struct {
	Channels      []string
	ChannelGroups []string
	Connected     bool
}

func (r *Registry) ApplyPresence(op registryPresenceOp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range op.Channels {
		if op.Connected {
			e := r.channels[ch]
			if e == nil {
				e = &channelEntry{}
				r.channels[ch] = e
			}
			e.subscribedWithPresence = true
		} else if e := r.channels[ch]; e != nil {
			e.subscribedWithPresence = false
		}
	}
	for _, gr := range op.ChannelGroups {
		if op.Connected {
			e := r.groups[gr]
			if e == nil {
				e = &channelEntry{}
				r.groups[gr] = e
			}
			e.subscribedWithPresence = true
		} else if e := r.groups[gr]; e != nil {
			e.subscribedWithPresence = false
		}
	}
}

// StateOp attaches an opaque state blob to a set of existing channels/groups.
type StateOp struct {
	Channels      []string
	ChannelGroups []string
	State         json.RawMessage
}

func (r *Registry) ApplyState(op StateOp) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range op.Channels {
		if e := r.channels[ch]; e != nil {
			e.state = op.State
		}
	}
	for _, gr := range op.ChannelGroups {
		if e := r.groups[gr]; e != nil {
			e.state = op.State
		}
	}
}

// IsEmpty reports whether nothing is subscribed at all.
func (r *Registry) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels) == 0 && len(r.groups) == 0
}

// HasAnythingToSubscribe reports whether there is at least one channel or
// group that isn't temporarily unavailable.
func (r *Registry) HasAnythingToSubscribe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.channels {
		if _, unavailable := r.unavailableCh[ch]; !unavailable {
			return true
		}
	}
	for gr := range r.groups {
		if _, unavailable := r.unavailableGr[gr]; !unavailable {
			return true
		}
	}
	return false
}

// SubscribedToOnlyTemporaryUnavailable reports whether every subscribed
// channel and group is currently marked temporarily unavailable. This is
// the signal for the loop to sleep instead of issuing a no-op request.
func (r *Registry) SubscribedToOnlyTemporaryUnavailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 && len(r.groups) == 0 {
		return false
	}
	for ch := range r.channels {
		if _, unavailable := r.unavailableCh[ch]; !unavailable {
			return false
		}
	}
	for gr := range r.groups {
		if _, unavailable := r.unavailableGr[gr]; !unavailable {
			return false
		}
	}
	return true
}

func (r *Registry) AddTemporaryUnavailableChannels(channels []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range channels {
		if _, ok := r.channels[ch]; ok {
			r.unavailableCh[ch] = struct{}{}
		}
	}
}

func (r *Registry) AddTemporaryUnavailableGroups(groups []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gr := range groups {
		if _, ok := r.groups[gr]; ok {
			r.unavailableGr[gr] = struct{}{}
		}
	}
}

func (r *Registry) RemoveTemporaryUnavailableChannels(channels []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range channels {
		delete(r.unavailableCh, ch)
	}
}

func (r *Registry) RemoveTemporaryUnavailableGroups(groups []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gr := range groups {
		delete(r.unavailableGr, gr)
	}
}

func (r *Registry) ResetTemporaryUnavailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailableCh = make(map[string]struct{})
	r.unavailableGr = make(map[string]struct{})
}

// EffectiveChannels is the subscribed set plus presence-mirror channels,
// minus temporarily-unavailable channels. This is what the loop actually
// requests.
func (r *Registry) EffectiveChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for ch, e := range r.channels {
		if _, unavailable := r.unavailableCh[ch]; unavailable {
			continue
		}
		out = append(out, ch)
		if e.subscribedWithPresence {
			out = append(out, ch+"-pnpres")
		}
	}
	return out
}

func (r *Registry) EffectiveChannelGroups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for gr, e := range r.groups {
		if _, unavailable := r.unavailableGr[gr]; unavailable {
			continue
		}
		out = append(out, gr)
		if e.subscribedWithPresence {
			out = append(out, gr+"-pnpres")
		}
	}
	return out
}

// TargetChannels returns the plain subscribed channel set, ignoring
// temporary unavailability, optionally including presence mirrors. Used for
// presence/leave/heartbeat listings and getSubscribedChannels.
func (r *Registry) TargetChannels(withPresence bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for ch, e := range r.channels {
		out = append(out, ch)
		if withPresence && e.subscribedWithPresence {
			out = append(out, ch+"-pnpres")
		}
	}
	return out
}

func (r *Registry) TargetChannelGroups(withPresence bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for gr, e := range r.groups {
		out = append(out, gr)
		if withPresence && e.subscribedWithPresence {
			out = append(out, gr+"-pnpres")
		}
	}
	return out
}

// CreateStatePayload returns channel/group name to state blob for every
// entry carrying one.
func (r *Registry) CreateStatePayload() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for ch, e := range r.channels {
		if e.state != nil {
			out[ch] = e.state
		}
	}
	for gr, e := range r.groups {
		if e.state != nil {
			out[gr] = e.state
		}
	}
	return out
}
