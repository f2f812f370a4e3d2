package nimbus

import "encoding/json"

// Metadata pins a message or a response to a point in the server's stream.
type Metadata struct {
	Timetoken int64
	Region    string
}

// MessageKind classifies a RawMessage for dispatcher routing.
type MessageKind int

const (
	MessageKindData MessageKind = iota
	MessageKindSignal
	MessageKindPresence
	MessageKindObject
	MessageKindFile
)

// RawMessage is one entry of a SubscribeEnvelope, exactly as it arrived on
// the wire (still opaque JSON in Payload — decoding is the message worker's
// job, out of scope here).
type RawMessage struct {
	Channel           string
	SubscriptionMatch string
	Shard             string
	Type              MessageKind
	Payload           json.RawMessage
	UserMetadata      json.RawMessage
	IssuingClientID   string
	PublishMetadata   Metadata
}

// Kind reports the message's classification, deriving presence from the
// "-pnpres" channel suffix when Type wasn't already set by the transport.
func (m RawMessage) Kind() MessageKind {
	if m.Type == MessageKindData && isPresenceChannel(m.Channel) {
		return MessageKindPresence
	}
	return m.Type
}

func isPresenceChannel(channel string) bool {
	const suffix = "-pnpres"
	return len(channel) > len(suffix) && channel[len(channel)-len(suffix):] == suffix
}

// SubscribeEnvelope is the decoded body of one Subscribe response.
type SubscribeEnvelope struct {
	Messages []RawMessage
	Metadata Metadata
}

// SubscribeRequest is what the Subscribe Loop hands to a SubscribeCaller for
// each outstanding long-poll.
type SubscribeRequest struct {
	Channels         []string
	ChannelGroups    []string
	Timetoken        int64
	Region           string
	FilterExpression string
	State            map[string]json.RawMessage
}
