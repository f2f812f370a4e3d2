package nimbus

// Category classifies the outcome of a Subscribe, Heartbeat, or Leave call.
// The Subscribe Loop dispatches on these values (see loop.go).
type Category int

const (
	// CategoryUnknown is the zero value; never produced by a transport.
	CategoryUnknown Category = iota
	// CategoryAcknowledgment marks a successful, non-error response.
	CategoryAcknowledgment
	// CategoryConnected is synthesized locally the first time a channel-mix
	// episode receives a successful response.
	CategoryConnected
	// CategoryReconnected is announced when polling reconnection succeeds.
	CategoryReconnected
	// CategoryReconnectionAttemptsExhausted is announced when the
	// Reconnection Controller hits its attempt cap.
	CategoryReconnectionAttemptsExhausted
	// CategoryTimeout is a normal long-poll timeout; retried silently.
	CategoryTimeout
	// CategoryUnexpectedDisconnect is a hard transport failure.
	CategoryUnexpectedDisconnect
	// CategoryBadRequest is a fatal client configuration error.
	CategoryBadRequest
	// CategoryURITooLong is a fatal client configuration error.
	CategoryURITooLong
	// CategoryAccessDenied marks a per-channel/group authorization failure.
	CategoryAccessDenied
	// CategoryRequestMessageCountExceeded is announced when a response
	// carries at least Config.RequestMessageCountThreshold messages.
	CategoryRequestMessageCountExceeded
)

func (c Category) String() string {
	switch c {
	case CategoryAcknowledgment:
		return "Acknowledgment"
	case CategoryConnected:
		return "Connected"
	case CategoryReconnected:
		return "Reconnected"
	case CategoryReconnectionAttemptsExhausted:
		return "ReconnectionAttemptsExhausted"
	case CategoryTimeout:
		return "Timeout"
	case CategoryUnexpectedDisconnect:
		return "UnexpectedDisconnect"
	case CategoryBadRequest:
		return "BadRequest"
	case CategoryURITooLong:
		return "URITooLong"
	case CategoryAccessDenied:
		return "AccessDenied"
	case CategoryRequestMessageCountExceeded:
		return "RequestMessageCountExceeded"
	default:
		return "Unknown"
	}
}

// Status is the event announced to listeners and returned alongside every
// Subscribe/Heartbeat/Leave call. Only a subset of fields survive the
// public projection performed before a status reaches user listeners
// (see projectPublicStatus).
type Status struct {
	Category              Category
	Error                 bool
	StatusCode            int
	AuthKey               string
	Operation             string
	AffectedChannels      []string
	AffectedChannelGroups []string
	ClientRequest         any
	Origin                string
	TLSEnabled            bool
}

// projectPublicStatus forwards only the fields spec.md §4.8.2 names.
// Category and Error are set by the caller after projection.
func projectPublicStatus(src Status) Status {
	return Status{
		StatusCode:            src.StatusCode,
		AuthKey:               src.AuthKey,
		Operation:             src.Operation,
		AffectedChannels:      src.AffectedChannels,
		AffectedChannelGroups: src.AffectedChannelGroups,
		ClientRequest:         src.ClientRequest,
		Origin:                src.Origin,
		TLSEnabled:            src.TLSEnabled,
	}
}

// publicStatusWithCategory projects src and assigns category/error, the two
// fields the caller (not the transport) owns per §4.8.2.
func publicStatusWithCategory(src Status, category Category) Status {
	ps := projectPublicStatus(src)
	ps.Category = category
	ps.Error = src.Error
	return ps
}
