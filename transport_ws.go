package nimbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// wsCommand is a client-to-server frame on the persistent socket. Grounded
// on RealtimeCommand (realtime.go); RequestID is how a reply frame is
// matched back to the call that's waiting on it, same idea as
// RealtimeWSClient.pendingPings.
type wsCommand struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload"`
}

// wsFrame is a server-to-client frame. Exactly one of Envelope/Status is
// set for a reply frame; unsolicited frames (Type == "message") carry
// Envelope only and no RequestID.
type wsFrame struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Envelope  *wireSubscribeResponse `json:"envelope,omitempty"`
	Status    *wireStatus            `json:"status,omitempty"`
}

// WSTransport is an alternate transport that keeps one persistent
// connection open and pushes subscribe envelopes down it instead of
// reissuing a long-poll HTTP request per cycle. It still satisfies
// Transport, so a Manager can't tell the difference; only the wire shape
// changes. Grounded on RealtimeWSClient's dial/readLoop/heartbeatLoop
// shape (realtime.go), generalized from typed IM events to the
// Subscribe/Heartbeat/Leave/Probe contracts this engine needs.
type WSTransport struct {
	baseURL      string
	subscribeKey string
	authKey      string
	logger       *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	dialErr  error
	dialing  chan struct{}
	pending  map[string]chan wsFrame
	messages chan wireSubscribeResponse
	closed   bool
}

// WSTransportOption mutates a WSTransport at construction time.
type WSTransportOption func(*WSTransport)

func WithWSBaseURL(url string) WSTransportOption {
	return func(w *WSTransport) { w.baseURL = strings.TrimRight(url, "/") }
}

func WithWSAuthKey(authKey string) WSTransportOption {
	return func(w *WSTransport) { w.authKey = authKey }
}

func WithWSLogger(logger *zap.Logger) WSTransportOption {
	return func(w *WSTransport) { w.logger = logger }
}

// NewWSTransport creates a transport for subscribeKey. The socket is
// dialed lazily on the first call, not here.
func NewWSTransport(subscribeKey string, opts ...WSTransportOption) *WSTransport {
	w := &WSTransport{
		baseURL:      DefaultBaseURL,
		subscribeKey: subscribeKey,
		logger:       zap.NewNop(),
		pending:      make(map[string]chan wsFrame),
		messages:     make(chan wireSubscribeResponse, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// ensureConnected dials once, idempotently, and starts the read loop.
// Concurrent callers block on the same dial attempt via w.dialing.
func (w *WSTransport) ensureConnected(ctx context.Context) error {
	w.mu.Lock()
	if w.conn != nil {
		w.mu.Unlock()
		return nil
	}
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("ws transport closed")
	}
	if w.dialing != nil {
		wait := w.dialing
		w.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		return w.ensureConnected(ctx)
	}
	w.dialing = make(chan struct{})
	w.mu.Unlock()

	wsURL := strings.Replace(w.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/v2/ws?subscribe_key=" + w.subscribeKey
	if w.authKey != "" {
		wsURL += "&auth=" + w.authKey
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)

	w.mu.Lock()
	if err != nil {
		w.dialErr = err
	} else {
		w.conn = conn
	}
	dialing := w.dialing
	w.dialing = nil
	w.mu.Unlock()
	close(dialing)

	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	go w.readLoop(conn)
	return nil
}

// readLoop demultiplexes server frames: reply frames go to the pending
// call that's waiting on RequestID, unsolicited "message" frames are
// queued for the next Subscribe call to pick up.
func (w *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			pending := w.pending
			w.pending = make(map[string]chan wsFrame)
			w.mu.Unlock()
			for _, ch := range pending {
				close(ch)
			}
			return
		}

		var frame wsFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}

		if frame.RequestID != "" {
			w.mu.Lock()
			ch, ok := w.pending[frame.RequestID]
			if ok {
				delete(w.pending, frame.RequestID)
			}
			w.mu.Unlock()
			if ok {
				ch <- frame
			}
			continue
		}

		if frame.Type == "message" && frame.Envelope != nil {
			select {
			case w.messages <- *frame.Envelope:
			default:
				w.logger.Warn("ws message buffer full, dropping envelope")
			}
		}
	}
}

func (w *WSTransport) call(ctx context.Context, cmdType string, payload any) (wsFrame, error) {
	if err := w.ensureConnected(ctx); err != nil {
		return wsFrame{}, err
	}

	requestID := uuid.New().String()
	reply := make(chan wsFrame, 1)

	w.mu.Lock()
	conn := w.conn
	w.pending[requestID] = reply
	w.mu.Unlock()

	if conn == nil {
		return wsFrame{}, fmt.Errorf("ws transport not connected")
	}

	data, err := json.Marshal(wsCommand{Type: cmdType, RequestID: requestID, Payload: payload})
	if err != nil {
		return wsFrame{}, fmt.Errorf("marshal command: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return wsFrame{}, fmt.Errorf("write command: %w", err)
	}

	select {
	case frame, ok := <-reply:
		if !ok {
			return wsFrame{}, fmt.Errorf("ws transport disconnected")
		}
		return frame, nil
	case <-ctx.Done():
		return wsFrame{}, ctx.Err()
	}
}

// Subscribe waits for the next queued envelope if one is already
// buffered, otherwise issues a subscribe command and waits for either a
// pushed message frame or a direct reply (used for error statuses).
func (w *WSTransport) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeEnvelope, *Status, error) {
	select {
	case env := <-w.messages:
		return wsEnvelopeToPublic(env), &Status{Category: CategoryAcknowledgment, Operation: "subscribe"}, nil
	default:
	}

	payload := map[string]any{
		"channel":       joinCSV(req.Channels),
		"channel-group": joinCSV(req.ChannelGroups),
		"tt":            strconv.FormatInt(req.Timetoken, 10),
		"tr":            req.Region,
	}
	if req.FilterExpression != "" {
		payload["filter-expr"] = req.FilterExpression
	}

	frame, err := w.call(ctx, "subscribe", payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "subscribe"}, nil
	}
	if frame.Status != nil && frame.Status.Error {
		status := frame.Status.toStatus(nil)
		return nil, &status, nil
	}
	if frame.Envelope == nil {
		select {
		case env := <-w.messages:
			return wsEnvelopeToPublic(env), &Status{Category: CategoryAcknowledgment, Operation: "subscribe"}, nil
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return wsEnvelopeToPublic(*frame.Envelope), &Status{Category: CategoryAcknowledgment, Operation: "subscribe"}, nil
}

func wsEnvelopeToPublic(wire wireSubscribeResponse) *SubscribeEnvelope {
	envelope := &SubscribeEnvelope{
		Metadata: Metadata{Timetoken: wire.Metadata.Timetoken, Region: wire.Metadata.Region},
	}
	for _, m := range wire.Messages {
		envelope.Messages = append(envelope.Messages, RawMessage{
			Channel:           m.Channel,
			SubscriptionMatch: m.SubscriptionMatch,
			Shard:             m.Shard,
			Type:              MessageKind(m.Type),
			Payload:           m.Payload,
			UserMetadata:      m.UserMetadata,
			IssuingClientID:   m.IssuingClientID,
			PublishMetadata:   Metadata{Timetoken: m.PublishTimetoken, Region: m.Region},
		})
	}
	return envelope
}

// Heartbeat implements HeartbeatCaller over the socket.
func (w *WSTransport) Heartbeat(ctx context.Context, channels, groups []string) (*Status, error) {
	frame, err := w.call(ctx, "heartbeat", map[string]any{
		"channel":       joinCSV(channels),
		"channel-group": joinCSV(groups),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "heartbeat"}, nil
	}
	if frame.Status != nil && frame.Status.Error {
		status := frame.Status.toStatus(nil)
		return &status, nil
	}
	return &Status{Category: CategoryAcknowledgment, Operation: "heartbeat"}, nil
}

// Leave implements LeaveCaller over the socket.
func (w *WSTransport) Leave(ctx context.Context, channels, groups []string) (*Status, error) {
	frame, err := w.call(ctx, "leave", map[string]any{
		"channel":       joinCSV(channels),
		"channel-group": joinCSV(groups),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "leave"}, nil
	}
	if frame.Status != nil && frame.Status.Error {
		status := frame.Status.toStatus(nil)
		return &status, nil
	}
	return &Status{Category: CategoryAcknowledgment, Operation: "leave"}, nil
}

// Probe pings the socket, dialing it if necessary, for the Reconnection
// Controller's polling loop.
func (w *WSTransport) Probe(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := w.call(pingCtx, "ping", nil)
	return err
}

// Close tears down the socket and fails any outstanding call.
func (w *WSTransport) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}
