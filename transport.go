package nimbus

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// wireSubscribeResponse is the HTTP long-poll transport's own JSON shape for
// a Subscribe response. It is this expansion's wire format, not a port of
// any particular server's envelope — only the Subscribe/Heartbeat/Leave
// *contracts* are grounded on the original source.
type wireSubscribeResponse struct {
	Messages []wireMessage `json:"messages"`
	Metadata struct {
		Timetoken int64  `json:"timetoken"`
		Region    string `json:"region"`
	} `json:"metadata"`
}

type wireMessage struct {
	Channel           string          `json:"channel"`
	SubscriptionMatch string          `json:"subscription_match"`
	Shard             string          `json:"shard"`
	Type              int             `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	UserMetadata      json.RawMessage `json:"user_metadata"`
	IssuingClientID   string          `json:"issuing_client_id"`
	PublishTimetoken  int64           `json:"publish_timetoken"`
	Region            string          `json:"region"`
}

type wireStatus struct {
	Category              string   `json:"category"`
	Error                 bool     `json:"error"`
	StatusCode            int      `json:"status_code"`
	AuthKey               string   `json:"auth_key"`
	Operation             string   `json:"operation"`
	AffectedChannels      []string `json:"affected_channels"`
	AffectedChannelGroups []string `json:"affected_channel_groups"`
	Origin                string   `json:"origin"`
	TLSEnabled            bool     `json:"tls_enabled"`
}

func categoryFromWire(s string) Category {
	switch s {
	case "acknowledgment":
		return CategoryAcknowledgment
	case "timeout":
		return CategoryTimeout
	case "unexpected_disconnect":
		return CategoryUnexpectedDisconnect
	case "bad_request":
		return CategoryBadRequest
	case "uri_too_long":
		return CategoryURITooLong
	case "access_denied":
		return CategoryAccessDenied
	default:
		return CategoryUnexpectedDisconnect
	}
}

func (w wireStatus) toStatus(req *http.Request) Status {
	return Status{
		Category:              categoryFromWire(w.Category),
		Error:                 w.Error,
		StatusCode:            w.StatusCode,
		AuthKey:               w.AuthKey,
		Operation:             w.Operation,
		AffectedChannels:      w.AffectedChannels,
		AffectedChannelGroups: w.AffectedChannelGroups,
		ClientRequest:         req,
		Origin:                w.Origin,
		TLSEnabled:            w.TLSEnabled,
	}
}

// Subscribe implements SubscribeCaller over the long-poll HTTP endpoint.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeEnvelope, *Status, error) {
	requestID := uuid.New().String()

	query := map[string]string{
		"channel":       joinCSV(req.Channels),
		"channel-group": joinCSV(req.ChannelGroups),
		"tt":            strconv.FormatInt(req.Timetoken, 10),
		"tr":            req.Region,
		"request_id":    requestID,
	}
	if req.FilterExpression != "" {
		query["filter-expr"] = req.FilterExpression
	}
	if stateValue, err := stateQueryValue(req.State); err != nil {
		return nil, nil, err
	} else if stateValue != "" {
		query["state"] = stateValue
	}

	body, resp, err := c.doRequest(ctx, "GET", "/v2/subscribe", query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "subscribe"}, nil
	}

	var wire struct {
		wireSubscribeResponse
		Status *wireStatus `json:"status,omitempty"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "subscribe"}, nil
	}

	if wire.Status != nil && wire.Status.Error {
		status := wire.Status.toStatus(resp.Request)
		return nil, &status, nil
	}

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

	status := Status{Category: CategoryAcknowledgment, Operation: "subscribe", ClientRequest: resp.Request}
	return envelope, &status, nil
}

// Heartbeat implements HeartbeatCaller.
func (c *Client) Heartbeat(ctx context.Context, channels, groups []string) (*Status, error) {
	query := map[string]string{
		"channel":       joinCSV(channels),
		"channel-group": joinCSV(groups),
	}
	body, resp, err := c.doRequest(ctx, "GET", "/v2/presence/heartbeat", query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "heartbeat"}, nil
	}

	var wire struct {
		Status *wireStatus `json:"status,omitempty"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "heartbeat"}, nil
	}
	if wire.Status != nil && wire.Status.Error {
		status := wire.Status.toStatus(resp.Request)
		return &status, nil
	}
	return &Status{Category: CategoryAcknowledgment, Operation: "heartbeat", ClientRequest: resp.Request}, nil
}

// Leave implements LeaveCaller.
func (c *Client) Leave(ctx context.Context, channels, groups []string) (*Status, error) {
	query := map[string]string{
		"channel":       joinCSV(channels),
		"channel-group": joinCSV(groups),
	}
	body, resp, err := c.doRequest(ctx, "GET", "/v2/presence/leave", query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "leave"}, nil
	}

	var wire struct {
		Status *wireStatus `json:"status,omitempty"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return &Status{Category: CategoryUnexpectedDisconnect, Error: true, Operation: "leave"}, nil
	}
	if wire.Status != nil && wire.Status.Error {
		status := wire.Status.toStatus(resp.Request)
		return &status, nil
	}
	return &Status{Category: CategoryAcknowledgment, Operation: "leave", ClientRequest: resp.Request}, nil
}

// Probe implements ProbeCaller with a cheap time-endpoint call, used by the
// Reconnection Controller's polling loop.
func (c *Client) Probe(ctx context.Context) error {
	_, _, err := c.doRequest(ctx, "GET", "/time", nil)
	return err
}
