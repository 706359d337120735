package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/homardcloud/cronos/internal/model"
)

// ProtocolVersion is the only version this daemon currently speaks.
const ProtocolVersion = 1

// ErrInvalidMessage wraps framing/JSON parse failures and unknown message
// or query kinds encountered while decoding. The server compares with
// errors.Is to map a decode failure to ErrorCodeInvalidMessage.
var ErrInvalidMessage = errors.New("proto: invalid message")

// Message is the envelope every frame carries.
type Message struct {
	Version uint8
	ID      string
	Kind    MessageKind
}

// MessageKind is the closed set of message payloads. Each concrete type
// below implements it; switch on the concrete type (not a string tag) to
// dispatch.
type MessageKind interface {
	messageKindType() string
}

// Collector -> Engine

type EmitEvent struct{ Event model.Event }

func (EmitEvent) messageKindType() string { return "emit_event" }

type CollectorHandshake struct {
	Name             string
	CollectorVersion string
	Source           model.CollectorSource
}

func (CollectorHandshake) messageKindType() string { return "collector_handshake" }

type Heartbeat struct{}

func (Heartbeat) messageKindType() string { return "heartbeat" }

// Client -> Engine

type Query struct{ Query QueryRequest }

func (Query) messageKindType() string { return "query" }

type Status struct{}

func (Status) messageKindType() string { return "status" }

type ListCollectors struct{}

func (ListCollectors) messageKindType() string { return "list_collectors" }

type SetTrackingPaused struct{ Paused bool }

func (SetTrackingPaused) messageKindType() string { return "set_tracking_paused" }

// Engine -> Client

type TrackingStatus struct{ Paused bool }

func (TrackingStatus) messageKindType() string { return "tracking_status" }

type Ack struct{ RequestID string }

func (Ack) messageKindType() string { return "ack" }

type ErrorMessage struct {
	RequestID string
	Code      ErrorCode
	Message   string
}

func (ErrorMessage) messageKindType() string { return "error" }

type QueryResult struct{ Response QueryResponse }

func (QueryResult) messageKindType() string { return "query_result" }

type StatusResult struct{ Info StatusInfo }

func (StatusResult) messageKindType() string { return "status_result" }

type CollectorList struct{ Collectors []CollectorInfo }

func (CollectorList) messageKindType() string { return "collector_list" }

// ErrorCode is the closed set of error codes an Error message may carry.
type ErrorCode string

const (
	ErrorCodeInvalidMessage ErrorCode = "invalid_message"
	ErrorCodeInternalError  ErrorCode = "internal_error"
	ErrorCodeNotFound       ErrorCode = "not_found"
	ErrorCodeBadRequest     ErrorCode = "bad_request"
)

// QueryRequest wraps the dispatched query kind.
type QueryRequest struct{ Kind QueryKind }

// QueryKind is the closed set of query shapes a Query message may carry.
type QueryKind interface {
	queryKindType() string
}

type SearchQuery struct {
	Text  string
	Limit uint32
}

func (SearchQuery) queryKindType() string { return "search" }

type TimelineQuery struct {
	From model.Timestamp
	To   model.Timestamp
}

func (TimelineQuery) queryKindType() string { return "timeline" }

type RelatedQuery struct {
	EntityID model.EntityId
	Depth    uint8
}

func (RelatedQuery) queryKindType() string { return "related" }

type RecentQuery struct{ Limit uint32 }

func (RecentQuery) queryKindType() string { return "recent" }

type SessionsQuery struct {
	From  model.Timestamp
	To    model.Timestamp
	Limit uint32
}

func (SessionsQuery) queryKindType() string { return "sessions" }

type DaySummaryQuery struct{ Date string }

func (DaySummaryQuery) queryKindType() string { return "day_summary" }

// QueryResponse carries parallel result lists; kinds the query didn't
// touch are left empty rather than nil-omitted, except Sessions which is
// only ever populated by Sessions/DaySummary queries.
type QueryResponse struct {
	Entities []model.Entity `json:"entities"`
	Edges    []model.Edge   `json:"edges"`
	Events   []model.Event  `json:"events"`
	Sessions []SessionInfo  `json:"sessions,omitempty"`
}

// SessionInfo is a Session as returned across the protocol boundary.
type SessionInfo struct {
	ID           string          `json:"id"`
	AppName      string          `json:"app_name"`
	WindowTitles []string        `json:"window_titles"`
	Project      *string         `json:"project,omitempty"`
	Category     string          `json:"category"`
	StartTime    model.Timestamp `json:"start_time"`
	EndTime      model.Timestamp `json:"end_time"`
	DurationSecs int64           `json:"duration_secs"`
	EventCount   int64           `json:"event_count"`
}

// StatusInfo answers a Status request.
type StatusInfo struct {
	UptimeSecs          uint64 `json:"uptime_secs"`
	EntityCount         uint64 `json:"entity_count"`
	EdgeCount           uint64 `json:"edge_count"`
	EventCount          uint64 `json:"event_count"`
	ConnectedCollectors uint32 `json:"connected_collectors"`
}

// CollectorInfo tracks one collector's handshake/heartbeat state.
type CollectorInfo struct {
	Name          string                `json:"name"`
	Source        model.CollectorSource `json:"source"`
	Connected     bool                  `json:"connected"`
	LastHeartbeat *model.Timestamp      `json:"last_heartbeat,omitempty"`
	EventsSent    uint64                `json:"events_sent"`
}

// NewMessage builds a Message at the current protocol version.
func NewMessage(id string, kind MessageKind) *Message {
	return &Message{Version: ProtocolVersion, ID: id, Kind: kind}
}

// NewAck builds an Ack message echoing requestID.
func NewAck(requestID string) *Message {
	return NewMessage(requestID, Ack{RequestID: requestID})
}

// NewError builds an Error message echoing requestID.
func NewError(requestID string, code ErrorCode, message string) *Message {
	return NewMessage(requestID, ErrorMessage{RequestID: requestID, Code: code, Message: message})
}

// MarshalJSON renders the envelope as {"version","id","kind":{"type":...}}.
func (m Message) MarshalJSON() ([]byte, error) {
	kindJSON, err := marshalKind(m.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Version uint8           `json:"version"`
		ID      string          `json:"id"`
		Kind    json.RawMessage `json:"kind"`
	}{m.Version, m.ID, kindJSON})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var wire struct {
		Version uint8           `json:"version"`
		ID      string          `json:"id"`
		Kind    json.RawMessage `json:"kind"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	kind, err := unmarshalKind(wire.Kind)
	if err != nil {
		return err
	}
	m.Version = wire.Version
	m.ID = wire.ID
	m.Kind = kind
	return nil
}

func marshalKind(k MessageKind) (json.RawMessage, error) {
	switch v := k.(type) {
	case EmitEvent:
		return json.Marshal(struct {
			Type  string      `json:"type"`
			Event model.Event `json:"event"`
		}{"emit_event", v.Event})
	case CollectorHandshake:
		return json.Marshal(struct {
			Type             string                `json:"type"`
			Name             string                `json:"name"`
			CollectorVersion string                `json:"collector_version"`
			Source           model.CollectorSource `json:"source"`
		}{"collector_handshake", v.Name, v.CollectorVersion, v.Source})
	case Heartbeat:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"heartbeat"})
	case Query:
		return json.Marshal(struct {
			Type  string       `json:"type"`
			Query QueryRequest `json:"query"`
		}{"query", v.Query})
	case Status:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"status"})
	case ListCollectors:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"list_collectors"})
	case SetTrackingPaused:
		return json.Marshal(struct {
			Type   string `json:"type"`
			Paused bool   `json:"paused"`
		}{"set_tracking_paused", v.Paused})
	case TrackingStatus:
		return json.Marshal(struct {
			Type   string `json:"type"`
			Paused bool   `json:"paused"`
		}{"tracking_status", v.Paused})
	case Ack:
		return json.Marshal(struct {
			Type      string `json:"type"`
			RequestID string `json:"request_id"`
		}{"ack", v.RequestID})
	case ErrorMessage:
		return json.Marshal(struct {
			Type      string    `json:"type"`
			RequestID string    `json:"request_id"`
			Code      ErrorCode `json:"code"`
			Message   string    `json:"message"`
		}{"error", v.RequestID, v.Code, v.Message})
	case QueryResult:
		return json.Marshal(struct {
			Type     string        `json:"type"`
			Response QueryResponse `json:"response"`
		}{"query_result", v.Response})
	case StatusResult:
		return json.Marshal(struct {
			Type string     `json:"type"`
			Info StatusInfo `json:"info"`
		}{"status_result", v.Info})
	case CollectorList:
		return json.Marshal(struct {
			Type       string          `json:"type"`
			Collectors []CollectorInfo `json:"collectors"`
		}{"collector_list", v.Collectors})
	default:
		return nil, fmt.Errorf("proto: unknown message kind %T", k)
	}
}

func unmarshalKind(raw json.RawMessage) (MessageKind, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch tag.Type {
	case "emit_event":
		var v struct {
			Event model.Event `json:"event"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return EmitEvent{Event: v.Event}, nil
	case "collector_handshake":
		var v struct {
			Name             string                `json:"name"`
			CollectorVersion string                `json:"collector_version"`
			Source           model.CollectorSource `json:"source"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return CollectorHandshake{Name: v.Name, CollectorVersion: v.CollectorVersion, Source: v.Source}, nil
	case "heartbeat":
		return Heartbeat{}, nil
	case "query":
		var v struct {
			Query QueryRequest `json:"query"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return Query{Query: v.Query}, nil
	case "status":
		return Status{}, nil
	case "list_collectors":
		return ListCollectors{}, nil
	case "set_tracking_paused":
		var v struct {
			Paused bool `json:"paused"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return SetTrackingPaused{Paused: v.Paused}, nil
	case "tracking_status":
		var v struct {
			Paused bool `json:"paused"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return TrackingStatus{Paused: v.Paused}, nil
	case "ack":
		var v struct {
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return Ack{RequestID: v.RequestID}, nil
	case "error":
		var v struct {
			RequestID string    `json:"request_id"`
			Code      ErrorCode `json:"code"`
			Message   string    `json:"message"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return ErrorMessage{RequestID: v.RequestID, Code: v.Code, Message: v.Message}, nil
	case "query_result":
		var v struct {
			Response QueryResponse `json:"response"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return QueryResult{Response: v.Response}, nil
	case "status_result":
		var v struct {
			Info StatusInfo `json:"info"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return StatusResult{Info: v.Info}, nil
	case "collector_list":
		var v struct {
			Collectors []CollectorInfo `json:"collectors"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return CollectorList{Collectors: v.Collectors}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message kind %q", ErrInvalidMessage, tag.Type)
	}
}

// MarshalJSON/UnmarshalJSON for QueryRequest wrap its kind the same way
// Message wraps MessageKind.
func (q QueryRequest) MarshalJSON() ([]byte, error) {
	kindJSON, err := marshalQueryKind(q.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Kind json.RawMessage `json:"kind"`
	}{kindJSON})
}

func (q *QueryRequest) UnmarshalJSON(b []byte) error {
	var wire struct {
		Kind json.RawMessage `json:"kind"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	kind, err := unmarshalQueryKind(wire.Kind)
	if err != nil {
		return err
	}
	q.Kind = kind
	return nil
}

func marshalQueryKind(k QueryKind) (json.RawMessage, error) {
	switch v := k.(type) {
	case SearchQuery:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			Limit uint32 `json:"limit"`
		}{"search", v.Text, v.Limit})
	case TimelineQuery:
		return json.Marshal(struct {
			Type string          `json:"type"`
			From model.Timestamp `json:"from"`
			To   model.Timestamp `json:"to"`
		}{"timeline", v.From, v.To})
	case RelatedQuery:
		return json.Marshal(struct {
			Type     string         `json:"type"`
			EntityID model.EntityId `json:"entity_id"`
			Depth    uint8          `json:"depth"`
		}{"related", v.EntityID, v.Depth})
	case RecentQuery:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Limit uint32 `json:"limit"`
		}{"recent", v.Limit})
	case SessionsQuery:
		return json.Marshal(struct {
			Type  string          `json:"type"`
			From  model.Timestamp `json:"from"`
			To    model.Timestamp `json:"to"`
			Limit uint32          `json:"limit"`
		}{"sessions", v.From, v.To, v.Limit})
	case DaySummaryQuery:
		return json.Marshal(struct {
			Type string `json:"type"`
			Date string `json:"date"`
		}{"day_summary", v.Date})
	default:
		return nil, fmt.Errorf("proto: unknown query kind %T", k)
	}
}

func unmarshalQueryKind(raw json.RawMessage) (QueryKind, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch tag.Type {
	case "search":
		var v struct {
			Text  string `json:"text"`
			Limit uint32 `json:"limit"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return SearchQuery{Text: v.Text, Limit: v.Limit}, nil
	case "timeline":
		var v struct {
			From model.Timestamp `json:"from"`
			To   model.Timestamp `json:"to"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return TimelineQuery{From: v.From, To: v.To}, nil
	case "related":
		var v struct {
			EntityID model.EntityId `json:"entity_id"`
			Depth    uint8          `json:"depth"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return RelatedQuery{EntityID: v.EntityID, Depth: v.Depth}, nil
	case "recent":
		var v struct {
			Limit uint32 `json:"limit"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return RecentQuery{Limit: v.Limit}, nil
	case "sessions":
		var v struct {
			From  model.Timestamp `json:"from"`
			To    model.Timestamp `json:"to"`
			Limit uint32          `json:"limit"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return SessionsQuery{From: v.From, To: v.To, Limit: v.Limit}, nil
	case "day_summary":
		var v struct {
			Date string `json:"date"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return DaySummaryQuery{Date: v.Date}, nil
	default:
		return nil, fmt.Errorf("%w: unknown query kind %q", ErrInvalidMessage, tag.Type)
	}
}
