package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeMasking is emitted once per masked payload
	EventTypeMasking EventType = "masking"
	// EventTypeConfigReload is emitted when the rule set is swapped
	EventTypeConfigReload EventType = "config_reload"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// MaskingEvent describes one masking call. Payload content is never
// included.
type MaskingEvent struct {
	RequestID         string  `json:"request_id"`
	TransactionID     string  `json:"transaction_id"`
	PayloadType       string  `json:"payload_type"`
	ResolvedLabel     string  `json:"resolved_label"`
	Processor         string  `json:"processor"`
	AttributesApplied int     `json:"attributes_applied"`
	InputBytes        int     `json:"input_bytes"`
	OutputBytes       int     `json:"output_bytes"`
	DurationMS        float64 `json:"duration_ms"`
	CacheHit          bool    `json:"cache_hit"`
}

// ConfigReloadEvent reports a rule set reload
type ConfigReloadEvent struct {
	Fingerprint       string `json:"fingerprint,omitempty"`
	RuleTypes         int    `json:"rule_types"`
	NamespaceMappings int    `json:"namespace_mappings"`
	Error             string `json:"error,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	RuleTypes        int    `json:"rule_types"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType    `json:"events"`
	Filter *MaskingFilter `json:"filter,omitempty"`
}

// MaskingFilter narrows masking events to the given labels or processors.
// Empty lists match everything.
type MaskingFilter struct {
	Labels     []string `json:"labels,omitempty"`
	Processors []string `json:"processors,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	conn         *websocket.Conn
	send         chan Event
	mu           sync.RWMutex
	subscription *SubscriptionRequest
	lastPing     time.Time
}

func (c *Client) setSubscription(sub *SubscriptionRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = sub
}

func (c *Client) wants(event Event) bool {
	c.mu.RLock()
	sub := c.subscription
	c.mu.RUnlock()

	if sub == nil {
		return true
	}

	subscribed := false
	for _, t := range sub.Events {
		if t == event.Type {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return false
	}

	if sub.Filter == nil || event.Type != EventTypeMasking {
		return true
	}
	return sub.Filter.matches(event.Data)
}

func (f *MaskingFilter) matches(data interface{}) bool {
	var ev MaskingEvent
	switch v := data.(type) {
	case MaskingEvent:
		ev = v
	case *MaskingEvent:
		ev = *v
	default:
		return true
	}
	return contains(f.Labels, ev.ResolvedLabel) && contains(f.Processors, ev.Processor)
}

func contains(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
