package common

import (
	"encoding/json"
	"fmt"
)

// ScheduleParams is the payload of scheduleNotification.
// Timestamp is the fire instant in epoch milliseconds.
type ScheduleParams struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// CancelParams is the payload of cancelNotification.
type CancelParams struct {
	ID string `json:"id"`
}

// UpdateCacheParams is the (empty) payload of updateCache.
type UpdateCacheParams struct{}

// CheckParams is the payload of checkForUpdates.
type CheckParams struct {
	IsInitialLoad bool `json:"isInitialLoad"`
}

// HelloParams is the payload of client.hello.
type HelloParams struct {
	URL string `json:"url"`
}

// CacheUpdatedEvent is broadcast after the runtime cache was purged.
type CacheUpdatedEvent struct {
	Timestamp  int64 `json:"timestamp"`
	HasUpdates bool  `json:"hasUpdates"`
}

// CacheCheckEvent is broadcast after an update check, as either
// cacheUpdatedWithChanges or cacheChecked.
type CacheCheckEvent struct {
	Timestamp     int64    `json:"timestamp"`
	HasUpdates    bool     `json:"hasUpdates"`
	UpdatedURLs   []string `json:"updatedUrls"`
	IsInitialLoad bool     `json:"isInitialLoad"`
}

// FocusEvent asks a foreground instance to bring a timer to the front.
type FocusEvent struct {
	CountdownID string `json:"countdownId"`
}

// StatusResult is the reply to agent.status.
type StatusResult struct {
	Version      string   `json:"version"`
	CacheVersion string   `json:"cacheVersion"`
	Caches       []string `json:"caches"`
	ArmedTasks   []string `json:"armedTasks"`
	Clients      int      `json:"clients"`
}

// Message is the tagged form of an inbound message: an action discriminator
// followed by the action's fields at the same level, e.g.
//
//	{"action":"cancelNotification","id":"abc"}
type Message struct {
	Action Action
	Raw    json.RawMessage
}

// ParseMessage decodes a tagged message and keeps the raw object so the
// dispatcher can decode the action-specific fields.
func ParseMessage(b []byte) (*Message, error) {
	var head struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if head.Action == "" {
		return nil, fmt.Errorf("parse message: missing action")
	}
	return &Message{Action: head.Action, Raw: json.RawMessage(b)}, nil
}
