package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags a message exchanged between a page session and the
// background worker.
type MessageType string

// Page to worker.
const (
	MessageSkipWaiting          MessageType = "SKIP_WAITING"
	MessageShowNotification     MessageType = "SHOW_NOTIFICATION"
	MessageClearNotifications   MessageType = "CLEAR_NOTIFICATIONS"
	MessageKeepAlive            MessageType = "KEEP_ALIVE"
	MessageStartBackgroundFetch MessageType = "START_BACKGROUND_FETCH"
)

// Worker to page.
const (
	MessageBackgroundSyncCompleted MessageType = "BACKGROUND_SYNC_COMPLETED"
	MessageBackgroundFetchComplete MessageType = "BACKGROUND_FETCH_COMPLETE"
	MessageBackgroundFetchFailed   MessageType = "BACKGROUND_FETCH_FAILED"
	MessageKeepAliveAck            MessageType = "KEEP_ALIVE_ACK"
)

// NotificationOptions are the display options of a system notification or
// toast. Sound and vibration are carried for the page to play.
type NotificationOptions struct {
	Body               string `json:"body,omitempty"`
	Icon               string `json:"icon,omitempty"`
	Badge              string `json:"badge,omitempty"`
	Tag                string `json:"tag,omitempty"`
	URL                string `json:"url,omitempty"`
	RequireInteraction bool   `json:"requireInteraction,omitempty"`
	Priority           string `json:"priority,omitempty"`
	Duration           int    `json:"duration,omitempty"`
	Sound              string `json:"sound,omitempty"`
	Vibration          []int  `json:"vibration,omitempty"`
	Color              string `json:"color,omitempty"`
}

// Message is the tagged union shared by sessions and the worker. Which fields
// are meaningful depends on Type; Validate enforces the required ones.
type Message struct {
	Type      MessageType          `json:"type"`
	ClientID  string               `json:"clientId,omitempty"`
	Title     string               `json:"title,omitempty"`
	Options   *NotificationOptions `json:"options,omitempty"`
	Tag       string               `json:"tag,omitempty"`
	URLs      []string             `json:"urls,omitempty"`
	Timestamp int64                `json:"timestamp,omitempty"`
	Error     string               `json:"error,omitempty"`

	// Reply, when set, receives the worker's answer to KEEP_ALIVE.
	Reply chan<- Message `json:"-"`
}

var ErrUnknownMessage = errors.New("unknown message type")

// Validate checks that m carries the fields its type requires.
func (m Message) Validate() error {
	switch m.Type {
	case MessageSkipWaiting, MessageKeepAlive:
		return nil
	case MessageShowNotification:
		if m.Title == "" {
			return fmt.Errorf("%s: missing title", m.Type)
		}
		return nil
	case MessageClearNotifications:
		if m.Tag == "" {
			return fmt.Errorf("%s: missing tag", m.Type)
		}
		return nil
	case MessageStartBackgroundFetch:
		if len(m.URLs) == 0 {
			return fmt.Errorf("%s: missing urls", m.Type)
		}
		return nil
	case MessageBackgroundSyncCompleted, MessageBackgroundFetchComplete, MessageBackgroundFetchFailed, MessageKeepAliveAck:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// ParseMessage decodes and validates a JSON message.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
