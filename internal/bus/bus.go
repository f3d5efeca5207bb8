// Package bus carries the asynchronous messages between the background
// delivery worker and foreground contexts. The message set is closed;
// anything outside it is rejected at the publish boundary.
package bus

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/models"
)

type MessageType string

// Worker → foreground.
const (
	MsgNotificationReceived MessageType = "notification-received"
	MsgNotificationClicked  MessageType = "notification-clicked"
	MsgNotificationClosed   MessageType = "notification-closed"
	MsgActionClicked        MessageType = "action-clicked"
	MsgSyncCompleted        MessageType = "sync-completed"
)

// Foreground → worker.
const (
	MsgSkipWaiting       MessageType = "skip-waiting"
	MsgSyncNotifications MessageType = "sync-notifications"
	MsgClearBadge        MessageType = "clear-badge"
	MsgUpdateBadge       MessageType = "update-badge"
)

var knownTypes = map[MessageType]bool{
	MsgNotificationReceived: true,
	MsgNotificationClicked:  true,
	MsgNotificationClosed:   true,
	MsgActionClicked:        true,
	MsgSyncCompleted:        true,
	MsgSkipWaiting:          true,
	MsgSyncNotifications:    true,
	MsgClearBadge:           true,
	MsgUpdateBadge:          true,
}

type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ReceivedData struct {
	Notification models.NotificationRecord `json:"notification"`
	Surfaced     bool                      `json:"surfaced"`
}

type ClickedData struct {
	ID          string `json:"id"`
	ClickTarget string `json:"click_target,omitempty"`
}

type ClosedData struct {
	ID  string `json:"id"`
	Tag string `json:"tag,omitempty"`
}

type ActionClickedData struct {
	ActionID       string `json:"action_id"`
	NotificationID string `json:"notification_id"`
	InputValue     string `json:"input_value,omitempty"`
}

type SyncCompletedData struct {
	Synced int    `json:"synced"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

type BadgeData struct {
	Count int `json:"count"`
}

func NewMessage(t MessageType, data interface{}) Message {
	msg := Message{Type: t}
	if data == nil {
		return msg
	}
	raw, err := json.Marshal(data)
	if err != nil {
		// The payload types above always marshal; a failure here is a
		// programmer error surfaced by the boundary validation in tests.
		return msg
	}
	msg.Data = raw
	return msg
}

type subscriber struct {
	ch chan Message
}

// Bus fans each published message out to every subscriber. Delivery order
// is preserved per subscriber; a subscriber that falls behind loses its
// oldest buffered message rather than blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a listener with the given buffer and returns its
// channel plus a cancel func. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Message, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			// Closed under the lock so a concurrent Publish can never
			// write to a closed channel.
			close(sub.ch)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish validates the message against the closed type set and delivers it
// to all current subscribers without blocking.
func (b *Bus) Publish(msg Message) {
	if !knownTypes[msg.Type] {
		b.logger.Warn().Str("type", string(msg.Type)).Msg("dropping message of unknown type")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			// Drop the oldest so the listener sees the newest state.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
			b.logger.Warn().Str("type", string(msg.Type)).Msg("slow listener, dropped oldest message")
		}
	}
}
