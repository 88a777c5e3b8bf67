// Package broadcast fans clock events out to any number of listeners.
package broadcast

import (
	"sync/atomic"

	"github.com/osa030/timedetector/internal/syncutil"
	"github.com/puzpuzpuz/xsync/v3"
	zlog "github.com/rs/zerolog/log"
)

type NotificationType int

const (
	// NotificationTypeNetworkTimeSet is sent after the clock was set from a
	// source suggestion.
	NotificationTypeNetworkTimeSet NotificationType = iota
	NotificationTypeAutoDetectionChanged
	NotificationTypeThresholdChanged
)

func (t NotificationType) String() string {
	switch t {
	case NotificationTypeNetworkTimeSet:
		return "network-time-set"
	case NotificationTypeAutoDetectionChanged:
		return "auto-detection-changed"
	case NotificationTypeThresholdChanged:
		return "threshold-changed"
	default:
		return "unknown"
	}
}

type Notification struct {
	Type NotificationType
	// TimeMillis is the Unix time the clock was set to.
	TimeMillis int64
	// Enabled is the new automatic detection setting.
	Enabled bool
	// ThresholdMillis is the new update threshold.
	ThresholdMillis int64
}

// Hub delivers every published notification to each subscriber. Delivery
// never blocks: a subscriber whose buffer is full misses the notification.
type Hub struct {
	subscribers *xsync.MapOf[int, chan Notification]
	nextID      atomic.Int64
	// Held for reading while sending so channels are not closed mid-send.
	mu     syncutil.RWMutex
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		subscribers: xsync.NewMapOf[int, chan Notification](),
	}
}

// Subscribe registers a listener with the given buffer size. The channel is
// closed by Unsubscribe or Close.
func (h *Hub) Subscribe(bufferSize int) (<-chan Notification, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := int(h.nextID.Add(1))
	ch := make(chan Notification, bufferSize)
	if h.closed {
		close(ch)
		return ch, id
	}
	h.subscribers.Store(id, ch)
	zlog.Debug().Msgf("broadcast: subscriber %d registered (buffer %d)", id, bufferSize)
	return ch, id
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers.LoadAndDelete(id); ok {
		close(ch)
		zlog.Debug().Msgf("broadcast: subscriber %d unsubscribed", id)
	}
}

// Publish sends n to all subscribers and returns how many received it.
func (h *Hub) Publish(n Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	h.subscribers.Range(func(id int, ch chan Notification) bool {
		select {
		case ch <- n:
			delivered++
		default:
			zlog.Warn().Msgf("broadcast: subscriber %d is full, dropping %v", id, n.Type)
		}
		return true
	})
	return delivered
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	return h.subscribers.Size()
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.subscribers.Range(func(id int, ch chan Notification) bool {
		close(ch)
		h.subscribers.Delete(id)
		return true
	})
}
