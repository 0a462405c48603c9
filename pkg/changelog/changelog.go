// Package changelog implements the bounded event ring recorded on every
// registry mutation, routing decision, and dispatcher outcome.
package changelog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/r3e-network/coordinator/infrastructure/logging"
)

const defaultCapacity = 1000

// Event is a single changelog entry.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Mirror optionally persists events outside the in-process ring for
// multi-process inspection. The ring remains authoritative; a Mirror
// failure never blocks Record.
type Mirror interface {
	Append(ctx context.Context, event Event) error
}

// Changelog is a bounded ring buffer of Events, overflow evicting the
// oldest entry. It implements registry.ChangeRecorder.
type Changelog struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	next     int
	filled   bool
	mirror   Mirror
	logger   *logging.Logger
}

// New builds a Changelog with the given capacity (defaulting to 1000 when
// capacity <= 0). mirror may be nil.
func New(capacity int, mirror Mirror, logger *logging.Logger) *Changelog {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Changelog{capacity: capacity, events: make([]Event, 0, capacity), mirror: mirror, logger: logger}
}

// Record appends an event. It implements registry.ChangeRecorder's
// Record(eventType, source string, details map[string]interface{}) contract.
func (c *Changelog) Record(eventType, source string, details map[string]interface{}) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	c.mu.Lock()
	if len(c.events) < c.capacity {
		c.events = append(c.events, event)
	} else {
		c.events[c.next] = event
		c.next = (c.next + 1) % c.capacity
		c.filled = true
	}
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.Append(context.Background(), event); err != nil && c.logger != nil {
			c.logger.Warn(context.Background(), "changelog mirror append failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// List returns every retained event, oldest first.
func (c *Changelog) List() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filled {
		out := make([]Event, len(c.events))
		copy(out, c.events)
		return out
	}

	out := make([]Event, 0, c.capacity)
	out = append(out, c.events[c.next:]...)
	out = append(out, c.events[:c.next]...)
	return out
}

// Search returns events matching predicate, oldest first.
func (c *Changelog) Search(predicate func(Event) bool) []Event {
	var out []Event
	for _, e := range c.List() {
		if predicate(e) {
			out = append(out, e)
		}
	}
	return out
}

// RedisMirror mirrors events into a capped Redis list via go-redis/v9.
type RedisMirror struct {
	client  *redis.Client
	key     string
	maxLen  int64
}

// NewRedisMirror builds a RedisMirror against storeURL (a standard redis://
// connection string), capping the mirrored list at maxLen entries.
func NewRedisMirror(storeURL, key string, maxLen int64) (*RedisMirror, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = "coordinator:changelog"
	}
	if maxLen <= 0 {
		maxLen = defaultCapacity
	}
	return &RedisMirror{client: redis.NewClient(opts), key: key, maxLen: maxLen}, nil
}

// Append pushes event onto the mirrored list, trimming it to maxLen.
func (m *RedisMirror) Append(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, m.key, raw)
	pipe.LTrim(ctx, m.key, 0, m.maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
