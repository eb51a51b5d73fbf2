package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types emitted by progression changes.
const (
	EventSignedUp            = "signed_up"
	EventSubchapterViewed    = "subchapter_viewed"
	EventSubchapterCompleted = "subchapter_completed"
	EventTestSubmitted       = "test_submitted"
	EventCourseFinished      = "course_finished"
	EventCourseLeft          = "course_left"
)

// Event is an analytics record of one progression change.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	CourseID  string         `json:"courseId"`
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error {
	return nil
}

func prepareEvent(event Event) (Event, error) {
	if event.EventType == "" {
		return event, fmt.Errorf("event_type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return event, nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	event, err := prepareEvent(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the progression_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	event, err := prepareEvent(event)
	if err != nil {
		return err
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO progression_events (id, user_id, course_id, event_type, data, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6)`,
		event.ID,
		event.UserID,
		event.CourseID,
		event.EventType,
		string(data),
		event.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"user_id", event.UserID,
		"course_id", event.CourseID,
	)
	return nil
}

// MultiEventLogger forwards every event to all loggers and joins their errors.
type MultiEventLogger []EventLogger

func (m MultiEventLogger) LogEvent(ctx context.Context, event Event) error {
	event, err := prepareEvent(event)
	if err != nil {
		return err
	}
	var errs []error
	for _, l := range m {
		if err := l.LogEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const subscriberBuffer = 16

// Broadcaster fans events out to live subscribers of a user's feed. Slow
// subscribers miss events rather than blocking the writer.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a feed for userID. Call cancel to unsubscribe; the
// channel is closed afterwards.
func (b *Broadcaster) Subscribe(userID string) (events <-chan Event, cancel func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) LogEvent(_ context.Context, event Event) error {
	event, err := prepareEvent(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.UserID] {
		select {
		case ch <- event:
		default:
			slog.Warn("dropping event for slow subscriber", "user_id", event.UserID, "type", event.EventType)
		}
	}
	return nil
}
