// Package queue connects the notifications worker to its job broker: one
// logical queue per channel with in-flight, scheduled and dead-letter sets.
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"notification-workers/internal/models"
)

// Message is one job taken off a queue. Body is the exact payload that was
// dequeued and identifies the message for Ack and Nack.
type Message struct {
	Queue string
	Body  []byte
}

// Broker is an at-least-once job source.
type Broker interface {
	Enqueue(ctx context.Context, queue string, body []byte) error
	// Dequeue waits up to wait for a message; it returns nil, nil when none arrived.
	Dequeue(ctx context.Context, queue string, wait time.Duration) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	// Nack either puts the message back with retryCount incremented, after
	// delay when positive, or moves it to the dead-letter list.
	Nack(ctx context.Context, msg *Message, requeue bool, delay time.Duration) error
}

// Scheduler is implemented by brokers that hold delayed messages until due.
type Scheduler interface {
	PromoteDue(ctx context.Context, queue string, now time.Time) (int, error)
}

// Recoverer is implemented by brokers that can hand back messages whose
// consumer stopped without settling them.
type Recoverer interface {
	RecoverStale(ctx context.Context, queue string, now time.Time, visibility time.Duration) (int, error)
}

// QueueName is the queue for channel c: "<prefix>:<channel>" in lower case.
func QueueName(prefix string, c models.Channel) string {
	return prefix + ":" + strings.ToLower(string(c))
}

// QueueNames returns the queue of every enabled channel.
func QueueNames(prefix string, channels []models.Channel) []string {
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		out = append(out, QueueName(prefix, c))
	}
	return out
}

// envelope is the part of a job the broker reads.
type envelope struct {
	RetryCount  int        `json:"retryCount"`
	MaxRetries  *int       `json:"maxRetries"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func peek(body []byte) envelope {
	var e envelope
	_ = json.Unmarshal(body, &e)
	return e
}

func (e envelope) maxRetries() int {
	if e.MaxRetries == nil {
		return models.DefaultMaxRetries
	}
	return *e.MaxRetries
}

// bumpRetryCount returns body with retryCount incremented. Bodies that are not
// JSON objects come back unchanged.
func bumpRetryCount(body []byte) []byte {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	next, _ := json.Marshal(peek(body).RetryCount + 1)
	doc["retryCount"] = next
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}
