package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processingSuffix = ":processing"
	scheduledSuffix  = ":scheduled"
	deadSuffix       = ":dead"
	leaseSuffix      = ":leases"

	promoteBatch = 100
	recoverBatch = 100
)

// promoteScript moves due members of the scheduled set onto the queue in one
// step so two schedulers never promote the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// recoverScript returns processing entries whose lease is older than the
// cutoff to the consuming end of the queue. An entry without a lease was
// moved by a consumer that died before stamping it; it is leased at now so
// it expires on a later sweep.
var recoverScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local moved = 0
for _, member in ipairs(items) do
	if moved >= tonumber(ARGV[3]) then
		break
	end
	local leased = redis.call('ZSCORE', KEYS[2], member)
	if not leased then
		redis.call('ZADD', KEYS[2], ARGV[1], member)
	elseif tonumber(leased) <= tonumber(ARGV[2]) then
		redis.call('LREM', KEYS[1], 1, member)
		redis.call('ZREM', KEYS[2], member)
		redis.call('RPUSH', KEYS[3], member)
		moved = moved + 1
	end
end
return moved
`)

// RedisBroker keeps each queue as a list. Dequeue moves the message to
// "<queue>:processing" until it is acked; delayed messages wait in the
// "<queue>:scheduled" sorted set scored by due time in unix milliseconds;
// rejected messages end in "<queue>:dead". "<queue>:leases" scores every
// processing entry by its dequeue time so RecoverStale can hand back the
// messages of a consumer that crashed.
type RedisBroker struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, now: time.Now}
}

func ProcessingQueue(queue string) string { return queue + processingSuffix }
func ScheduledQueue(queue string) string  { return queue + scheduledSuffix }
func DeadLetterQueue(queue string) string { return queue + deadSuffix }
func LeaseSet(queue string) string        { return queue + leaseSuffix }

// Enqueue pushes body, or schedules it when its scheduledAt lies in the future.
func (b *RedisBroker) Enqueue(ctx context.Context, queue string, body []byte) error {
	if at := peek(body).ScheduledAt; at != nil && at.After(b.now()) {
		return b.schedule(ctx, queue, body, *at)
	}
	if err := b.client.LPush(ctx, queue, body).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}

func (b *RedisBroker) schedule(ctx context.Context, queue string, body []byte, at time.Time) error {
	z := redis.Z{Score: float64(at.UnixMilli()), Member: body}
	if err := b.client.ZAdd(ctx, ScheduledQueue(queue), z).Err(); err != nil {
		return fmt.Errorf("schedule %s: %w", queue, err)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	body, err := b.client.BLMove(ctx, queue, ProcessingQueue(queue), "RIGHT", "LEFT", wait).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", queue, err)
	}
	// An entry left unstamped is leased by the next recovery sweep instead.
	lease := redis.Z{Score: float64(b.now().UnixMilli()), Member: body}
	_ = b.client.ZAdd(context.WithoutCancel(ctx), LeaseSet(queue), lease).Err()
	return &Message{Queue: queue, Body: body}, nil
}

func (b *RedisBroker) Ack(ctx context.Context, msg *Message) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingQueue(msg.Queue), 1, msg.Body)
		pipe.ZRem(ctx, LeaseSet(msg.Queue), msg.Body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", msg.Queue, err)
	}
	return nil
}

func (b *RedisBroker) Nack(ctx context.Context, msg *Message, requeue bool, delay time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingQueue(msg.Queue), 1, msg.Body)
		pipe.ZRem(ctx, LeaseSet(msg.Queue), msg.Body)
		switch {
		case !requeue:
			pipe.LPush(ctx, DeadLetterQueue(msg.Queue), msg.Body)
		case delay > 0:
			at := b.now().Add(delay)
			pipe.ZAdd(ctx, ScheduledQueue(msg.Queue), redis.Z{Score: float64(at.UnixMilli()), Member: bumpRetryCount(msg.Body)})
		default:
			pipe.LPush(ctx, msg.Queue, bumpRetryCount(msg.Body))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("nack %s: %w", msg.Queue, err)
	}
	return nil
}

// PromoteDue moves scheduled messages whose due time is not after now onto
// the queue and returns how many moved.
func (b *RedisBroker) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, b.client,
		[]string{ScheduledQueue(queue), queue},
		strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", queue, err)
	}
	return n, nil
}

// RecoverStale puts processing entries leased more than visibility before now
// back on the queue, unchanged, and returns how many moved.
func (b *RedisBroker) RecoverStale(ctx context.Context, queue string, now time.Time, visibility time.Duration) (int, error) {
	n, err := recoverScript.Run(ctx, b.client,
		[]string{ProcessingQueue(queue), LeaseSet(queue), queue},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(-visibility).UnixMilli(), 10),
		recoverBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover %s: %w", queue, err)
	}
	return n, nil
}

// Depth reports the sizes of a queue and its companion sets.
func (b *RedisBroker) Depth(ctx context.Context, queue string) (map[string]int64, error) {
	pipe := b.client.Pipeline()
	ready := pipe.LLen(ctx, queue)
	processing := pipe.LLen(ctx, ProcessingQueue(queue))
	scheduled := pipe.ZCard(ctx, ScheduledQueue(queue))
	dead := pipe.LLen(ctx, DeadLetterQueue(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("depth %s: %w", queue, err)
	}
	return map[string]int64{
		"ready":      ready.Val(),
		"processing": processing.Val(),
		"scheduled":  scheduled.Val(),
		"dead":       dead.Val(),
	}, nil
}
