package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis list carrying ledger events.
const DefaultKey = "ledger:events"

// ErrFull is returned by InMemory.Publish when no consumer keeps up.
var ErrFull = errors.New("queue full")

// Message is one ledger event.
type Message struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Body json.RawMessage `json:"body"`
}

// NewMessage stamps a message with an id and time and encodes body as JSON.
func NewMessage(typ string, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: uuid.NewString(), Type: typ, At: time.Now().UTC(), Body: raw}, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue for a single process.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message without waiting. When the buffer is full the
// message is dropped and ErrFull returned.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Consume returns a channel that closes when ctx is done.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list with LPUSH/BRPOP semantics.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue on key, or DefaultKey when empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams messages using BRPOP until ctx is done.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					log.Printf("queue %s: brpop: %v", q.key, err)
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			msg, err := decode(res[1])
			if err != nil {
				log.Printf("queue %s: dropping undecodable message: %v", q.key, err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func encode(msg Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decode(s string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type missing")
	}
	return msg, nil
}
