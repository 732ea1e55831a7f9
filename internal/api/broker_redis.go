package api

import (
    "context"
    "encoding/json"
    "log"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that several API
// instances share route events.
type RedisBroker struct {
    rdb *redis.Client

    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisBroker{rdb: redis.NewClient(opt), subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

// Ping checks the connection.
func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

// Subscribe returns once Redis has confirmed the subscription. The channel
// is closed after Unsubscribe.
func (b *RedisBroker) Subscribe(routeID string) chan SSEEvent {
    ch := make(chan SSEEvent, 16)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    ps := b.rdb.Subscribe(ctx, b.chanName(routeID))
    if _, err := ps.Receive(ctx); err != nil {
        log.Printf("[BROKER] subscribe route=%s: %v", routeID, err)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
                log.Printf("[BROKER] route=%s bad payload: %v", routeID, err)
                continue
            }
            select { case ch <- evt: default: }
        }
    }()
    return ch
}

// Unsubscribe closes the underlying PubSub; the forwarding goroutine then
// closes ch.
func (b *RedisBroker) Unsubscribe(routeID string, ch chan SSEEvent) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ps != nil {
        _ = ps.Close()
    }
}

func (b *RedisBroker) Publish(routeID string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil {
        log.Printf("[BROKER] route=%s encode %s: %v", routeID, evt.Type, err)
        return
    }
    if err := b.rdb.Publish(ctx, b.chanName(routeID), data).Err(); err != nil {
        log.Printf("[BROKER] route=%s publish %s: %v", routeID, evt.Type, err)
    }
}

func (b *RedisBroker) chanName(routeID string) string { return "viasync:route:" + routeID }
