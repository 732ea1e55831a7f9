package api

import (
    "sync"
)

// Event types published per route.
const (
    EventRoutePlanned    = "route.planned"
    EventStopStatus      = "stop.status.updated"
    EventVehiclePosition = "vehicle.position.updated"
)

type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// EventBroker fans route events out to SSE and WebSocket subscribers.
// Publish never blocks; a slow subscriber misses events.
type EventBroker interface {
    Subscribe(routeID string) chan SSEEvent
    Unsubscribe(routeID string, ch chan SSEEvent)
    Publish(routeID string, evt SSEEvent)
}

type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // routeId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(routeID string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[routeID] == nil { b.subs[routeID] = map[chan SSEEvent]struct{}{} }
    b.subs[routeID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

// Unsubscribe removes ch and closes it. Calling it twice for the same
// channel is a no-op.
func (b *Broker) Unsubscribe(routeID string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[routeID]
    if _, ok := m[ch]; !ok {
        return
    }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, routeID) }
    close(ch)
}

func (b *Broker) Publish(routeID string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[routeID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

// subscribers reports the number of live subscriptions for routeID.
func (b *Broker) subscribers(routeID string) int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.subs[routeID])
}
