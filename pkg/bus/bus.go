// Package bus connects the input console, the turn handler and the display
// loop through bounded queues.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

const (
	queueSize      = 100
	publishTimeout = 100 * time.Millisecond
)

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
	}
}

// PublishInbound enqueues a user utterance. It reports false when the bus is
// closed or the queue stayed full past the publish timeout.
func (mb *MessageBus) PublishInbound(msg InboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	return publish(mb.inbound, msg, &mb.dropped.inbound)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return consume(ctx, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	return publish(mb.outbound, msg, &mb.dropped.outbound)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return consume(ctx, mb.outbound)
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.dropped.inbound.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.dropped.outbound.Load()
}

func publish[T any](ch chan T, msg T, dropped *atomic.Uint64) bool {
	select {
	case ch <- msg:
		return true
	default:
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		dropped.Add(1)
		return false
	}
}

func consume[T any](ctx context.Context, ch chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}
