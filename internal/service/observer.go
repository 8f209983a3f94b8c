package service

import "shelfsync/internal/domain"

// StatusEvent is the union delivered by ChannelObserver. Exactly one of
// Snapshot and PendingCleared is set.
type StatusEvent struct {
	Snapshot       *domain.Snapshot
	PendingCleared *domain.PendingCleared
}

// ChannelObserver adapts domain.StatusObserver to a channel for hosts that
// consume events in their own event loop.
type ChannelObserver struct {
	ch chan<- StatusEvent
}

// NewChannelObserver creates a new channel-based observer.
func NewChannelObserver(ch chan<- StatusEvent) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnSnapshot sends the snapshot to the channel (non-blocking if full).
func (o *ChannelObserver) OnSnapshot(snap domain.Snapshot) {
	select {
	case o.ch <- StatusEvent{Snapshot: &snap}:
	default: // Non-blocking if channel full
	}
}

// OnPendingCleared sends the delta event to the channel (non-blocking if full).
func (o *ChannelObserver) OnPendingCleared(ev domain.PendingCleared) {
	select {
	case o.ch <- StatusEvent{PendingCleared: &ev}:
	default: // Non-blocking if channel full
	}
}
