package service

import "shelfsync/internal/domain"

// Subscriber fan-out. Observers are held in a set, so double-subscribe and
// double-unsubscribe are no-ops; delivery order is unspecified. Each
// delivery is isolated: a panicking observer is logged and skipped, never
// aborting the fan-out or stopping the engine.

// Subscribe registers an observer for snapshots and pending-clear events
func (e *SyncEngine) Subscribe(obs domain.StatusObserver) {
	if obs == nil {
		return
	}
	e.mu.Lock()
	e.observers[obs] = struct{}{}
	e.mu.Unlock()
}

// Unsubscribe removes an observer
func (e *SyncEngine) Unsubscribe(obs domain.StatusObserver) {
	e.mu.Lock()
	delete(e.observers, obs)
	e.mu.Unlock()
}

// ClearPendingCopyIDs tells subscribers to stop rendering the given copy ids
// as pending without waiting for the next poll, e.g. after an external actor
// observed an approval. The engine's own snapshot is untouched; subsequent
// polls remain the source of truth.
func (e *SyncEngine) ClearPendingCopyIDs(ids []string) {
	e.emitPendingCleared(domain.PendingCleared{Scope: domain.PendingCopies, IDs: ids})
}

// ClearPendingBookIDs is ClearPendingCopyIDs for whole titles
func (e *SyncEngine) ClearPendingBookIDs(ids []string) {
	e.emitPendingCleared(domain.PendingCleared{Scope: domain.PendingBooks, IDs: ids})
}

func (e *SyncEngine) emitSnapshot(snap *domain.Snapshot) {
	for _, obs := range e.currentObservers() {
		e.deliver(obs, func(o domain.StatusObserver) {
			// Each observer gets its own deep copy; mutating it cannot
			// corrupt engine state or a sibling subscriber.
			o.OnSnapshot(*snap.Clone())
		})
	}
}

func (e *SyncEngine) emitPendingCleared(ev domain.PendingCleared) {
	if len(ev.IDs) == 0 {
		return
	}
	for _, obs := range e.currentObservers() {
		e.deliver(obs, func(o domain.StatusObserver) {
			copied := ev
			copied.IDs = append([]string(nil), ev.IDs...)
			o.OnPendingCleared(copied)
		})
	}
}

func (e *SyncEngine) currentObservers() []domain.StatusObserver {
	e.mu.Lock()
	defer e.mu.Unlock()
	observers := make([]domain.StatusObserver, 0, len(e.observers))
	for obs := range e.observers {
		observers = append(observers, obs)
	}
	return observers
}

func (e *SyncEngine) deliver(obs domain.StatusObserver, send func(domain.StatusObserver)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("status observer panicked", "panic", r)
		}
	}()
	send(obs)
}
