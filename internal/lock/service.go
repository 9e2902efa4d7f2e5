// Package lock arbitrates concurrent mutating operations on instances
// through cooperative locks. A lock row in the project database is the
// single source of truth for "is this instance busy"; the token shared by
// every row created in one logical operation is the sole credential for
// the checked unlock path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corral-io/corral/internal/logging"
	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

// DefaultEventWaitTime bounds how long the blocking protocol waits for an
// unlock event before re-reading lock state directly from storage. The
// timeout is a retry cue, not a failure: pub/sub delivery is not
// guaranteed, so a missed event must be survivable.
const DefaultEventWaitTime = 60 * time.Second

// TxAction runs inside the same transaction that creates the lock rows,
// so its writes and the lock creation commit or abort together.
type TxAction func(ctx context.Context, tx *store.Tx, stateIDs []string) error

// Service implements the instance lock protocol.
type Service struct {
	store *store.Store
	bus   *pubsub.Bus
}

func NewService(st *store.Store, bus *pubsub.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// TryLockRequest parameterizes one acquisition attempt.
type TryLockRequest struct {
	StateIDs []string
	Meta     string
	Action   TxAction
	// AllowPartial permits locking only the currently-available subset
	// instead of failing when any requested id is already locked.
	AllowPartial bool
	// Token, when set, is adopted for the created rows instead of
	// generating a fresh one.
	Token string
}

// TryLock attempts to lock the requested instances in one transaction.
// It returns the token shared by the created rows and the ids actually
// locked. With AllowPartial unset, any pre-existing lock aborts the whole
// attempt with no side effects and ("", nil) is returned.
func (s *Service) TryLock(ctx context.Context, projectID string, req TryLockRequest) (string, []string, error) {
	stateIDs := dedup(req.StateIDs)
	if len(stateIDs) == 0 {
		return "", nil, nil
	}

	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return "", nil, err
	}

	var token string
	var locked []string
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetLocks(ctx, stateIDs)
		if err != nil {
			return err
		}

		heldSet := make(map[string]bool, len(existing))
		for _, l := range existing {
			heldSet[l.StateID] = true
		}
		var available []string
		for _, id := range stateIDs {
			if !heldSet[id] {
				available = append(available, id)
			}
		}

		if len(existing) > 0 && !req.AllowPartial {
			return nil
		}
		if len(available) == 0 {
			// A partial caller without its own token still gets one, so a
			// later retry can adopt a consistent token even though nothing
			// was locked in this attempt.
			if req.AllowPartial && req.Token == "" {
				token = uuid.NewString()
			}
			return nil
		}

		token = req.Token
		if token == "" {
			token = uuid.NewString()
		}

		now := time.Now().UTC()
		locks := make([]model.InstanceLock, 0, len(available))
		for _, id := range available {
			locks = append(locks, model.InstanceLock{
				StateID:    id,
				Token:      token,
				Meta:       req.Meta,
				AcquiredAt: now,
			})
		}
		if err := tx.InsertLocks(ctx, locks); err != nil {
			return err
		}
		if req.Action != nil {
			if err := req.Action(ctx, tx, available); err != nil {
				return err
			}
		}
		locked = available

		// Published from within the transaction body: a subscriber can in
		// principle observe the event fractionally before the commit is
		// externally visible (or for a commit that subsequently fails).
		// Downstream consumers tolerate that; the blocking retry loop
		// re-reads storage on its timeout.
		s.bus.Publish(pubsub.InstanceLockTopic(projectID), model.InstanceLockEvent{
			Type:  model.LockEventLocked,
			Locks: locks,
		})
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if len(locked) == 0 {
		return token, nil, nil
	}
	return token, locked, nil
}

// Unlock releases the locks for the given ids after verifying, inside one
// transaction, that every id holds a lock with exactly this token. Any
// mismatch aborts the whole call with ErrLockLost and nothing is mutated.
func (s *Service) Unlock(ctx context.Context, projectID string, stateIDs []string, token string, unlockAction func(ctx context.Context, tx *store.Tx) error) error {
	stateIDs = dedup(stateIDs)
	if len(stateIDs) == 0 {
		return nil
	}

	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, func(tx *store.Tx) error {
		held, err := tx.GetLocks(ctx, stateIDs)
		if err != nil {
			return err
		}
		byID := make(map[string]model.InstanceLock, len(held))
		for _, l := range held {
			byID[l.StateID] = l
		}
		for _, id := range stateIDs {
			l, ok := byID[id]
			if !ok || l.Token != token {
				return fmt.Errorf("unlock %s: %w", id, model.ErrLockLost)
			}
		}

		if unlockAction != nil {
			if err := unlockAction(ctx, tx); err != nil {
				return err
			}
		}

		n, err := tx.DeleteLocks(ctx, stateIDs)
		if err != nil {
			return err
		}
		if n > 0 {
			s.bus.Publish(pubsub.InstanceLockTopic(projectID), model.InstanceLockEvent{
				Type:     model.LockEventUnlocked,
				StateIDs: stateIDs,
			})
		}
		return nil
	})
}

// UnlockUnconditionally removes any lock rows for the given ids
// regardless of token. Forced cleanup path.
func (s *Service) UnlockUnconditionally(ctx context.Context, projectID string, stateIDs []string) error {
	stateIDs = dedup(stateIDs)
	if len(stateIDs) == 0 {
		return nil
	}

	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.DeleteLocks(ctx, stateIDs)
		if err != nil {
			return err
		}
		if n > 0 {
			s.bus.Publish(pubsub.InstanceLockTopic(projectID), model.InstanceLockEvent{
				Type:     model.LockEventUnlocked,
				StateIDs: stateIDs,
			})
		}
		return nil
	})
}

// IsLocked reports whether the instance currently carries a lock.
func (s *Service) IsLocked(ctx context.Context, projectID, stateID string) (bool, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return false, err
	}
	var locked bool
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		l, err := tx.GetLock(ctx, stateID)
		if err != nil {
			return err
		}
		locked = l != nil
		return nil
	})
	return locked, err
}

// LockRequest parameterizes the blocking protocol.
type LockRequest struct {
	StateIDs     []string
	Meta         string
	Action       TxAction
	AllowPartial bool
	// EventWaitTime bounds each wait for an unlock event before the loop
	// retries against storage directly. Zero means DefaultEventWaitTime.
	EventWaitTime time.Duration
	Token         string
}

// Lock acquires locks on all requested instances, blocking until every
// one is held. One token is generated up front and shared by every row
// acquired across retries. Cancelling ctx fails the call with ErrAborted;
// locks already acquired are NOT released, the caller owns cleanup.
func (s *Service) Lock(ctx context.Context, projectID string, req LockRequest) (string, []string, error) {
	remaining := dedup(req.StateIDs)
	if len(remaining) == 0 {
		return "", nil, nil
	}

	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}
	waitTime := req.EventWaitTime
	if waitTime <= 0 {
		waitTime = DefaultEventWaitTime
	}

	// Subscribe before the first attempt so an unlock racing the attempt
	// cannot be missed.
	events, cancel := s.bus.Subscribe(pubsub.InstanceLockTopic(projectID))
	defer cancel()

	var acquired []string
	for len(remaining) > 0 {
		_, locked, err := s.TryLock(ctx, projectID, TryLockRequest{
			StateIDs:     remaining,
			Meta:         req.Meta,
			Action:       req.Action,
			AllowPartial: req.AllowPartial,
			Token:        token,
		})
		if err != nil {
			return "", nil, err
		}

		if len(locked) > 0 {
			lockedSet := make(map[string]bool, len(locked))
			for _, id := range locked {
				lockedSet[id] = true
			}
			var rest []string
			for _, id := range remaining {
				if !lockedSet[id] {
					rest = append(rest, id)
				}
			}
			acquired = append(acquired, locked...)
			remaining = rest

			// The non-partial attempt is all-or-nothing; newly locked ids
			// with instances left over would mean the attempt locked a
			// subset it never should have.
			if len(remaining) > 0 && !req.AllowPartial {
				return "", nil, errors.New("lock protocol violation: partial acquisition without allowPartialLock")
			}
			continue
		}

		if err := s.waitForUnlock(ctx, events, remaining, waitTime); err != nil {
			return "", nil, err
		}
	}

	logging.Debug("acquired instance locks", "project", projectID, "count", len(acquired))
	return token, acquired, nil
}

// waitForUnlock blocks until an unlocked event intersecting the remaining
// set arrives, the wait time elapses (retry cue) or ctx is cancelled.
func (s *Service) waitForUnlock(ctx context.Context, events <-chan pubsub.Message, remaining []string, waitTime time.Duration) error {
	want := make(map[string]bool, len(remaining))
	for _, id := range remaining {
		want[id] = true
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			ev, isLock := msg.Payload.(model.InstanceLockEvent)
			if !isLock || ev.Type != model.LockEventUnlocked {
				continue
			}
			for _, id := range ev.StateIDs {
				if want[id] {
					return nil
				}
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for instance locks: %w (%w)", model.ErrAborted, ctx.Err())
		}
	}
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
