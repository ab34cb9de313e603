package collab

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/logging"
	"github.com/saferoom/hazsync/internal/models"
	"github.com/saferoom/hazsync/internal/protocol"
	"github.com/saferoom/hazsync/internal/room"
	"github.com/saferoom/hazsync/internal/store"
)

// Outcome is the result of a change submission: exactly one of Applied or
// Conflict is set. A conflict is not an error; it is routed to the
// resolution flow.
type Outcome struct {
	Applied  *models.EntrySnapshot
	Conflict *models.ConflictRecord
}

// pendingKey identifies one unresolved conflict: a specific user's stale
// submission against a specific entry in a specific room.
type pendingKey struct {
	roomID  string
	userID  string
	entryID string
}

// Coordinator is the serialization point for every version-changing edit.
// All submissions for a room pass through that room's lock, so two racing
// edits of the same entry are strictly ordered: one applies, the other
// observes a conflict carrying the winner's result.
type Coordinator struct {
	registry   *room.Registry
	entries    *store.EntryStore
	dispatcher *Dispatcher

	// Bound on waiting for the backing store while holding a room's
	// serialization point.
	storeTimeout time.Duration

	mu      sync.Mutex
	pending map[pendingKey]*models.ConflictRecord
}

// NewCoordinator creates a Coordinator over the registry and store.
func NewCoordinator(registry *room.Registry, entries *store.EntryStore, dispatcher *Dispatcher, storeTimeout time.Duration) *Coordinator {
	return &Coordinator{
		registry:     registry,
		entries:      entries,
		dispatcher:   dispatcher,
		storeTimeout: storeTimeout,
		pending:      make(map[pendingKey]*models.ConflictRecord),
	}
}

// CreateEntry inserts a new entry at version 1 and broadcasts
// entry_created to the rest of the room.
func (c *Coordinator) CreateEntry(ctx context.Context, roomID string, author models.Identity, entryID string, fields models.EntryChanges) (*models.EntrySnapshot, error) {
	r, err := c.registry.RoomFor(roomID, author.ID)
	if err != nil {
		return nil, err
	}
	analysisID, err := room.DecodeRoomID(roomID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "undecodable room identifier", err)
	}

	var snap *models.EntrySnapshot
	err = r.Do(func() error {
		sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
		defer cancel()

		snap, err = c.entries.Create(sctx, analysisID, entryID, fields, author.ID)
		switch {
		case stderrors.Is(err, store.ErrDuplicateID):
			return errors.New(errors.ErrInvalidPayload, "entry id already exists")
		case err != nil:
			return errors.Wrap(errors.ErrInternal, "entry create failed", err)
		}
		c.dispatcher.Publish(roomID, protocol.EventEntryCreated, protocol.EntryEvent{
			AnalysisID: analysisID,
			Entry:      *snap,
			AuthorID:   author.ID,
		}, author.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// SubmitChange applies an optimistic-concurrency edit. If expectedVersion
// matches the entry's current version the change commits, the version
// increments by exactly one and the matching event is broadcast to the
// rest of the room. Otherwise nothing is mutated and the returned Outcome
// carries a ConflictRecord for delivery to the submitter alone.
//
// operation selects the event kind: OpUpdate broadcasts entry_updated,
// OpRiskUpdate broadcasts risk_updated.
func (c *Coordinator) SubmitChange(ctx context.Context, roomID string, author models.Identity, entryID string, expectedVersion int64, changes models.EntryChanges, operation string) (*Outcome, error) {
	r, err := c.registry.RoomFor(roomID, author.ID)
	if err != nil {
		return nil, err
	}
	analysisID, err := room.DecodeRoomID(roomID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "undecodable room identifier", err)
	}

	eventKind := protocol.EventEntryUpdated
	if operation == models.OpRiskUpdate {
		eventKind = protocol.EventRiskUpdated
	}

	var outcome *Outcome
	err = r.Do(func() error {
		sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
		defer cancel()

		snap, err := c.entries.Update(sctx, entryID, expectedVersion, changes, operation, author.ID)
		switch {
		case err == nil:
			c.clearPending(pendingKey{roomID, author.ID, entryID})
			c.dispatcher.Publish(roomID, eventKind, protocol.EntryEvent{
				AnalysisID: analysisID,
				Entry:      *snap,
				AuthorID:   author.ID,
			}, author.ID)
			outcome = &Outcome{Applied: snap}
			return nil

		case stderrors.Is(err, store.ErrVersionMismatch):
			email := ""
			if p, ok := c.registry.PresenceOf(roomID, snap.UpdatedBy); ok {
				email = p.Email
			}
			conflict := detectConflict(snap, expectedVersion, changes, email)
			c.rememberPending(pendingKey{roomID, author.ID, entryID}, conflict)
			logging.Warn("stale edit submission", map[string]interface{}{
				"room_id":          roomID,
				"entry_id":         entryID,
				"author_id":        author.ID,
				"expected_version": expectedVersion,
				"current_version":  snap.Version,
			})
			outcome = &Outcome{Conflict: conflict}
			return nil

		case stderrors.Is(err, store.ErrNotFound):
			return errors.New(errors.ErrInvalidPayload, "entry does not exist")

		default:
			return errors.Wrap(errors.ErrInternal, "entry update failed", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// DeleteEntry removes the entry and broadcasts entry_deleted to the rest
// of the room.
func (c *Coordinator) DeleteEntry(ctx context.Context, roomID string, author models.Identity, entryID string) error {
	r, err := c.registry.RoomFor(roomID, author.ID)
	if err != nil {
		return err
	}
	analysisID, err := room.DecodeRoomID(roomID)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "undecodable room identifier", err)
	}

	return r.Do(func() error {
		sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
		defer cancel()

		err := c.entries.Delete(sctx, entryID, author.ID)
		switch {
		case err == nil:
			c.dispatcher.Publish(roomID, protocol.EventEntryDeleted, protocol.EntryDeleted{
				AnalysisID: analysisID,
				EntryID:    entryID,
				AuthorID:   author.ID,
			}, author.ID)
			return nil
		case stderrors.Is(err, store.ErrNotFound):
			return errors.New(errors.ErrInvalidPayload, "entry does not exist")
		default:
			return errors.Wrap(errors.ErrInternal, "entry delete failed", err)
		}
	})
}

// Resolve settles the resolver's pending conflict on one entry and
// broadcasts conflict_resolved to the whole room, resolver included, so
// every member converges on the same final state.
func (c *Coordinator) Resolve(ctx context.Context, roomID string, resolver models.Identity, entryID string, resolution models.Resolution, mergedFields *models.EntryChanges) (*models.ResolutionDecision, error) {
	if !resolution.Valid() {
		return nil, errors.New(errors.ErrInvalidPayload, "unknown resolution kind")
	}
	r, err := c.registry.RoomFor(roomID, resolver.ID)
	if err != nil {
		return nil, err
	}
	analysisID, err := room.DecodeRoomID(roomID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "undecodable room identifier", err)
	}

	var decision *models.ResolutionDecision
	err = r.Do(func() error {
		sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
		defer cancel()

		pending := c.takePending(pendingKey{roomID, resolver.ID, entryID})

		current, err := c.entries.Get(sctx, entryID)
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.New(errors.ErrInvalidPayload, "entry does not exist")
		}
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "entry read failed", err)
		}

		var final *models.EntrySnapshot
		switch resolution {
		case models.ResolutionAcceptServer:
			// Discard the client's changes; version unchanged.
			final = current

		case models.ResolutionAcceptClient:
			if pending == nil {
				return errors.New(errors.ErrInvalidPayload, "no pending conflict for entry")
			}
			final, err = c.entries.Update(sctx, entryID, current.Version, pending.ClientChanges, models.OpResolve, resolver.ID)
			if err != nil {
				return errors.Wrap(errors.ErrInternal, "resolution write failed", err)
			}

		case models.ResolutionMerge:
			if pending == nil {
				return errors.New(errors.ErrInvalidPayload, "no pending conflict for entry")
			}
			merged := mergeChanges(current, pending.ClientChanges, mergedFields)
			final, err = c.entries.Update(sctx, entryID, current.Version, merged, models.OpResolve, resolver.ID)
			if err != nil {
				return errors.Wrap(errors.ErrInternal, "resolution write failed", err)
			}
		}

		decision = &models.ResolutionDecision{
			EntryID:       entryID,
			Resolution:    resolution,
			FinalSnapshot: final.Clone(),
			ResolvedBy:    resolver.ID,
			ResolvedAt:    time.Now().Unix(),
		}
		c.dispatcher.Publish(roomID, protocol.EventConflictResolved, protocol.ConflictResolved{
			AnalysisID: analysisID,
			Decision:   *decision,
		}, "")
		logging.Info("conflict resolved", map[string]interface{}{
			"room_id":    roomID,
			"entry_id":   entryID,
			"resolution": string(resolution),
			"resolver":   resolver.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// DropPending discards a user's unresolved conflicts in one room. Called
// when the user leaves or their connection drops.
func (c *Coordinator) DropPending(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.pending {
		if key.roomID == roomID && key.userID == userID {
			delete(c.pending, key)
		}
	}
}

func (c *Coordinator) rememberPending(key pendingKey, conflict *models.ConflictRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = conflict
}

func (c *Coordinator) takePending(key pendingKey) *models.ConflictRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	conflict := c.pending[key]
	delete(c.pending, key)
	return conflict
}

func (c *Coordinator) clearPending(key pendingKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
}
