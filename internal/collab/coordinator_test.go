package collab

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/models"
	"github.com/saferoom/hazsync/internal/protocol"
	"github.com/saferoom/hazsync/internal/room"
	"github.com/saferoom/hazsync/internal/store"
)

// wireEnvelope mirrors the outbound envelope with the payload kept raw so
// tests can decode it into the expected event type.
type wireEnvelope struct {
	Type protocol.EventKind `json:"type"`
	Data json.RawMessage    `json:"data"`
}

// recordingSender captures every event delivered to one connection.
type recordingSender struct {
	mu     sync.Mutex
	events []wireEnvelope
}

func (r *recordingSender) Send(message []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recordingSender) kinds() []protocol.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingSender) last(kind protocol.EventKind) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == kind {
			return r.events[i].Data, true
		}
	}
	return nil, false
}

type fixture struct {
	db          *store.DB
	registry    *room.Registry
	coordinator *Coordinator
	roomID      string
	alice       models.Identity
	bob         models.Identity
	aliceConn   *recordingSender
	bobConn     *recordingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(db.DB))

	registry := room.NewRegistry()
	dispatcher := NewDispatcher(registry)
	coordinator := NewCoordinator(registry, store.NewEntryStore(db), dispatcher, 5*time.Second)

	f := &fixture{
		db:          db,
		registry:    registry,
		coordinator: coordinator,
		roomID:      room.EncodeRoomID("a-1"),
		alice:       models.Identity{ID: "alice", Email: "alice@plant.example", Role: "analyst"},
		bob:         models.Identity{ID: "bob", Email: "bob@plant.example", Role: "analyst"},
		aliceConn:   &recordingSender{},
		bobConn:     &recordingSender{},
	}
	registry.Join(f.roomID, f.alice, f.aliceConn)
	registry.Join(f.roomID, f.bob, f.bobConn)
	return f
}

func (f *fixture) createEntry(t *testing.T, deviation string) *models.EntrySnapshot {
	t.Helper()
	snap, err := f.coordinator.CreateEntry(context.Background(), f.roomID, f.alice, "", models.EntryChanges{
		Deviation: strptr(deviation),
	})
	require.NoError(t, err)
	return snap
}

func TestSuccessfulSubmissionsIncrementVersionPerApplication(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	const updates = 7
	version := snap.Version
	for i := 0; i < updates; i++ {
		outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
			snap.ID, version, models.EntryChanges{Deviation: strptr("rev")}, models.OpUpdate)
		require.NoError(t, err)
		require.NotNil(t, outcome.Applied)
		version = outcome.Applied.Version
	}

	assert.Equal(t, snap.Version+updates, version)
}

func TestEventsExcludeTheAuthor(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	_, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, snap.Version, models.EntryChanges{Deviation: strptr("rev")}, models.OpUpdate)
	require.NoError(t, err)

	assert.NotContains(t, f.aliceConn.kinds(), protocol.EventEntryCreated)
	assert.NotContains(t, f.aliceConn.kinds(), protocol.EventEntryUpdated)
	assert.Contains(t, f.bobConn.kinds(), protocol.EventEntryCreated)
	assert.Contains(t, f.bobConn.kinds(), protocol.EventEntryUpdated)
}

func TestRiskUpdateBroadcastsRiskUpdated(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, snap.Version, models.EntryChanges{Severity: intptr(4)}, models.OpRiskUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Applied)

	assert.Contains(t, f.bobConn.kinds(), protocol.EventRiskUpdated)
}

func TestCreateEntryRejectsDuplicateID(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.CreateEntry(context.Background(), f.roomID, f.alice, "e-1", models.EntryChanges{})
	require.NoError(t, err)

	_, err = f.coordinator.CreateEntry(context.Background(), f.roomID, f.bob, "e-1", models.EntryChanges{})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))
}

func TestSubmitChangeRequiresMembership(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	mallory := models.Identity{ID: "mallory", Email: "mallory@plant.example"}
	_, err := f.coordinator.SubmitChange(context.Background(), f.roomID, mallory,
		snap.ID, snap.Version, models.EntryChanges{}, models.OpUpdate)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotInRoom))

	_, err = f.coordinator.SubmitChange(context.Background(), room.EncodeRoomID("other"), f.alice,
		snap.ID, snap.Version, models.EntryChanges{}, models.OpUpdate)
	assert.True(t, apperrors.Is(err, apperrors.ErrRoomNotFound))
}

// TestConcurrentStaleSubmissions races two edits holding the same
// expectedVersion: exactly one applies, the other observes a conflict
// whose currentVersion matches the winner's result.
func TestConcurrentStaleSubmissions(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	type result struct {
		outcome *Outcome
		err     error
	}
	results := make(chan result, 2)

	submit := func(who models.Identity, deviation string) {
		outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, who,
			snap.ID, snap.Version, models.EntryChanges{Deviation: strptr(deviation)}, models.OpUpdate)
		results <- result{outcome, err}
	}
	go submit(f.alice, "alice's edit")
	go submit(f.bob, "bob's edit")

	var applied *models.EntrySnapshot
	var conflict *models.ConflictRecord
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		if r.outcome.Applied != nil {
			require.Nil(t, applied, "both submissions applied")
			applied = r.outcome.Applied
		} else {
			require.Nil(t, conflict, "both submissions conflicted")
			conflict = r.outcome.Conflict
		}
	}

	require.NotNil(t, applied)
	require.NotNil(t, conflict)
	assert.Equal(t, snap.Version+1, applied.Version)
	assert.Equal(t, snap.Version, conflict.ExpectedVersion)
	assert.Equal(t, applied.Version, conflict.CurrentVersion)
	assert.Equal(t, applied.Deviation, conflict.ServerSnapshot.Deviation)
}

// TestConflictThenAcceptClient is the end-to-end scenario: alice commits
// at version 1, bob's stale edit conflicts, bob resolves accept_client,
// and the room converges on bob's change at version 3.
func TestConflictThenAcceptClient(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")
	require.Equal(t, int64(1), snap.Version)

	outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("alice's edit")}, models.OpUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Applied)
	require.Equal(t, int64(2), outcome.Applied.Version)

	outcome, err = f.coordinator.SubmitChange(context.Background(), f.roomID, f.bob,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("bob's edit")}, models.OpUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Conflict)
	assert.Equal(t, int64(1), outcome.Conflict.ExpectedVersion)
	assert.Equal(t, int64(2), outcome.Conflict.CurrentVersion)
	assert.Equal(t, "alice's edit", outcome.Conflict.ServerSnapshot.Deviation)
	assert.Equal(t, "alice", outcome.Conflict.ContendingUserID)
	assert.Equal(t, "alice@plant.example", outcome.Conflict.ContendingUserEmail)

	decision, err := f.coordinator.Resolve(context.Background(), f.roomID, f.bob,
		snap.ID, models.ResolutionAcceptClient, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), decision.FinalSnapshot.Version)
	assert.Equal(t, "bob's edit", decision.FinalSnapshot.Deviation)

	// conflict_resolved reaches the whole room, resolver included.
	for _, conn := range []*recordingSender{f.aliceConn, f.bobConn} {
		raw, ok := conn.last(protocol.EventConflictResolved)
		require.True(t, ok)
		var resolved protocol.ConflictResolved
		require.NoError(t, json.Unmarshal(raw, &resolved))
		assert.Equal(t, models.ResolutionAcceptClient, resolved.Decision.Resolution)
		assert.Equal(t, int64(3), resolved.Decision.FinalSnapshot.Version)
	}
}

func TestResubmissionWithStaleVersionConflictsAgain(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	_, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("alice's edit")}, models.OpUpdate)
	require.NoError(t, err)

	// Conflicts are idempotent to detect: the same stale version keeps
	// conflicting until the submitter adopts the learned version.
	for i := 0; i < 2; i++ {
		outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.bob,
			snap.ID, 1, models.EntryChanges{Deviation: strptr("bob's edit")}, models.OpUpdate)
		require.NoError(t, err)
		require.NotNil(t, outcome.Conflict)
	}

	outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.bob,
		snap.ID, 2, models.EntryChanges{Deviation: strptr("bob's edit")}, models.OpUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Applied)
	assert.Equal(t, int64(3), outcome.Applied.Version)
}

func TestResolveAcceptServerKeepsVersion(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	_, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("alice's edit")}, models.OpUpdate)
	require.NoError(t, err)

	outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.bob,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("bob's edit")}, models.OpUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Conflict)

	decision, err := f.coordinator.Resolve(context.Background(), f.roomID, f.bob,
		snap.ID, models.ResolutionAcceptServer, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), decision.FinalSnapshot.Version)
	assert.Equal(t, "alice's edit", decision.FinalSnapshot.Deviation)
}

func TestResolveMergeUnionsListFields(t *testing.T) {
	f := newFixture(t)
	snap, err := f.coordinator.CreateEntry(context.Background(), f.roomID, f.alice, "", models.EntryChanges{
		Deviation: strptr("no flow"),
		Causes:    listptr("A"),
	})
	require.NoError(t, err)

	// alice commits a server-side revision bob has not seen.
	_, err = f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, 1, models.EntryChanges{Causes: listptr("A", "pump trip")}, models.OpUpdate)
	require.NoError(t, err)

	outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.bob,
		snap.ID, 1, models.EntryChanges{Causes: listptr("A", "B")}, models.OpUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Conflict)

	decision, err := f.coordinator.Resolve(context.Background(), f.roomID, f.bob,
		snap.ID, models.ResolutionMerge, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), decision.FinalSnapshot.Version)
	assert.Subset(t, decision.FinalSnapshot.Causes, []string{"A", "B", "pump trip"})
}

// TestStoreFailureSurfacesInternalError covers backing-store
// unavailability mid-session: the submission fails with INTERNAL_ERROR
// rather than a conflict, and nothing is broadcast.
func TestStoreFailureSurfacesInternalError(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	require.NoError(t, f.db.Close())

	_, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, snap.Version, models.EntryChanges{Deviation: strptr("rev")}, models.OpUpdate)
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))

	assert.NotContains(t, f.bobConn.kinds(), protocol.EventEntryUpdated)
}

func TestResolveWithoutPendingConflict(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	_, err := f.coordinator.Resolve(context.Background(), f.roomID, f.bob,
		snap.ID, models.ResolutionAcceptClient, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))
}

func TestDeleteBroadcastsToOthers(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	require.NoError(t, f.coordinator.DeleteEntry(context.Background(), f.roomID, f.alice, snap.ID))

	assert.NotContains(t, f.aliceConn.kinds(), protocol.EventEntryDeleted)
	assert.Contains(t, f.bobConn.kinds(), protocol.EventEntryDeleted)
}

func TestDropPendingDiscardsConflictState(t *testing.T) {
	f := newFixture(t)
	snap := f.createEntry(t, "no flow")

	_, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.alice,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("alice's edit")}, models.OpUpdate)
	require.NoError(t, err)

	outcome, err := f.coordinator.SubmitChange(context.Background(), f.roomID, f.bob,
		snap.ID, 1, models.EntryChanges{Deviation: strptr("bob's edit")}, models.OpUpdate)
	require.NoError(t, err)
	require.NotNil(t, outcome.Conflict)

	f.coordinator.DropPending(f.roomID, f.bob.ID)

	_, err = f.coordinator.Resolve(context.Background(), f.roomID, f.bob,
		snap.ID, models.ResolutionAcceptClient, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))
}
