// Package storetest holds the behavioral contract every store.Backend must
// satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

const namespace = "storetest"

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Backend

// Run executes the contract suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateThenLoad", func(t *testing.T) { testCreateThenLoad(t, newBackend(t)) })
	t.Run("CreateTwiceFails", func(t *testing.T) { testCreateTwiceFails(t, newBackend(t)) })
	t.Run("UpdateBumpsVersion", func(t *testing.T) { testUpdateBumpsVersion(t, newBackend(t)) })
	t.Run("StaleUpdateConflicts", func(t *testing.T) { testStaleUpdateConflicts(t, newBackend(t)) })
	t.Run("UpdateMissingRecord", func(t *testing.T) { testUpdateMissingRecord(t, newBackend(t)) })
	t.Run("FailedBatchHasNoEffect", func(t *testing.T) { testFailedBatchHasNoEffect(t, newBackend(t)) })
	t.Run("NotificationSeqAndFilters", func(t *testing.T) { testNotificationSeqAndFilters(t, newBackend(t)) })
	t.Run("RecordsByKind", func(t *testing.T) { testRecordsByKind(t, newBackend(t)) })
}

func position(owner ir.Identity, accrued, lifetime uint64) []byte {
	body, err := ir.EncodeRecord(ir.UserPosition{Owner: owner, Accrued: accrued, Lifetime: lifetime})
	if err != nil {
		panic(err)
	}
	return body
}

func createPosition(owner ir.Identity) store.Mutation {
	return store.Mutation{
		Address:   ir.PositionAddress(namespace, owner),
		Namespace: namespace,
		Kind:      ir.KindUserPosition,
		Body:      position(owner, 0, 0),
	}
}

func note(name string) ir.Notification {
	return ir.Notification{
		RequestID:  "req",
		Namespace:  namespace,
		Transition: ir.TransitionRegisterUser,
		Name:       name,
		Caller:     "tester",
		Payload:    ir.Object{"n": ir.Uint(1)},
	}
}

func testCreateThenLoad(t *testing.T, b store.Backend) {
	ctx := context.Background()
	m := createPosition("alice")

	n, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{m}, Notification: note(ir.EventUserRegistered)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Seq)
	assert.Len(t, n.ID, 64)

	got, err := b.Load(ctx, []ir.Address{m.Address, ir.PositionAddress(namespace, "nobody")})
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[m.Address]
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, ir.KindUserPosition, rec.Kind)
	assert.Equal(t, namespace, rec.Namespace)
	assert.Equal(t, string(m.Body), string(rec.Body))

	single, err := b.Get(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, single.Version)
}

func testCreateTwiceFails(t *testing.T, b store.Backend) {
	ctx := context.Background()
	m := createPosition("alice")

	_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{m}, Notification: note(ir.EventUserRegistered)})
	require.NoError(t, err)

	_, err = b.Apply(ctx, store.Batch{Mutations: []store.Mutation{m}, Notification: note(ir.EventUserRegistered)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrExists), "want ErrExists, got %v", err)

	seq, err := b.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "failed batch must not append a notification")
}

func testUpdateBumpsVersion(t *testing.T, b store.Backend) {
	ctx := context.Background()
	m := createPosition("alice")
	_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{m}, Notification: note(ir.EventUserRegistered)})
	require.NoError(t, err)

	upd := m
	upd.Body = position("alice", 10, 10)
	upd.PrevVersion = 1
	_, err = b.Apply(ctx, store.Batch{Mutations: []store.Mutation{upd}, Notification: note(ir.EventEnergyReported)})
	require.NoError(t, err)

	rec, err := b.Get(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, string(upd.Body), string(rec.Body))
}

func testStaleUpdateConflicts(t *testing.T, b store.Backend) {
	ctx := context.Background()
	m := createPosition("alice")
	_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{m}, Notification: note(ir.EventUserRegistered)})
	require.NoError(t, err)

	upd := m
	upd.Body = position("alice", 10, 10)
	upd.PrevVersion = 7
	_, err = b.Apply(ctx, store.Batch{Mutations: []store.Mutation{upd}, Notification: note(ir.EventEnergyReported)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrVersionConflict), "want ErrVersionConflict, got %v", err)
}

func testUpdateMissingRecord(t *testing.T, b store.Backend) {
	ctx := context.Background()
	upd := createPosition("ghost")
	upd.PrevVersion = 1

	_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{upd}, Notification: note(ir.EventEnergyReported)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound), "want ErrNotFound, got %v", err)

	_, err = b.Get(ctx, upd.Address)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testFailedBatchHasNoEffect(t *testing.T, b store.Backend) {
	ctx := context.Background()
	alice := createPosition("alice")
	_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{alice}, Notification: note(ir.EventUserRegistered)})
	require.NoError(t, err)

	// bob's creation is valid, alice's duplicate is not: neither may persist.
	bob := createPosition("bob")
	_, err = b.Apply(ctx, store.Batch{
		Mutations:    []store.Mutation{bob, alice},
		Notification: note(ir.EventUserRegistered),
	})
	require.Error(t, err)

	got, err := b.Load(ctx, []ir.Address{bob.Address})
	require.NoError(t, err)
	assert.Empty(t, got)

	all, err := b.Notifications(ctx, store.NotificationQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testNotificationSeqAndFilters(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owners := []ir.Identity{"a", "b", "c", "d"}
	for i, o := range owners {
		name := ir.EventUserRegistered
		if i%2 == 1 {
			name = ir.EventEnergyReported
		}
		_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{createPosition(o)}, Notification: note(name)})
		require.NoError(t, err)
	}

	all, err := b.Notifications(ctx, store.NotificationQuery{Namespace: namespace})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, n := range all {
		assert.Equal(t, int64(i+1), n.Seq)
		n1, _ := n.Payload.Uint64("n")
		assert.Equal(t, uint64(1), n1)
	}

	reported, err := b.Notifications(ctx, store.NotificationQuery{Name: ir.EventEnergyReported})
	require.NoError(t, err)
	require.Len(t, reported, 2)
	assert.Equal(t, int64(2), reported[0].Seq)
	assert.Equal(t, int64(4), reported[1].Seq)

	after, err := b.Notifications(ctx, store.NotificationQuery{AfterSeq: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, int64(3), after[0].Seq)

	other, err := b.Notifications(ctx, store.NotificationQuery{Namespace: "elsewhere"})
	require.NoError(t, err)
	assert.Empty(t, other)

	// IDs are content addressed and agree with ir.NotificationID
	id, err := ir.NotificationID(all[0])
	require.NoError(t, err)
	assert.Equal(t, id, all[0].ID)
}

func testRecordsByKind(t *testing.T, b store.Backend) {
	ctx := context.Background()
	for _, o := range []ir.Identity{"carol", "alice", "bob"} {
		_, err := b.Apply(ctx, store.Batch{Mutations: []store.Mutation{createPosition(o)}, Notification: note(ir.EventUserRegistered)})
		require.NoError(t, err)
	}

	recs, err := b.Records(ctx, namespace, ir.KindUserPosition)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.Less(t, string(recs[i-1].Address), string(recs[i].Address))
	}

	sales, err := b.Records(ctx, namespace, ir.KindSale)
	require.NoError(t, err)
	assert.Empty(t, sales)
}
