package permission

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/storage"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := storage.Open("file::memory:", zap.NewNop(), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	store, err := NewSQLStore(db, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestSQLStoreAddAndFind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	found, err := store.FindByOrigin(ctx, "https://a.test")
	require.NoError(t, err)
	assert.Nil(t, found)

	r := &Rule{Origin: "https://a.test", Scope: SpecificHosts("x.test", "y.test"), From: FromWebsite}
	require.NoError(t, store.Add(ctx, r))
	assert.Equal(t, 1, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	found, err = store.FindByOrigin(ctx, "https://a.test")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 1, found.ID)
	assert.Equal(t, []string{"x.test", "y.test"}, found.Scope.Hosts)
	assert.Equal(t, FromWebsite, found.From)

	err = store.Add(ctx, &Rule{Origin: "https://a.test", Scope: AllHosts(), From: FromUser})
	assert.ErrorIs(t, err, ErrOriginExists)

	b := &Rule{Origin: "https://b.test", Scope: AllHosts(), From: FromUser}
	require.NoError(t, store.Add(ctx, b))
	assert.Equal(t, 2, b.ID)
}

func TestSQLStoreRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	err := store.Add(context.Background(), &Rule{Origin: "https://a.test", Scope: AllHosts(), From: FromWebsite})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestSQLStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r := &Rule{Origin: "https://a.test", Scope: SpecificHosts("x.test"), From: FromWebsite}
	require.NoError(t, store.Add(ctx, r))

	r.MergeHosts([]string{"z.test"})
	require.NoError(t, store.Update(ctx, r))

	found, err := store.FindByOrigin(ctx, "https://a.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.test", "z.test"}, found.Scope.Hosts)

	r.Scope = AllHosts()
	r.From = FromUser
	require.NoError(t, store.Update(ctx, r))
	found, err = store.FindByOrigin(ctx, "https://a.test")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, found.Scope.Kind)
	assert.Equal(t, FromUser, found.From)

	err = store.Update(ctx, &Rule{Origin: "https://missing.test", Scope: AllHosts(), From: FromUser})
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSQLStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, o := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		require.NoError(t, store.Add(ctx, &Rule{Origin: o, Scope: AllHosts(), From: FromUser}))
	}

	deleted, err := store.DeleteByOrigin(ctx, "https://b.test")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, 2, deleted.ID)

	deleted, err = store.DeleteByOrigin(ctx, "https://b.test")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "https://a.test", all[0].Origin)
	assert.Equal(t, "https://c.test", all[1].Origin)

	// ids are not reused after a delete
	d := &Rule{Origin: "https://d.test", Scope: AllHosts(), From: FromUser}
	require.NoError(t, store.Add(ctx, d))
	assert.Equal(t, 4, d.ID)
}

func TestSQLCounter(t *testing.T) {
	ctx := context.Background()
	c := newTestStore(t).Counter()

	peek, err := c.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, peek)

	for want := 1; want <= 3; want++ {
		got, err := c.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, c.Reset(ctx, 10))
	got, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	require.NoError(t, c.Reset(ctx, 0))
	peek, err = c.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, peek)
}
