package stores

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageflow/pageflow/pkg/auth"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSQLiteStore_InitAndMigrate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HealthCheck(ctx))
	// Running migrations twice is a no-op.
	require.NoError(t, store.Migrate(ctx))
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}

func TestSQLiteStore_RecorderLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := store.Recorder("crm-prod")

	id := uuid.New().String()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, rec.BeginAttempt(ctx, auth.Attempt{
		ID:        id,
		Host:      "contoso.crm4.dynamics.com",
		Path:      "/main.aspx",
		StartedAt: started,
	}))

	steps := []auth.Transition{
		{AttemptID: id, From: auth.StateStart, To: auth.StateUsernameEntry, At: started.Add(time.Second)},
		{AttemptID: id, From: auth.StateUsernameEntry, To: auth.StatePasswordEntry, At: started.Add(2 * time.Second)},
		{AttemptID: id, From: auth.StatePasswordEntry, To: auth.StateSuccess, Detail: "main page visible", At: started.Add(3 * time.Second)},
	}
	for _, tr := range steps {
		require.NoError(t, rec.RecordTransition(ctx, tr))
	}

	got, err := store.GetAttempt(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Outcome)

	require.NoError(t, rec.FinishAttempt(ctx, id, auth.Result{
		Outcome:     auth.Success,
		State:       auth.StateSuccess,
		OTCAttempts: 1,
		Duration:    3 * time.Second,
	}))

	got, err = store.GetAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "crm-prod", got.Profile)
	assert.Equal(t, "contoso.crm4.dynamics.com", got.Host)
	assert.Equal(t, "/main.aspx", got.Path)
	assert.True(t, started.Equal(got.StartedAt))
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, "success", got.Outcome)
	assert.Equal(t, string(auth.StateSuccess), got.FinalState)
	assert.Equal(t, 1, got.OTCAttempts)
	assert.Equal(t, 3*time.Second, got.Duration)

	transitions, err := store.ListTransitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, string(auth.StateStart), transitions[0].From)
	assert.Equal(t, string(auth.StateSuccess), transitions[2].To)
	assert.Equal(t, "main page visible", transitions[2].Detail)
}

func TestSQLiteStore_FinishUnknownAttempt(t *testing.T) {
	store := setupTestStore(t)

	err := store.FinishAttempt(context.Background(), "missing", auth.Result{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetAttempt(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_TransitionRequiresAttempt(t *testing.T) {
	store := setupTestStore(t)

	err := store.AddTransition(context.Background(), auth.Transition{
		AttemptID: "missing",
		From:      auth.StateStart,
		To:        auth.StateFailure,
	})
	assert.Error(t, err)
}

func TestSQLiteStore_ListAttempts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	seed := []struct {
		profile string
		host    string
		outcome auth.Outcome
	}{
		{"prod", "a.example.com", auth.Success},
		{"prod", "a.example.com", auth.Failure},
		{"test", "b.example.com", auth.Success},
		{"test", "b.example.com", auth.Redirect},
	}
	for i, s := range seed {
		id := uuid.New().String()
		require.NoError(t, store.CreateAttempt(ctx, s.profile, auth.Attempt{
			ID:        id,
			Host:      s.host,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
		require.NoError(t, store.FinishAttempt(ctx, id, auth.Result{Outcome: s.outcome}))
	}

	t.Run("newest first", func(t *testing.T) {
		all, err := store.ListAttempts(ctx, AttemptFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "redirect", all[0].Outcome)
		assert.Equal(t, "prod", all[3].Profile)
	})

	t.Run("by host", func(t *testing.T) {
		got, err := store.ListAttempts(ctx, AttemptFilter{Host: "a.example.com"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by profile and outcome", func(t *testing.T) {
		got, err := store.ListAttempts(ctx, AttemptFilter{Profile: "test", Outcome: "success"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b.example.com", got[0].Host)
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := store.ListAttempts(ctx, AttemptFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "success", got[0].Outcome)
		assert.Equal(t, "test", got[0].Profile)
	})
}

func TestSQLiteStore_PruneAttempts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	oldID := uuid.New().String()
	require.NoError(t, store.CreateAttempt(ctx, "", auth.Attempt{ID: oldID, Host: "h", StartedAt: base}))
	require.NoError(t, store.AddTransition(ctx, auth.Transition{AttemptID: oldID, From: auth.StateStart, To: auth.StateFailure, At: base}))
	require.NoError(t, store.CreateAttempt(ctx, "", auth.Attempt{ID: uuid.New().String(), Host: "h", StartedAt: base.Add(48 * time.Hour)}))

	n, err := store.PruneAttempts(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	transitions, err := store.ListTransitions(ctx, oldID)
	require.NoError(t, err)
	assert.Empty(t, transitions)
}
