package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/storage/postgres"
	"github.com/cory-johannsen/battleship/internal/testutil"
)

func newRepo(t *testing.T) *postgres.ResultRepository {
	t.Helper()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewResultRepository(pc.RawPool)
}

func result(winner, loser string, ended time.Time) postgres.GameResult {
	return postgres.GameResult{
		ID:        uuid.New(),
		RoomCode:  "1234",
		Winner:    winner,
		Loser:     loser,
		Turns:     42,
		StartedAt: ended.Add(-10 * time.Minute),
		EndedAt:   ended,
	}
}

func TestResultRepository(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := result("alice", "bob", now.Add(-time.Hour))
	second := result("bob", "alice", now)
	third := result("alice", "carol", now.Add(-2*time.Hour))
	for _, r := range []postgres.GameResult{first, second, third} {
		require.NoError(t, repo.Save(ctx, r))
	}

	t.Run("get", func(t *testing.T) {
		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Winner, got.Winner)
		assert.Equal(t, first.Turns, got.Turns)
		assert.True(t, first.EndedAt.Equal(got.EndedAt))
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, postgres.ErrResultNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		assert.Error(t, repo.Save(ctx, first))
	})

	t.Run("recent", func(t *testing.T) {
		got, err := repo.Recent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, second.ID, got[0].ID)
		assert.Equal(t, first.ID, got[1].ID)
	})

	t.Run("record", func(t *testing.T) {
		rec, err := repo.Record(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Wins)
		assert.Equal(t, 1, rec.Losses)

		rec, err = repo.Record(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, rec.Wins+rec.Losses)
	})
}

func TestPoolHealth(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	assert.NoError(t, pc.Pool.Health(context.Background(), 5*time.Second))
}

func TestMigrateIsIdempotent(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	first, err := postgres.Migrate("file://"+testutil.MigrationsDir(), pc.Config)
	require.NoError(t, err)
	second, err := postgres.Migrate("file://"+testutil.MigrationsDir(), pc.Config)
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
	assert.Equal(t, first, second)
}

func TestNewPoolGivesUpWhenUnreachable(t *testing.T) {
	cfg := config.DatabaseConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     1,
		User:     "nobody",
		Name:     "nothing",
		SSLMode:  "disable",
		MaxConns: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	_, err := postgres.NewPool(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempts")
}
