package schedule

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

func sampleAlarms() []alarm.Armed {
	armedAt := time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

	once := alarm.NewDeliverySpec(
		&alarm.Request{ID: "tea", Title: "Tea", Actions: alarm.Actions{Dismiss: &alarm.DismissAction{Label: "Done"}}},
		armedAt.Add(time.Hour),
		alarm.DefaultSnoozeMinutes,
	)
	daily := alarm.NewDeliverySpec(
		&alarm.Request{ID: "pill", Title: "Pill", RepeatDaily: true, OpenTarget: "/meds"},
		armedAt.Add(2*time.Hour),
		alarm.DefaultSnoozeMinutes,
	)

	return []alarm.Armed{
		{DeliveryID: "d-1", Spec: once, ArmedAt: armedAt},
		{DeliveryID: "d-2", Spec: daily, ArmedAt: armedAt},
	}
}

func byDeliveryID(a, b alarm.Armed) int {
	return strings.Compare(a.DeliveryID, b.DeliveryID)
}

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	got, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, got)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns the same alarms.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "armed.json")
	repo := NewFileRepository(file)
	want := sampleAlarms()

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = os.Stat(file + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, repo.Save(context.Background(), nil))

	got, err = repo.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestFileRepository_RejectsBadFiles refuses corrupt and future files.
func TestFileRepository_RejectsBadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o600))

	_, err := NewFileRepository(corrupt).Load(context.Background())
	require.Error(t, err)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 99, "alarms": []}`), 0o600))

	_, err = NewFileRepository(future).Load(context.Background())
	require.ErrorContains(t, err, "newer")

	incomplete := filepath.Join(dir, "incomplete.json")
	require.NoError(t, os.WriteFile(incomplete, []byte(`{"version": 1, "alarms": [{"delivery_id": "d-1"}]}`), 0o600))

	_, err = NewFileRepository(incomplete).Load(context.Background())
	require.Error(t, err)
}

// TestRedisRepository_Roundtrip stores alarms in a hash and replaces them on save.
func TestRedisRepository_Roundtrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newRedisRepository(client, "")

	defer func() { require.NoError(t, repo.Close()) }()

	ctx := context.Background()

	_, err := repo.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	want := sampleAlarms()
	require.NoError(t, repo.Save(ctx, want))
	require.True(t, mr.Exists(DefaultRedisKey))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	slices.SortFunc(got, byDeliveryID)
	require.Equal(t, want, got)

	require.NoError(t, repo.Save(ctx, want[:1]))

	got, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want[:1], got)
}

// TestNewRedisRepository_Unreachable fails fast when redis is down.
func TestNewRedisRepository_Unreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisRepository(context.Background(), RedisOptions{Addr: addr})
	require.Error(t, err)
}
