package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-harvester-go/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "harvester_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	require.NoError(t, Migrate(db, log))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestGormKVGetSet(t *testing.T) {
	ctx := context.Background()
	kv := NewGormKV(setupTestDB(t))

	v, err := kv.Get(ctx, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	require.NoError(t, kv.Set(ctx, "k", "one"))
	require.NoError(t, kv.Set(ctx, "k", "two"))

	v, err = kv.Get(ctx, "k", "")
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestProcessedIndexEvictsOldest(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	idx, err := LoadProcessedIndex(ctx, kv, 3)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		idx.Mark(fmt.Sprintf("m%d", i))
	}
	idx.Mark("m5")
	require.NoError(t, idx.Flush(ctx))

	assert.Equal(t, 3, idx.Len())
	assert.False(t, idx.Contains("m1"))
	assert.False(t, idx.Contains("m2"))
	assert.True(t, idx.Contains("m5"))

	raw, _ := kv.Get(ctx, KeyProcessedIDs, "")
	assert.JSONEq(t, `["m3","m4","m5"]`, raw)

	reloaded, err := LoadProcessedIndex(ctx, kv, 3)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("m4"))
}

func TestProcessedIndexPersistsThroughGorm(t *testing.T) {
	ctx := context.Background()
	kv := NewGormKV(setupTestDB(t))

	idx, err := LoadProcessedIndex(ctx, kv, 0)
	require.NoError(t, err)
	require.NoError(t, idx.MarkAndFlush(ctx, "18c2f0a"))

	again, err := LoadProcessedIndex(ctx, kv, 0)
	require.NoError(t, err)
	assert.True(t, again.Contains("18c2f0a"))
}

func TestProcessedIndexCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyProcessedIDs, "not json"))

	_, err := LoadProcessedIndex(ctx, kv, 0)
	assert.Error(t, err)
}

func TestLastRunAt(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	_, ok, err := LastRunAt(ctx, kv)
	require.NoError(t, err)
	assert.False(t, ok)

	when := time.Date(2025, 4, 2, 7, 30, 0, 0, time.UTC)
	require.NoError(t, SetLastRunAt(ctx, kv, when))

	got, ok, err := LastRunAt(ctx, kv)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, when.Equal(got))
}

func TestRunLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRunLogRepository(setupTestDB(t))

	base := time.Date(2025, 4, 2, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		log := &models.RunLog{RunID: fmt.Sprintf("run-%d", i), Trigger: "cron", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.Create(ctx, log))
		log.Created = i
		require.NoError(t, repo.Finish(ctx, log))
	}

	logs, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "run-2", logs[0].RunID)
	assert.Equal(t, 2, logs[0].Created)
	assert.Equal(t, "run-1", logs[1].RunID)
}
