package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-ai/modelgate/internal/store"
	"github.com/calder-ai/modelgate/internal/store/model"
	"github.com/calder-ai/modelgate/internal/store/sqlite"
)

func openTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func download(modelID, quant string) *model.Download {
	return &model.Download{
		ID:           uuid.New().String(),
		Model:        modelID,
		Quantization: quant,
		Path:         "/models/" + modelID + "-" + quant + ".gguf",
		SizeBytes:    1 << 30,
	}
}

func TestDownloadsRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	in := download("llama3.2", "Q4_K_M")
	require.NoError(t, repo.Downloads().Put(ctx, in))

	got, err := repo.Downloads().Get(ctx, "llama3.2", "Q4_K_M")
	require.NoError(t, err)
	assert.Equal(t, in.Path, got.Path)
	assert.Equal(t, in.SizeBytes, got.SizeBytes)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestDownloadsGetMissing(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.Downloads().Get(context.Background(), "nope", "Q4_K_M")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDownloadsPutUpserts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first := download("llama3.2", "Q4_K_M")
	require.NoError(t, repo.Downloads().Put(ctx, first))

	second := download("llama3.2", "Q4_K_M")
	second.Path = "/elsewhere/llama.gguf"
	second.SizeBytes = 42
	require.NoError(t, repo.Downloads().Put(ctx, second))

	got, err := repo.Downloads().Get(ctx, "llama3.2", "Q4_K_M")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/llama.gguf", got.Path)
	assert.Equal(t, int64(42), got.SizeBytes)

	all, err := repo.Downloads().List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDownloadsListOrdered(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Downloads().Put(ctx, download("qwen2.5", "Q4_K_M")))
	require.NoError(t, repo.Downloads().Put(ctx, download("llama3.2", "Q8_0")))
	require.NoError(t, repo.Downloads().Put(ctx, download("llama3.2", "Q4_K_M")))

	all, err := repo.Downloads().List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "llama3.2", all[0].Model)
	assert.Equal(t, "Q4_K_M", all[0].Quantization)
	assert.Equal(t, "qwen2.5", all[2].Model)
}

func TestDownloadsDelete(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Downloads().Put(ctx, download("llama3.2", "Q4_K_M")))
	require.NoError(t, repo.Downloads().Delete(ctx, "llama3.2", "Q4_K_M"))

	_, err := repo.Downloads().Get(ctx, "llama3.2", "Q4_K_M")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func statEvent(op, errType string, tokens int, latency int64, ts time.Time) model.StatEvent {
	return model.StatEvent{
		ID:        uuid.New().String(),
		Timestamp: ts,
		Backend:   "ollama",
		Model:     "llama3.2",
		Operation: op,
		LatencyMS: latency,
		Tokens:    tokens,
		ErrorType: errType,
	}
}

func TestStatsInsertAndSummary(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []model.StatEvent{
		statEvent("chat", "", 120, 900, now),
		statEvent("stream", "", 80, 1500, now),
		statEvent("chat", "timeout", 0, 30000, now),
	}
	require.NoError(t, repo.Stats().Insert(ctx, events))

	sum, err := repo.Stats().Summary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Operations)
	assert.Equal(t, int64(1), sum.Errors)
	assert.Equal(t, int64(200), sum.TotalTokens)
	assert.InDelta(t, 10800.0, sum.AvgLatencyMS, 0.1)
}

func TestStatsSummaryWindowExcludesOldEvents(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Stats().Insert(ctx, []model.StatEvent{
		statEvent("chat", "", 10, 100, now.AddDate(0, 0, -30)),
		statEvent("chat", "", 20, 100, now),
	}))

	sum, err := repo.Stats().Summary(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Operations)
	assert.Equal(t, int64(20), sum.TotalTokens)
}

func TestStatsSummaryEmpty(t *testing.T) {
	repo := openTestRepo(t)

	sum, err := repo.Stats().Summary(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.Operations)
	assert.Zero(t, sum.Errors)
	assert.Zero(t, sum.TotalTokens)
	assert.Zero(t, sum.AvgLatencyMS)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.Downloads().Put(ctx, download("llama3.2", "Q4_K_M")); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = repo.Downloads().Get(ctx, "llama3.2", "Q4_K_M")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestWithTxCommits(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx store.Repository) error {
		return tx.Downloads().Put(ctx, download("gemma2", "Q4_K_M"))
	})
	require.NoError(t, err)

	got, err := repo.Downloads().Get(ctx, "gemma2", "Q4_K_M")
	require.NoError(t, err)
	assert.Equal(t, "gemma2", got.Model)
}
