package transformer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/models"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/runctx"
)

func batchOf(n int) models.Batch {
	batch := make(models.Batch, n)
	for i := range batch {
		batch[i] = models.User{ID: int64(i + 1), Username: "user"}
	}
	return batch
}

func TestTransform_StampsEveryRecord(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)
	input := batchOf(10)

	out := Transform(input, "run-1", ts)

	require.Len(t, out, 10)
	for i, user := range out {
		assert.Equal(t, int64(i+1), user.ID)
		require.True(t, user.Stamped())
		assert.Equal(t, "run-1", *user.PipelineID)
		assert.True(t, ts.Equal(*user.PipelineTimestamp))
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	input := batchOf(3)

	_ = Transform(input, "run-1", time.Now())

	for _, user := range input {
		assert.False(t, user.Stamped())
	}
}

func TestTransform_RestampOverwritesWithSameValues(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)

	once := Transform(batchOf(2), "run-1", ts)
	twice := Transform(once, "run-1", ts)

	assert.Equal(t, once, twice)
}

func TestTransform_RecordsDoNotShareProvenance(t *testing.T) {
	out := Transform(batchOf(2), "run-1", time.Now())

	*out[0].PipelineID = "changed"
	assert.Equal(t, "run-1", *out[1].PipelineID)
}

func TestTransform_Empty(t *testing.T) {
	assert.Empty(t, Transform(nil, "run-1", time.Now()))
}

func TestForRun(t *testing.T) {
	start := time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)
	rc, err := runctx.NewFrom(start, bytes.NewReader(make([]byte, 20)))
	require.NoError(t, err)

	out := ForRun(batchOf(1), rc)

	assert.Equal(t, "2024_05_01__13_45_00_AAAAAAAAAA", *out[0].PipelineID)
	assert.Equal(t, start, *out[0].PipelineTimestamp)
}
