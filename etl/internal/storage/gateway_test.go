package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/models"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/retry"
)

// faultyBucket wraps a MemoryBucket and fails calls on demand.
type faultyBucket struct {
	*MemoryBucket

	mu            sync.Mutex
	uploadErrs    []error
	existsErr     error
	uploadCalls   int
	deleteCalls   int
	uploadedBytes []int64
}

func (b *faultyBucket) Exists(ctx context.Context, key string) (bool, error) {
	if b.existsErr != nil {
		return false, b.existsErr
	}
	return b.MemoryBucket.Exists(ctx, key)
}

func (b *faultyBucket) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	b.mu.Lock()
	b.uploadCalls++
	b.uploadedBytes = append(b.uploadedBytes, size)
	var err error
	if len(b.uploadErrs) > 0 {
		err, b.uploadErrs = b.uploadErrs[0], b.uploadErrs[1:]
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBucket.Upload(ctx, key, contentType, body, size)
}

func (b *faultyBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.deleteCalls++
	b.mu.Unlock()
	return b.MemoryBucket.Delete(ctx, key)
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestGateway(t *testing.T, bucket Bucket, rec *sleepRecorder) (*Gateway, string) {
	t.Helper()
	staging := t.TempDir()
	policy := retry.New(3, time.Second)
	policy.Sleep = rec.sleep
	gw := NewGateway(bucket, "users",
		WithRetry(policy),
		WithStagingDir(staging),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return gw, staging
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging files must be removed")
}

func sampleBatch(n int) models.Batch {
	ts := time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)
	id := "2024_05_01__13_45_00_aZ3kQ9xP2m"
	batch := make(models.Batch, n)
	for i := range batch {
		batch[i] = models.User{
			ID:                int64(i + 1),
			UUID:              "8ddd6660-3543-3cfc-bc7c-4fa0bff3b448",
			Firstname:         "Murphy",
			Lastname:          "Walter",
			Username:          "mckenzie97",
			Password:          `jQb-);RX"`,
			Email:             "jacobson.anderson@effertz.org",
			IP:                "156.168.202.126",
			MacAddress:        "10:51:9d:a9:51:5e",
			Website:           "http://schulist.org/",
			Image:             "http://placeimg.com/640/480/people?a=1&b=2",
			PipelineID:        &id,
			PipelineTimestamp: &ts,
		}
	}
	return batch
}

func TestGateway_FullKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"users", "dev/out.json", "users/dev/out.json"},
		{"/users/", "/history/r.json", "users/history/r.json"},
		{"", "logs/r.txt", "logs/r.txt"},
	}

	for _, tt := range tests {
		gw := NewGateway(NewMemoryBucket("b"), tt.prefix)
		assert.Equal(t, tt.want, gw.FullKey(tt.key))
	}
}

func TestGateway_PutGetRoundTrip(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw, staging := newTestGateway(t, bucket, &sleepRecorder{})
	ctx := context.Background()
	batch := sampleBatch(10)

	require.NoError(t, gw.Put(ctx, "dev/data.json", NDJSON(batch)))

	data, contentType, ok := bucket.Object("users/dev/data.json")
	require.True(t, ok)
	assert.Equal(t, ContentTypeNDJSON, contentType)
	assert.Equal(t, 10, countLines(data))

	records, err := gw.Get(ctx, "dev/data.json")
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, raw := range records {
		var got models.User
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, batch[i].ID, got.ID)
		assert.Equal(t, batch[i].Password, got.Password)
		assert.Equal(t, batch[i].Image, got.Image)
		assert.Equal(t, *batch[i].PipelineID, *got.PipelineID)
		assert.True(t, batch[i].PipelineTimestamp.Equal(*got.PipelineTimestamp))
	}
	assertEmptyDir(t, staging)
}

func TestGateway_PutTwiceLeavesOneObject(t *testing.T) {
	bucket := &faultyBucket{MemoryBucket: NewMemoryBucket("b")}
	gw, _ := newTestGateway(t, bucket, &sleepRecorder{})
	ctx := context.Background()
	batch := sampleBatch(3)

	require.NoError(t, gw.Put(ctx, "dev/data.json", NDJSON(batch)))
	first, _, _ := bucket.Object("users/dev/data.json")

	require.NoError(t, gw.Put(ctx, "dev/data.json", NDJSON(batch)))
	second, _, _ := bucket.Object("users/dev/data.json")

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"users/dev/data.json"}, bucket.Keys())
	assert.Equal(t, 1, bucket.deleteCalls, "existing object is deleted before the second write")
}

func TestGateway_PutRetriesTransientFailures(t *testing.T) {
	bucket := &faultyBucket{
		MemoryBucket: NewMemoryBucket("b"),
		uploadErrs:   []error{errors.New("connection reset"), errors.New("503 slow down")},
	}
	rec := &sleepRecorder{}
	gw, staging := newTestGateway(t, bucket, rec)

	require.NoError(t, gw.Put(context.Background(), "dev/data.json", NDJSON(sampleBatch(2))))

	assert.Equal(t, 3, bucket.uploadCalls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.sleeps)
	assert.Equal(t, bucket.uploadedBytes[0], bucket.uploadedBytes[2], "every attempt uploads the full staged file")
	assertEmptyDir(t, staging)
}

func TestGateway_PutExhaustsRetries(t *testing.T) {
	flaky := errors.New("timeout")
	bucket := &faultyBucket{
		MemoryBucket: NewMemoryBucket("b"),
		uploadErrs:   []error{flaky, flaky, flaky, flaky},
	}
	rec := &sleepRecorder{}
	gw, staging := newTestGateway(t, bucket, rec)

	err := gw.Put(context.Background(), "dev/data.json", NDJSON(sampleBatch(2)))

	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, bucket.uploadCalls)
	assert.Len(t, rec.sleeps, 2)
	assert.Empty(t, bucket.Keys())
	assertEmptyDir(t, staging)
}

func TestGateway_PutTerminalErrors(t *testing.T) {
	for _, sentinel := range []error{ErrBucketNotFound, ErrPermissionDenied} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			t.Run("on upload", func(t *testing.T) {
				bucket := &faultyBucket{
					MemoryBucket: NewMemoryBucket("b"),
					uploadErrs:   []error{sentinel},
				}
				rec := &sleepRecorder{}
				gw, staging := newTestGateway(t, bucket, rec)

				err := gw.Put(context.Background(), "dev/data.json", NDJSON(sampleBatch(1)))

				assert.ErrorIs(t, err, sentinel)
				assert.Equal(t, 1, bucket.uploadCalls)
				assert.Empty(t, rec.sleeps)
				assertEmptyDir(t, staging)
			})

			t.Run("on existence check", func(t *testing.T) {
				bucket := &faultyBucket{
					MemoryBucket: NewMemoryBucket("b"),
					existsErr:    sentinel,
				}
				gw, staging := newTestGateway(t, bucket, &sleepRecorder{})

				err := gw.Put(context.Background(), "dev/data.json", NDJSON(sampleBatch(1)))

				assert.ErrorIs(t, err, sentinel)
				assert.Zero(t, bucket.uploadCalls)
				assertEmptyDir(t, staging)
			})
		})
	}
}

func TestGateway_PutPayloadError(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw, staging := newTestGateway(t, bucket, &sleepRecorder{})

	err := gw.Put(context.Background(), "bad.json", JSON(func() {}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "write staging file")
	assert.Empty(t, bucket.Keys())
	assertEmptyDir(t, staging)
}

func TestGateway_PutJSONAndText(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw, _ := newTestGateway(t, bucket, &sleepRecorder{})
	ctx := context.Background()

	require.NoError(t, gw.Put(ctx, "failed/r_response.json", JSON(map[string]any{"errors": []string{"x"}})))
	require.NoError(t, gw.Put(ctx, "logs/r.txt", Text([]byte("line\n"))))

	data, contentType, ok := bucket.Object("users/failed/r_response.json")
	require.True(t, ok)
	assert.Equal(t, ContentTypeJSON, contentType)
	assert.JSONEq(t, `{"errors":["x"]}`, string(data))

	raw, err := gw.GetRaw(ctx, "logs/r.txt")
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(raw))
}

func TestGateway_GetErrors(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw, _ := newTestGateway(t, bucket, &sleepRecorder{})
	ctx := context.Background()

	_, err := gw.Get(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, gw.Put(ctx, "broken.json", Text([]byte("{\"id\":1}\n\nnot json\n"))))
	_, err = gw.Get(ctx, "broken.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3: invalid JSON")
}

func TestGateway_GetDocuments(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw, _ := newTestGateway(t, bucket, &sleepRecorder{})
	ctx := context.Background()

	require.NoError(t, gw.Put(ctx, "failed/r_response.json", JSON(map[string]any{
		"errors":   []string{"SchemaError: data: field required"},
		"response": map[string]any{"status": "OK"},
	})))
	require.NoError(t, gw.Put(ctx, "dev/data.json", NDJSON(sampleBatch(3))))
	require.NoError(t, gw.Put(ctx, "logs/r.txt", Text([]byte("time=now level=INFO msg=\"Pipeline failed\"\n"))))

	// Indented JSON is not valid NDJSON.
	_, err := gw.Get(ctx, "failed/r_response.json")
	require.Error(t, err)

	docs, err := gw.GetDocuments(ctx, "failed/r_response.json")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"errors":["SchemaError: data: field required"],"response":{"status":"OK"}}`, string(docs[0]))

	docs, err = gw.GetDocuments(ctx, "dev/data.json")
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	_, err = gw.GetDocuments(ctx, "logs/r.txt")
	assert.ErrorContains(t, err, "line 1: invalid JSON")

	_, err = gw.GetDocuments(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestGateway_ListExistsDelete(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw, _ := newTestGateway(t, bucket, &sleepRecorder{})
	ctx := context.Background()

	for _, key := range []string{"dev/data.json", "dev_old/data.json", "history/r1.json", "history/r2.json"} {
		require.NoError(t, gw.Put(ctx, key, Text([]byte("{}\n"))))
	}
	require.NoError(t, bucket.Upload(ctx, "other/outside.json", ContentTypeJSON, strings.NewReader("{}"), -1))

	all, err := gw.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/data.json", "dev_old/data.json", "history/r1.json", "history/r2.json"}, all)

	dir, err := gw.List(ctx, "dev/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/data.json"}, dir)

	history, err := gw.List(ctx, "history")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	ok, err := gw.Exists(ctx, "history/r1.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, gw.Delete(ctx, "history/r1.json"))
	ok, err = gw.Exists(ctx, "history/r1.json")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, gw.Delete(ctx, "history/r1.json"), "deleting a missing object is a no-op")
}

func TestGateway_ListWithoutPrefix(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw := NewGateway(bucket, "", WithStagingDir(t.TempDir()), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()

	for _, key := range []string{"dev/x.json", "dev_old/x.json", "history/r1.json"} {
		require.NoError(t, gw.Put(ctx, key, Text([]byte("{}\n"))))
	}

	dir, err := gw.List(ctx, "dev/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/x.json"}, dir)

	all, err := gw.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/x.json", "dev_old/x.json", "history/r1.json"}, all)

	history, err := gw.List(ctx, "history")
	require.NoError(t, err)
	assert.Equal(t, []string{"history/r1.json"}, history)
}

func TestGateway_Accessors(t *testing.T) {
	bucket := NewMemoryBucket("b")
	gw := NewGateway(bucket, "/users/")

	assert.Equal(t, "users", gw.Prefix())
	assert.Same(t, bucket, gw.Bucket())
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
