package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/metrics"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/retry"
)

const maxLineBytes = 4 << 20

// Gateway reads and writes objects under a key prefix. Callers always pass
// prefix-relative keys.
type Gateway struct {
	bucket     Bucket
	prefix     string
	policy     retry.Policy
	stagingDir string
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetry sets the upload retry policy. Bucket-not-found and
// permission-denied are always terminal.
func WithRetry(policy retry.Policy) Option {
	return func(g *Gateway) { g.policy = policy }
}

// WithStagingDir sets where payloads are staged before upload.
// Defaults to os.TempDir().
func WithStagingDir(dir string) Option {
	return func(g *Gateway) { g.stagingDir = dir }
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway returns a Gateway over bucket rooted at prefix.
func NewGateway(bucket Bucket, prefix string, opts ...Option) *Gateway {
	g := &Gateway{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		policy: retry.New(3, time.Second),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bucket returns the underlying bucket.
func (g *Gateway) Bucket() Bucket {
	return g.bucket
}

// Prefix returns the namespace prefix.
func (g *Gateway) Prefix() string {
	return g.prefix
}

// FullKey maps a prefix-relative key to the bucket key.
func (g *Gateway) FullKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *Gateway) relative(full string) string {
	if g.prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, g.prefix+"/")
}

// Put stages p in a local temp file, deletes any object already at key and
// uploads the staged file with retries. The temp file is removed on every path.
func (g *Gateway) Put(ctx context.Context, key string, p Payload) (err error) {
	full := g.FullKey(key)
	logger := g.logger.With(logging.Bucket(g.bucket.Name()), logging.Key(full))

	start := time.Now()
	defer func() {
		metrics.StorageOperations.WithLabelValues("put", metrics.Outcome(err)).Inc()
		metrics.StorageDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())
	}()

	staged, size, err := g.stage(p)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(staged); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("Failed to remove staging file", slog.String("path", staged), logging.Error(rmErr))
		}
	}()

	exists, err := g.bucket.Exists(ctx, full)
	if err != nil {
		g.logTerminal(logger, err)
		return fmt.Errorf("check object %s: %w", full, err)
	}
	if exists {
		logger.Info("Deleting existing object")
		if err := g.bucket.Delete(ctx, full); err != nil && !errors.Is(err, ErrObjectNotFound) {
			g.logTerminal(logger, err)
			return fmt.Errorf("delete object %s: %w", full, err)
		}
	} else {
		logger.Info("Object does not exist")
	}

	policy := g.policy
	policy.Classify = classify
	policy.OnFailure = func(attempt int, err error, wait time.Duration) {
		logger.Warn("Upload attempt failed",
			logging.Attempt(attempt+1),
			logging.Wait(wait),
			logging.Error(err),
		)
	}

	err = policy.Do(ctx, func(ctx context.Context, _ int) error {
		f, err := os.Open(staged)
		if err != nil {
			return retry.Terminal(fmt.Errorf("open staging file: %w", err))
		}
		defer f.Close()
		return g.bucket.Upload(ctx, full, p.ContentType, f, size)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			logger.Error("Upload failed", logging.Attempt(exhausted.Attempts), logging.Error(exhausted.Err))
		} else {
			g.logTerminal(logger, err)
		}
		return fmt.Errorf("upload %s: %w", full, err)
	}

	logger.Info("Uploaded object", slog.Int64("bytes", size))
	return nil
}

// stage writes p to a new temp file and returns its path and size.
func (g *Gateway) stage(p Payload) (string, int64, error) {
	f, err := os.CreateTemp(g.stagingDir, "telhawk-etl-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	name := f.Name()

	w := bufio.NewWriter(f)
	writeErr := p.Encode(w)
	if writeErr == nil {
		writeErr = w.Flush()
	}
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(name)
		return "", 0, fmt.Errorf("write staging file: %w", err)
	}

	info, err := os.Stat(name)
	if err != nil {
		_ = os.Remove(name)
		return "", 0, fmt.Errorf("stat staging file: %w", err)
	}
	return name, info.Size(), nil
}

// Get downloads key and parses each non-blank line as one JSON value.
func (g *Gateway) Get(ctx context.Context, key string) (records []json.RawMessage, err error) {
	full := g.FullKey(key)
	defer func() { metrics.StorageOperations.WithLabelValues("get", metrics.Outcome(err)).Inc() }()

	rc, err := g.bucket.Open(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", full, err)
	}
	defer rc.Close()

	return parseLines(full, rc)
}

// GetDocuments returns the JSON values stored at key. An object holding a
// single JSON document, such as a quarantine record, is returned whole;
// anything else is read as NDJSON.
func (g *Gateway) GetDocuments(ctx context.Context, key string) ([]json.RawMessage, error) {
	data, err := g.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc := bytes.TrimSpace(data); len(doc) > 0 && json.Valid(doc) {
		return []json.RawMessage{doc}, nil
	}
	return parseLines(g.FullKey(key), bytes.NewReader(data))
}

func parseLines(name string, r io.Reader) ([]json.RawMessage, error) {
	var records []json.RawMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("%s line %d: invalid JSON", name, line)
		}
		records = append(records, json.RawMessage(bytes.Clone(b)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return records, nil
}

// GetRaw downloads key without parsing.
func (g *Gateway) GetRaw(ctx context.Context, key string) ([]byte, error) {
	full := g.FullKey(key)
	rc, err := g.bucket.Open(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", full, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// List returns prefix-relative keys under prefix. A trailing slash limits
// the listing to that directory.
func (g *Gateway) List(ctx context.Context, prefix string) (keys []string, err error) {
	defer func() { metrics.StorageOperations.WithLabelValues("list", metrics.Outcome(err)).Inc() }()

	full := strings.TrimSuffix(g.FullKey(prefix), "/")
	if full != "" && (prefix == "" || strings.HasSuffix(prefix, "/")) {
		full += "/"
	}
	all, err := g.bucket.List(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", full, err)
	}
	keys = make([]string, 0, len(all))
	for _, k := range all {
		keys = append(keys, g.relative(k))
	}
	return keys, nil
}

// Exists reports whether key exists.
func (g *Gateway) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func() { metrics.StorageOperations.WithLabelValues("exists", metrics.Outcome(err)).Inc() }()

	full := g.FullKey(key)
	ok, err = g.bucket.Exists(ctx, full)
	if err != nil {
		return false, fmt.Errorf("check object %s: %w", full, err)
	}
	return ok, nil
}

// Delete removes key. A missing object is logged and is not an error.
func (g *Gateway) Delete(ctx context.Context, key string) (err error) {
	defer func() { metrics.StorageOperations.WithLabelValues("delete", metrics.Outcome(err)).Inc() }()

	full := g.FullKey(key)
	logger := g.logger.With(logging.Bucket(g.bucket.Name()), logging.Key(full))

	if err := g.bucket.Delete(ctx, full); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			logger.Info("Object does not exist, nothing to delete")
			return nil
		}
		return fmt.Errorf("delete %s: %w", full, err)
	}
	logger.Info("Deleted object")
	return nil
}

func (g *Gateway) logTerminal(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrBucketNotFound):
		logger.Error("Bucket not found, check the bucket name", logging.Error(err))
	case errors.Is(err, ErrPermissionDenied):
		logger.Error("Permission denied when accessing bucket", logging.Error(err))
	default:
		logger.Error("Storage operation failed", logging.Error(err))
	}
}

func classify(err error) retry.Action {
	if errors.Is(err, ErrBucketNotFound) || errors.Is(err, ErrPermissionDenied) {
		return retry.ActionFatal
	}
	return retry.Classify(err)
}
