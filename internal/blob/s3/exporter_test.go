package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upload struct {
	path        string
	body        []byte
	contentType string
}

type fakeWriter struct {
	mu      sync.Mutex
	uploads []upload
	fail    bool
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("bucket unreachable")
	}
	body, _ := io.ReadAll(data)
	f.uploads = append(f.uploads, upload{path: path, body: body, contentType: contentType})
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "multipart")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC)
}

func lines(b []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		n++
	}
	return n
}

func TestExporter_FlushWritesJSONLPerKind(t *testing.T) {
	w := &fakeWriter{}
	x := NewExporter(w, discardLogger(), WithExportClock(fixedClock))
	x.Add(KindDecisions, map[string]any{"id": "a"})
	x.Add(KindDecisions, map[string]any{"id": "b"})
	x.Add(KindTransitions, map[string]any{"to": "HUNTING"})

	n, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, w.uploads, 2)

	assert.Equal(t, "export/decisions/2026-03-01/123005.jsonl", w.uploads[0].path)
	assert.Equal(t, "application/x-ndjson", w.uploads[0].contentType)
	assert.Equal(t, 2, lines(w.uploads[0].body))
	assert.Equal(t, "export/transitions/2026-03-01/123005.jsonl", w.uploads[1].path)
	assert.Zero(t, x.Pending())
}

func TestExporter_EmptyFlushUploadsNothing(t *testing.T) {
	w := &fakeWriter{}
	x := NewExporter(w, discardLogger())
	n, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.uploads)
}

func TestExporter_FailedUploadRequeues(t *testing.T) {
	w := &fakeWriter{fail: true}
	x := NewExporter(w, discardLogger(), WithExportClock(fixedClock))
	x.Add(KindWhale, "first")

	_, err := x.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, x.Pending())

	x.Add(KindWhale, "second")
	w.fail = false
	n, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.uploads, 1)
	assert.Equal(t, "\"first\"\n\"second\"\n", string(w.uploads[0].body))
}

func TestExporter_BufferCapDropsOldest(t *testing.T) {
	w := &fakeWriter{}
	x := NewExporter(w, discardLogger(), WithMaxBuffered(2))
	x.Add(KindDecisions, 1)
	x.Add(KindDecisions, 2)
	x.Add(KindDecisions, 3)
	assert.Equal(t, 2, x.Pending())
	assert.Equal(t, uint64(1), x.Dropped())

	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2\n3\n", string(w.uploads[0].body))
}

func TestExporter_RunFlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	x := NewExporter(w, discardLogger())
	x.Add(KindTransitions, "t")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, x.Run(ctx, time.Hour))
	assert.Len(t, w.uploads, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{prefix: "predator/"}
	assert.Equal(t, "predator/export/x.jsonl", c.Key("/export/x.jsonl"))
}
