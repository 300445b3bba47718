package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/predator/internal/domain"
)

// Export kinds.
const (
	KindDecisions   = "decisions"
	KindTransitions = "transitions"
	KindWhale       = "whale"
)

const (
	defaultMaxBuffered = 50_000
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// Exporter buffers journal records in memory and uploads them as JSONL
// objects, one object per kind per flush:
//
//	export/decisions/2026-03-01/120000.jsonl
//	export/transitions/2026-03-01/120000.jsonl
type Exporter struct {
	writer      domain.BlobWriter
	maxBuffered int
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	buf     map[string][]any
	dropped uint64
}

// ExporterOption customises an Exporter.
type ExporterOption func(*Exporter)

// WithMaxBuffered caps the records held per kind between flushes. The oldest
// record is dropped once the cap is reached.
func WithMaxBuffered(n int) ExporterOption {
	return func(x *Exporter) {
		if n > 0 {
			x.maxBuffered = n
		}
	}
}

// WithExportClock overrides the clock used to name objects.
func WithExportClock(fn func() time.Time) ExporterOption {
	return func(x *Exporter) { x.now = fn }
}

// NewExporter creates an Exporter uploading through w.
func NewExporter(w domain.BlobWriter, logger *slog.Logger, opts ...ExporterOption) *Exporter {
	x := &Exporter{
		writer:      w,
		maxBuffered: defaultMaxBuffered,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "s3_exporter")),
		buf:         make(map[string][]any),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Add queues one record of kind for the next flush.
func (x *Exporter) Add(kind string, rec any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	recs := append(x.buf[kind], rec)
	if over := len(recs) - x.maxBuffered; over > 0 {
		recs = recs[over:]
		x.dropped += uint64(over)
	}
	x.buf[kind] = recs
}

// Pending returns the number of buffered records across kinds.
func (x *Exporter) Pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, recs := range x.buf {
		n += len(recs)
	}
	return n
}

// Flush uploads every non-empty buffer and returns the number of records
// written. Records of a kind whose upload fails are put back for the next
// flush.
func (x *Exporter) Flush(ctx context.Context) (int, error) {
	x.mu.Lock()
	pending := x.buf
	x.buf = make(map[string][]any)
	x.mu.Unlock()

	kinds := make([]string, 0, len(pending))
	for k := range pending {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	now := x.now().UTC()
	written := 0
	var firstErr error
	for _, kind := range kinds {
		recs := pending[kind]
		if len(recs) == 0 {
			continue
		}
		if err := x.upload(ctx, kind, now, recs); err != nil {
			x.requeue(kind, recs)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += len(recs)
	}
	return written, firstErr
}

func (x *Exporter) upload(ctx context.Context, kind string, now time.Time, recs []any) error {
	data, err := marshalJSONL(recs)
	if err != nil {
		return fmt.Errorf("s3blob: export %s marshal: %w", kind, err)
	}
	path := exportPath(kind, now)
	if len(data) >= multipartThreshold {
		err = x.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = x.writer.Put(ctx, path, bytes.NewReader(data), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: export %s upload: %w", kind, err)
	}
	x.logger.Info("export uploaded", slog.String("path", path), slog.Int("records", len(recs)))
	return nil
}

// requeue puts failed records in front of anything added since the flush
// started, keeping the per-kind cap.
func (x *Exporter) requeue(kind string, recs []any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	merged := append(append([]any{}, recs...), x.buf[kind]...)
	if over := len(merged) - x.maxBuffered; over > 0 {
		merged = merged[over:]
		x.dropped += uint64(over)
	}
	x.buf[kind] = merged
}

// Run flushes every interval until ctx is cancelled, then makes a final
// flush bounded by a short timeout.
func (x *Exporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := x.Flush(flushCtx); err != nil {
				x.logger.Warn("final export failed", slog.String("error", err.Error()))
			}
			cancel()
			return nil
		case <-ticker.C:
			if _, err := x.Flush(ctx); err != nil {
				x.logger.Warn("export failed", slog.String("error", err.Error()))
			}
		}
	}
}

// exportPath partitions objects by day and names them by flush time.
func exportPath(kind string, at time.Time) string {
	return fmt.Sprintf("export/%s/%s/%s.jsonl", kind, at.Format("2006-01-02"), at.Format("150405"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Dropped returns how many records were discarded by the buffer cap.
func (x *Exporter) Dropped() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dropped
}
