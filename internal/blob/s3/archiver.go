package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// ExecutionArchiveStore provides read access to execution records for
// archival. The Postgres journal store satisfies this through its
// time-ranged query; the full store interface is deliberately not required.
type ExecutionArchiveStore interface {
	// ListBefore returns all executions started strictly before the cutoff,
	// oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
}

// Archiver sweeps aged execution records out of the hot journal into object
// storage as JSONL, partitioned by the year-month of the cutoff.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to run after the archive
// has been verified.
type Archiver struct {
	writer *Writer
	store  ExecutionArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, store ExecutionArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions uploads all executions started before the cutoff to
// archive/executions/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(recs))
	a.logger.Info("executions archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before))
	return count, nil
}

// Run archives on every tick until the context is cancelled. retention
// controls how old a record must be before it is swept.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ArchiveExecutions(ctx, time.Now().Add(-retention)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("archive sweep failed", slog.Any("error", err))
			}
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/executions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
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
