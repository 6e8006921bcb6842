package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

const ndjson = "application/x-ndjson"

// DiscoveryArchiver implements domain.Archiver. It exports old discoveries
// as JSONL and removes them from the primary store once the upload has
// succeeded.
type DiscoveryArchiver struct {
	writer domain.BlobWriter
	store  domain.DiscoveryStore
	logger *slog.Logger
}

// NewArchiver creates a DiscoveryArchiver.
func NewArchiver(writer domain.BlobWriter, store domain.DiscoveryStore, logger *slog.Logger) *DiscoveryArchiver {
	return &DiscoveryArchiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDiscoveries uploads every discovery older than before to
// archive/discoveries/YYYY-MM-DD.jsonl (the cutoff date), then deletes the
// archived rows. Nothing is deleted if the upload fails.
func (a *DiscoveryArchiver) ArchiveDiscoveries(ctx context.Context, before time.Time) (int64, error) {
	items, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive discoveries query: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(items)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive discoveries marshal: %w", err)
	}

	path := archivePath("discoveries", before)
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), ndjson)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive discoveries upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive discoveries delete: %w", err)
	}

	a.logger.InfoContext(ctx, "discoveries archived",
		slog.String("path", path),
		slog.Int("exported", len(items)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(items)), nil
}

// archivePath builds archive/<table>/YYYY-MM-DD.jsonl from the cutoff date.
func archivePath(table string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", table, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes one JSON object per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
