package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Archiver uploads the artifacts of a finished session. Objects land under
// {prefix}/{run_id}/{session}/{file}. Files at or over the part size use a
// multipart upload.
type Archiver struct {
	writer   domain.BlobWriter
	prefix   string
	partSize int64
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. partSize is in bytes.
func NewArchiver(writer domain.BlobWriter, prefix string, partSize int64, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:   writer,
		prefix:   strings.Trim(prefix, "/"),
		partSize: clampPartSize(partSize),
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Key returns the object key of file for runID and session.
func (a *Archiver) Key(runID, session, file string) string {
	return path.Join(a.prefix, runID, session, file)
}

// Upload sends every artifact and returns the keys written, in order. It
// stops at the first failure.
func (a *Archiver) Upload(ctx context.Context, runID, session string, artifacts []domain.Artifact) ([]string, error) {
	keys := make([]string, 0, len(artifacts))
	for _, art := range artifacts {
		key := a.Key(runID, session, art.Name)
		if err := a.put(ctx, key, art); err != nil {
			return keys, err
		}
		keys = append(keys, key)
		a.logger.Debug("archiver: uploaded",
			slog.String("key", key),
			slog.Int64("size", art.Size),
		)
	}
	return keys, nil
}

func (a *Archiver) put(ctx context.Context, key string, art domain.Artifact) error {
	f, err := os.Open(art.Path)
	if err != nil {
		return fmt.Errorf("s3blob: open artifact %s: %w", art.Name, err)
	}
	defer f.Close()

	if art.Size >= a.partSize {
		return a.writer.PutMultipart(ctx, key, f, a.partSize)
	}
	return a.writer.Put(ctx, key, f, contentType(art.Name))
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".bin":
		return "application/x-protobuf"
	case ".pcap":
		return "application/vnd.tcpdump.pcap"
	default:
		return "application/octet-stream"
	}
}
