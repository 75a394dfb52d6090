package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"vinted_scrooper/models"
)

// ObjectUploader is implemented by storage.S3Uploader.
type ObjectUploader interface {
	Key(parts ...string) string
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	ObjectURL(key string) string
}

// Archiver writes the item records of every uploaded batch as JSON lines to
// object storage, one object per run and catalog.
type Archiver struct {
	uploader ObjectUploader
	now      func() time.Time
}

func NewArchiver(uploader ObjectUploader) *Archiver {
	return &Archiver{uploader: uploader, now: time.Now}
}

func (a *Archiver) Archive(ctx context.Context, runID, catalogID int64, batch *models.Batch) error {
	if batch == nil || len(batch.Items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range batch.Items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode item %s: %w", item.VintedID, err)
		}
	}

	key := a.uploader.Key(
		a.now().UTC().Format("2006-01-02"),
		"run-"+strconv.FormatInt(runID, 10),
		"catalog-"+strconv.FormatInt(catalogID, 10)+".jsonl",
	)
	if err := a.uploader.Upload(ctx, key, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	log.Printf("Archived %d items to %s", len(batch.Items), a.uploader.ObjectURL(key))
	return nil
}
