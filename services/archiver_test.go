package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"testing"
	"time"

	"vinted_scrooper/models"
)

type fakeUploader struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (u *fakeUploader) Key(parts ...string) string {
	return path.Join(append([]string{"batches"}, parts...)...)
}

func (u *fakeUploader) ObjectURL(key string) string {
	return "s3://archive/" + key
}

func (u *fakeUploader) Upload(_ context.Context, key string, data io.Reader, contentType string) error {
	u.key = key
	u.contentType = contentType
	u.body, _ = io.ReadAll(data)
	return u.err
}

func TestArchiveWritesJSONLines(t *testing.T) {
	up := &fakeUploader{}
	a := NewArchiver(up)
	a.now = func() time.Time { return time.Date(2025, 4, 2, 23, 0, 0, 0, time.UTC) }

	if err := a.Archive(context.Background(), 7, 1904, testBatch(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if up.key != "batches/2025-04-02/run-7/catalog-1904.jsonl" {
		t.Errorf("unexpected key %q", up.key)
	}
	if up.contentType != "application/x-ndjson" {
		t.Errorf("unexpected content type %q", up.contentType)
	}

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(up.body))
	for scanner.Scan() {
		var item models.ItemRecord
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			t.Fatalf("line is not an item record: %v", err)
		}
		ids = append(ids, item.VintedID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("unexpected archived ids %v", ids)
	}
}

func TestArchiveSkipsEmptyBatch(t *testing.T) {
	up := &fakeUploader{}
	if err := NewArchiver(up).Archive(context.Background(), 1, 2, &models.Batch{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.key != "" {
		t.Error("expected no upload for an empty batch")
	}
}

func TestArchiveUploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("bucket missing")}
	if err := NewArchiver(up).Archive(context.Background(), 1, 2, testBatch(1)); err == nil {
		t.Fatal("expected error")
	}
}
