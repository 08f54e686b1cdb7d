package blob

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestFilesystemStorePutReportsSizeAndMeta(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := AttachmentKey(1, 22)

	info, err := store.Put(ctx, key, strings.NewReader("payload"), PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"filename": "notes.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != int64(len("payload")) {
		t.Fatalf("Size = %d, want %d", info.Size, len("payload"))
	}
	if info.ContentType != "text/plain" || info.Metadata["filename"] != "notes.txt" {
		t.Fatalf("info = %+v", info)
	}

	got, reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "payload" || got.Size != info.Size {
		t.Fatalf("body = %q info = %+v", body, got)
	}
}

func TestFilesystemStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(context.Background(), "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatal("Put with traversal key must fail")
	}
}
