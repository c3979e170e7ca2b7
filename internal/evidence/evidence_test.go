package evidence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/s3client"
)

func TestStore_WriteReplacesAtomically(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "screenshots")
	store := NewStore(dir, nil)
	ctx := context.Background()

	path, err := store.Write(ctx, "sonarr", []byte("first"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != filepath.Join(dir, "sonarr.png") {
		t.Fatalf("path = %s", path)
	}
	if _, err := store.Write(ctx, "sonarr", []byte("second")); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("snapshot not replaced: %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("temp files left behind: %v", names)
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir(), nil)
	ctx := context.Background()

	if err := store.Remove(ctx, "pihole"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if _, err := store.Write(ctx, "pihole", []byte("png")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Remove(ctx, "pihole"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(store.Path("pihole")); !os.IsNotExist(err) {
		t.Fatalf("snapshot still present: %v", err)
	}
}

func TestStore_RejectsPathNames(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir(), nil)
	for _, name := range []string{"", "../etc", "a/b", "Upper"} {
		if _, err := store.Write(context.Background(), name, nil); !errs.Is(err, errs.InvalidArgument) {
			t.Errorf("Write(%q): expected invalid_argument, got %v", name, err)
		}
	}
}

func TestStore_MirrorsToBucket(t *testing.T) {
	t.Parallel()
	bucket := s3client.TestClient(t, "evidence", "runs")
	store := NewStore(t.TempDir(), bucket)
	ctx := obs.WithRunID(context.Background(), "run-1")

	if _, err := store.Write(ctx, "jellyfin", []byte("png-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := bucket.GetObject(ctx, "jellyfin.png")
	if err != nil {
		t.Fatalf("mirror GetObject: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("mirror content = %q", data)
	}

	if err := store.Remove(ctx, "jellyfin"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := bucket.GetObject(ctx, "jellyfin.png"); !errors.Is(err, s3client.ErrObjectNotFound) {
		t.Fatalf("mirror copy not removed: %v", err)
	}
}

type failingMirror struct{}

func (failingMirror) PutObject(context.Context, string, []byte, string, map[string]string) error {
	return errors.New("bucket offline")
}

func (failingMirror) DeleteObject(context.Context, string) error {
	return errors.New("bucket offline")
}

func TestStore_MirrorFailureKeepsLocalSnapshot(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir(), failingMirror{})
	path, err := store.Write(context.Background(), "radarr", []byte("png"))
	if err != nil {
		t.Fatalf("Write should succeed despite mirror failure: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("local snapshot missing: %v", err)
	}
	if err := store.Remove(context.Background(), "radarr"); err != nil {
		t.Fatalf("Remove should succeed despite mirror failure: %v", err)
	}
}
