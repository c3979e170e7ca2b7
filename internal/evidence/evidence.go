// Package evidence writes the full-page snapshot of each verified service.
//
// Snapshots live at <dir>/<service>.png and are replaced on every run. A write is atomic:
// readers see either the previous snapshot or the new one. A failed run removes the
// service's snapshot so the directory only ever reflects the current invocation.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/obs"
)

const contentType = "image/png"

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Mirror receives a copy of every snapshot. *s3client.Client satisfies it.
type Mirror interface {
	PutObject(ctx context.Context, name string, content []byte, contentType string, metadata map[string]string) error
	DeleteObject(ctx context.Context, name string) error
}

// Store owns the evidence directory.
type Store struct {
	dir    string
	mirror Mirror
}

// NewStore returns a store rooted at dir. mirror may be nil.
func NewStore(dir string, mirror Mirror) *Store {
	return &Store{dir: dir, mirror: mirror}
}

// Dir returns the evidence directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the snapshot path for service.
func (s *Store) Path(service string) string {
	return filepath.Join(s.dir, service+".png")
}

// Capture takes a full-page PNG of page.
func Capture(page playwright.Page) ([]byte, error) {
	png, err := page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "capture screenshot", err)
	}
	return png, nil
}

// Write atomically replaces the snapshot for service and mirrors it when configured.
// Mirror failures are logged; the local snapshot is authoritative.
func (s *Store) Write(ctx context.Context, service string, png []byte) (string, error) {
	if !validName.MatchString(service) {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("invalid evidence name %q", service))
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errs.Wrap(errs.Internal, "create evidence dir", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+service+"-*.png.tmp")
	if err != nil {
		return "", errs.Wrap(errs.Internal, "create evidence temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(png); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", errs.Wrap(errs.Internal, "write evidence", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", errs.Wrap(errs.Internal, "sync evidence", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", errs.Wrap(errs.Internal, "close evidence", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", errs.Wrap(errs.Internal, "chmod evidence", err)
	}
	dest := s.Path(service)
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return "", errs.Wrap(errs.Internal, "replace evidence", err)
	}

	logger := obs.From(ctx)
	logger.Info("evidence_written", "path", dest, "bytes", len(png))

	if s.mirror != nil {
		meta := map[string]string{"run-id": obs.RunIDFromContext(ctx), "service": service}
		if err := s.mirror.PutObject(ctx, filepath.Base(dest), png, contentType, meta); err != nil {
			logger.Warn("evidence_mirror_failed", "error", err)
		}
	}
	return dest, nil
}

// Remove deletes any snapshot for service. A missing snapshot is not an error.
func (s *Store) Remove(ctx context.Context, service string) error {
	if !validName.MatchString(service) {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("invalid evidence name %q", service))
	}
	dest := s.Path(service)
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(errs.Internal, "remove stale evidence", err)
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteObject(ctx, filepath.Base(dest)); err != nil {
			obs.From(ctx).Warn("evidence_mirror_delete_failed", "error", err)
		}
	}
	return nil
}
