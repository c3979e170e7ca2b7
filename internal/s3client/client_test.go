package s3client

import (
	"context"
	"errors"
	"testing"
)

func TestClient_RoundTripUnderPrefix(t *testing.T) {
	t.Parallel()
	c := TestClient(t, "evidence", "/stackcheck/nas/")
	ctx := context.Background()

	if got := c.Key("/sonarr.png"); got != "stackcheck/nas/sonarr.png" {
		t.Fatalf("Key = %q", got)
	}
	if got := c.URI("sonarr.png"); got != "s3://evidence/stackcheck/nas/sonarr.png" {
		t.Fatalf("URI = %q", got)
	}

	if err := c.PutObject(ctx, "sonarr.png", []byte("png"), "image/png", map[string]string{"run-id": "r1"}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	data, err := c.GetObject(ctx, "sonarr.png")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(data) != "png" {
		t.Fatalf("GetObject = %q", data)
	}

	if err := c.DeleteObject(ctx, "sonarr.png"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := c.GetObject(ctx, "sonarr.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestClient_NoPrefix(t *testing.T) {
	t.Parallel()
	c := TestClient(t, "evidence", "")
	if got := c.Key("jellyfin.png"); got != "jellyfin.png" {
		t.Fatalf("Key = %q", got)
	}
	if c.BucketName() != "evidence" {
		t.Fatalf("BucketName = %q", c.BucketName())
	}
}
