package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTranscriptKey(t *testing.T) {
	if got := TranscriptKey("lobby", "job-1"); got != "transcripts/lobby/job-1.json" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNewMinioStoreRequiresEndpointAndBucket(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), MinioConfig{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.PresignGet(ctx, "missing", time.Minute); err == nil {
		t.Fatalf("expected presign of missing object to fail")
	}
	if err := s.Put(ctx, "transcripts/a/1.json", strings.NewReader(`{"ok":true}`), 11, "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, ok := s.Get("transcripts/a/1.json")
	if !ok || string(obj.Data) != `{"ok":true}` || obj.ContentType != "application/json" {
		t.Fatalf("unexpected object: %+v ok=%v", obj, ok)
	}
	url, err := s.PresignGet(ctx, "transcripts/a/1.json", 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "memory:///transcripts/a/1.json?") {
		t.Fatalf("unexpected url %q", url)
	}
	if err := s.Delete(ctx, "transcripts/a/1.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("transcripts/a/1.json"); ok {
		t.Fatalf("expected object deleted")
	}
}
