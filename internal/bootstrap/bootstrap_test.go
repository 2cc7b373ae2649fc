package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ChaceN89/library/internal/config")

func TestMemoryBlobsUseDefaultBaseURL(t *testing.T) {
	client, naming, err := Blobs(context.Background(), config.FileConfig{BlobBackend: config.BlobBackendMemory}, nil)
	if err != nil {
		t.Fatalf("blobs: %v", err)
	}
	url, err := client.Put(context.Background(), []byte("x"), "books/u1_content_t_a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != memoryBaseURL+"/books/u1_content_t_a.pdf" {
		t.Fatalf("unexpected url %q", url)
	}
	if _, err := naming.Key(url); err != nil {
		t.Fatalf("naming should round trip: %v", err)
	}
	if err := client.DeleteByURL(context.Background(), url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := client.DeleteByURL(context.Background(), "https://elsewhere.test/x"); err == nil {
		t.Fatalf("foreign url should be rejected")
	}
}

func TestUnknownBlobBackend(t *testing.T) {
	if _, _, err := Blobs(context.Background(), config.FileConfig{BlobBackend: "ftp"}, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	client, err := Redis(ctx, config.FileConfig{})
	if err != nil || client != nil {
		t.Fatalf("no address should mean no client, got %v err=%v", client, err)
	}
	srv := miniredis.RunT(t)
	client, err = Redis(ctx, config.FileConfig{RedisAddr: srv.Addr()})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer client.Close()
	addr := srv.Addr()
	srv.Close()
	if _, err := Redis(ctx, config.FileConfig{RedisAddr: addr}); err == nil {
		t.Fatalf("expected ping failure once the server is gone")
	}
}
