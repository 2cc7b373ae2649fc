package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRevokerUserCutoffMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRevoker()
	first := time.Now().UTC().Add(-time.Minute)
	second := time.Now().UTC()

	if err := r.RevokeUser(ctx, "user-1", first, time.Hour); err != nil {
		t.Fatalf("revoke user first: %v", err)
	}
	if err := r.RevokeUser(ctx, "user-1", first.Add(-time.Minute), time.Hour); err != nil {
		t.Fatalf("revoke user older cutoff: %v", err)
	}
	got, err := r.RevokedAfter(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoked after: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}
	if err := r.RevokeUser(ctx, "user-1", second, time.Hour); err != nil {
		t.Fatalf("revoke user second: %v", err)
	}
	if got, _ = r.RevokedAfter(ctx, "user-1"); !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}

func TestMemoryRevokerIgnoresExpiredTTL(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRevoker()
	if err := r.Revoke(ctx, "jti-1", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("zero ttl should not revoke")
	}
}

func TestRedisRevoker(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	r, err := NewRedisRevoker(client, "test:session")
	if err != nil {
		t.Fatalf("new redis revoker: %v", err)
	}

	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	srv.FastForward(2 * time.Minute)
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("revocation should expire with the token")
	}

	cutoff := time.Now().UTC()
	if err := r.RevokeUser(ctx, "user-1", cutoff, time.Hour); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if err := r.RevokeUser(ctx, "user-1", cutoff.Add(-time.Hour), time.Hour); err != nil {
		t.Fatalf("revoke user older: %v", err)
	}
	got, err := r.RevokedAfter(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoked after: %v", err)
	}
	if !got.Equal(cutoff) {
		t.Fatalf("cutoff = %v, want %v", got, cutoff)
	}
	if got, _ := r.RevokedAfter(ctx, "nobody"); !got.IsZero() {
		t.Fatalf("unknown user should have no cutoff, got %v", got)
	}
}
