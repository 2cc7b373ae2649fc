package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, maxRetries int) *OrphanQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewOrphanQueue(Config{
		Addr:       srv.Addr(),
		Stream:     "test:orphans",
		Group:      "test-group",
		Consumer:   "consumer-1",
		MaxRetries: maxRetries,
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestOrphanQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, id, url := newPendingOrphanMessage(t)

	if err := q.requeueAndAck(ctx, msgID, id, url); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["orphan_id"] != id || got.Values["url"] != url {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestOrphanQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, id, url := newPendingOrphanMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, id, url); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", n)
	}
}

func TestOrphanQueueRunRetriesUntilDone(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// enqueued before the consumer group exists
	o, err := q.Enqueue(ctx, "https://blobs.test/books/u_content_t_a.txt", "user delete")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, 2, func(_ context.Context, got Orphan) error {
			if got.URL != o.URL {
				t.Errorf("unexpected url %q", got.URL)
			}
			if calls.Add(1) == 1 {
				return errors.New("storage unavailable")
			}
			return nil
		})
	}()

	waitForStatus(t, q, o.ID, StatusDone)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
	got, _, _ := q.Get(context.Background(), o.ID)
	if got.Attempts != 2 || got.Reason != "user delete" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestOrphanQueueGivesUpAfterMaxRetries(t *testing.T) {
	q := newTestQueue(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, err := q.Enqueue(ctx, "https://blobs.test/bookArt/u_cover_art_t_a.png", "book update")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	go func() {
		_ = q.Run(ctx, 1, func(context.Context, Orphan) error { return errors.New("still failing") })
	}()
	waitForStatus(t, q, o.ID, StatusFailed)
	got, _, _ := q.Get(context.Background(), o.ID)
	if got.ErrorMessage != "still failing" {
		t.Fatalf("expected last error to be kept, got %+v", got)
	}
}

func TestOrphanQueueReportsAbandoned(t *testing.T) {
	srv := miniredis.RunT(t)
	abandoned := make(chan Orphan, 1)
	q, err := NewOrphanQueue(Config{
		Addr:       srv.Addr(),
		Stream:     "test:orphans",
		MaxRetries: 1,
		Block:      20 * time.Millisecond,
		OnAbandon:  func(o Orphan, _ error) { abandoned <- o },
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, err := q.Enqueue(ctx, "https://blobs.test/profilePictures/u_profile_image_t_a.png", "profile picture upload")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	go func() {
		_ = q.Run(ctx, 1, func(context.Context, Orphan) error { return errors.New("gone") })
	}()
	select {
	case got := <-abandoned:
		if got.ID != o.ID || got.Attempts != 1 {
			t.Fatalf("unexpected abandoned orphan: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("orphan was never abandoned")
	}
}

func TestOrphanQueueEnqueueRequiresURL(t *testing.T) {
	q := newTestQueue(t, 1)
	if _, err := q.Enqueue(context.Background(), "  ", "x"); err == nil {
		t.Fatalf("expected empty url to be rejected")
	}
}

func waitForStatus(t *testing.T, q *OrphanQueue, id, status string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		o, found, err := q.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if found && o.Status == status {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("orphan %s never reached status %s", id, status)
}

func newPendingOrphanMessage(t *testing.T) (*OrphanQueue, context.Context, string, string, string) {
	t.Helper()
	q := newTestQueue(t, 3)
	ctx := context.Background()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	o, err := q.Enqueue(ctx, "https://blobs.test/profilePictures/u_profile_image_t_me.png", "picture")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, o.ID, o.URL
}
