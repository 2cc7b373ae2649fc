// Package queue carries blob URLs whose deletion failed to an out-of-band
// sweeper over a Redis stream consumer group.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ChaceN89/library/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Orphan is a blob that should no longer exist but could not be deleted.
type Orphan struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler retries one orphan; a nil error marks it done.
type Handler func(context.Context, Orphan) error

type OrphanQueue struct {
	client       *redis.Client
	ownsClient   bool
	stream       string
	group        string
	consumerBase string
	recordTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	onAbandon    func(Orphan, error)
	once         sync.Once
	groupErr     error
}

type Config struct {
	// Client is used when set; otherwise one is dialed from Addr.
	Client     *redis.Client
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	RecordTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	// OnAbandon is called once an orphan runs out of retries.
	OnAbandon func(Orphan, error)
}

func NewOrphanQueue(cfg Config) (*OrphanQueue, error) {
	client := cfg.Client
	owns := false
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		owns = true
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "library:orphans"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "sweeper"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &OrphanQueue{
		client:       client,
		ownsClient:   owns,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		recordTTL:    orDuration(cfg.RecordTTL, 7*24*time.Hour),
		maxRetries:   cfg.MaxRetries,
		block:        orDuration(cfg.Block, 5*time.Second),
		claimIdle:    orDuration(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   orDuration(cfg.RetryDelay, 2*time.Second),
		maxLen:       orInt64(cfg.MaxLen, 10000),
		readCount:    orInt64(cfg.ReadCount, 10),
		claimCount:   orInt64(cfg.ClaimCount, 10),
		onAbandon:    cfg.OnAbandon,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 5
	}
	return q, nil
}

// Close releases the redis client when the queue dialed it.
func (q *OrphanQueue) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}

// Enqueue records url for a later deletion attempt.
func (q *OrphanQueue) Enqueue(ctx context.Context, url, reason string) (Orphan, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Orphan{}, errors.New("orphan url required")
	}
	now := time.Now().UTC()
	o := Orphan{
		ID:        util.NewID(),
		URL:       url,
		Reason:    reason,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, o); err != nil {
		return Orphan{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"orphan_id": o.ID,
			"url":       o.URL,
		},
	}).Err(); err != nil {
		return Orphan{}, err
	}
	return o, nil
}

func (q *OrphanQueue) Get(ctx context.Context, id string) (Orphan, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Orphan{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.recordKey(id)).Result()
	if err != nil {
		return Orphan{}, false, err
	}
	if len(data) == 0 {
		return Orphan{}, false, nil
	}
	return decodeOrphan(id, data), true, nil
}

// Run consumes the stream with concurrency workers until ctx is done.
func (q *OrphanQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		g.Go(func() error {
			q.consumeLoop(ctx, consumer, handler)
			return nil
		})
	}
	return g.Wait()
}

// The group starts at the head of the stream so orphans recorded before the
// first sweeper run are still processed.
func (q *OrphanQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *OrphanQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				slog.Warn("orphan queue read failed", "consumer", consumer, "err", err)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *OrphanQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *OrphanQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	id, _ := msg.Values["orphan_id"].(string)
	url, _ := msg.Values["url"].(string)
	if id == "" || url == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	o, err := q.markProcessing(ctx, id, url)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err = handler(ctx, o)
	if err == nil {
		_ = q.mark(ctx, id, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if o.Attempts >= q.maxRetries {
		slog.Warn("orphan abandoned", "orphan_id", id, "url", url, "attempts", o.Attempts, "err", err)
		_ = q.mark(ctx, id, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		if q.onAbandon != nil {
			q.onAbandon(o, err)
		}
		return
	}
	_ = q.mark(ctx, id, StatusQueued, err.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, id, url)
}

func (q *OrphanQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends a fresh copy and retires the delivered one atomically,
// so a failure leaves the original pending for XAUTOCLAIM.
func (q *OrphanQueue) requeueAndAck(ctx context.Context, msgID, id, url string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"orphan_id": id,
			"url":       url,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *OrphanQueue) markProcessing(ctx context.Context, id, url string) (Orphan, error) {
	o, found, err := q.Get(ctx, id)
	if err != nil {
		return Orphan{}, err
	}
	if !found {
		o = Orphan{ID: id}
	}
	o.URL = url
	o.Attempts++
	o.Status = StatusProcessing
	o.UpdatedAt = time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = o.UpdatedAt
	}
	if err := q.writeStatus(ctx, o); err != nil {
		return Orphan{}, err
	}
	return o, nil
}

func (q *OrphanQueue) mark(ctx context.Context, id, status, errMsg string) error {
	o, _, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	o.ID = id
	o.Status = status
	o.ErrorMessage = errMsg
	o.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, o)
}

func (q *OrphanQueue) writeStatus(ctx context.Context, o Orphan) error {
	key := q.recordKey(o.ID)
	payload := map[string]any{
		"id":        o.ID,
		"url":       o.URL,
		"reason":    o.Reason,
		"status":    o.Status,
		"error":     o.ErrorMessage,
		"attempts":  strconv.Itoa(o.Attempts),
		"createdAt": o.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": o.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.recordTTL).Err()
	return nil
}

func (q *OrphanQueue) recordKey(id string) string {
	return fmt.Sprintf("orphan:%s:%s", q.stream, id)
}

func decodeOrphan(id string, data map[string]string) Orphan {
	o := Orphan{
		ID:           id,
		URL:          data["url"],
		Reason:       data["reason"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		o.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		o.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		o.UpdatedAt = t
	}
	return o
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orInt64(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
