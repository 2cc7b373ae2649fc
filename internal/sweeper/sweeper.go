// Package sweeper retries deletion of blobs the API could not remove.
package sweeper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/pkg/blob"
	"github.com/ChaceN89/library/pkg/queue"
)

// Handler deletes the orphan's blob. URLs outside the blob store can never
// succeed and are dropped instead of retried.
func Handler(blobs blob.Client, m *metrics.Metrics) queue.Handler {
	return func(ctx context.Context, o queue.Orphan) error {
		err := blobs.DeleteByURL(ctx, o.URL)
		switch {
		case err == nil:
			slog.Info("orphan_swept", "orphan_id", o.ID, "url", o.URL, "attempts", o.Attempts)
			m.ObserveOrphan("swept")
			return nil
		case errors.Is(err, blob.ErrMalformedURL):
			slog.Warn("orphan_dropped", "orphan_id", o.ID, "url", o.URL, "err", err)
			m.ObserveOrphan("dropped")
			return nil
		default:
			m.ObserveOrphan("retry")
			return err
		}
	}
}

// Abandoned counts orphans that ran out of retries.
func Abandoned(m *metrics.Metrics) func(queue.Orphan, error) {
	return func(queue.Orphan, error) {
		m.ObserveOrphan("abandoned")
	}
}
