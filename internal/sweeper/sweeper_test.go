package sweeper

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/pkg/blob"
	"github.com/ChaceN89/library/pkg/queue"
)

func TestHandler(t *testing.T) {
	ctx := context.Background()
	naming := blob.NewNaming("https://blobs.test", "", "")
	blobs := blob.NewMemoryClient(naming)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	handle := Handler(blobs, m)

	url, err := blobs.Put(ctx, []byte("x"), "books/u1_content_t1_a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	blobs.FailDeletesMatching("books/")
	if err := handle(ctx, queue.Orphan{ID: "o1", URL: url}); err == nil {
		t.Fatalf("failed delete should be retried")
	}
	blobs.ClearFailures()
	if err := handle(ctx, queue.Orphan{ID: "o1", URL: url}); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if blobs.HasURL(url) {
		t.Fatalf("blob should be gone")
	}
	if err := handle(ctx, queue.Orphan{ID: "o2", URL: "https://elsewhere.test/x"}); err != nil {
		t.Fatalf("foreign url should be dropped, got %v", err)
	}

	Abandoned(m)(queue.Orphan{ID: "o3"}, nil)
	for stage, want := range map[string]float64{"retry": 1, "swept": 1, "dropped": 1, "abandoned": 1} {
		if got := testutil.ToFloat64(m.OrphansTotal.WithLabelValues(stage)); got != want {
			t.Fatalf("stage %s = %v, want %v", stage, got, want)
		}
	}
}
