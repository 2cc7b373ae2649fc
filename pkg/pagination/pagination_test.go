package pagination

import (
	"net/url"
	"testing"
)

func TestPageRequestNormalize(t *testing.T) {
	cfg := Config{DefaultPageSize: 20, MaxPageSize: 100}
	tests := []struct {
		name         string
		request      PageRequest
		wantPage     int
		wantPageSize int
	}{
		{"valid values unchanged", PageRequest{Page: 2, PageSize: 25}, 2, 25},
		{"zero page becomes 1", PageRequest{Page: 0, PageSize: 25}, 1, 25},
		{"negative page size gets default", PageRequest{Page: 1, PageSize: -10}, 1, 20},
		{"page size exceeding max gets capped", PageRequest{Page: 1, PageSize: 200}, 1, 100},
		{"huge page gets capped", PageRequest{Page: 1 << 62, PageSize: 100}, MaxPage, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.request
			req.Normalize(cfg)
			if req.Page != tt.wantPage || req.PageSize != tt.wantPageSize {
				t.Fatalf("got page=%d size=%d, want page=%d size=%d", req.Page, req.PageSize, tt.wantPage, tt.wantPageSize)
			}
		})
	}
}

func TestPageRequestFromQuery(t *testing.T) {
	cfg := Config{DefaultPageSize: 10, MaxPageSize: 50}
	values := url.Values{}
	values.Set("page", "3")
	values.Set("page_size", "5")
	values.Set("search", "  dune ")
	values.Set("sort", "-views, title,,-")

	req := PageRequestFromQuery(values, cfg)
	if req.Page != 3 || req.PageSize != 5 || req.Offset() != 10 {
		t.Fatalf("unexpected request: %+v offset=%d", req, req.Offset())
	}
	if req.Search == nil || *req.Search != "dune" {
		t.Fatalf("search not trimmed: %v", req.Search)
	}
	if len(req.Sort) != 2 || req.Sort[0] != (SortField{Field: "views", Descending: true}) || req.Sort[1] != (SortField{Field: "title"}) {
		t.Fatalf("unexpected sort: %+v", req.Sort)
	}
}

func TestPageRequestFromQueryHugePage(t *testing.T) {
	values := url.Values{}
	values.Set("page", "9223372036854775807")
	values.Set("page_size", "100")
	req := PageRequestFromQuery(values, Config{DefaultPageSize: 20, MaxPageSize: 100})
	if req.Page != MaxPage || req.Offset() <= 0 {
		t.Fatalf("huge page must stay a positive offset past the data: %+v offset=%d", req, req.Offset())
	}
}

func TestNewPageResult(t *testing.T) {
	res := NewPageResult[int](nil, 41, 1, 20)
	if res.TotalPages != 3 {
		t.Fatalf("total pages = %d, want 3", res.TotalPages)
	}
	if res.Data == nil {
		t.Fatalf("nil data should become empty slice")
	}
	if empty := NewPageResult([]int{}, 0, 1, 20); empty.TotalPages != 1 {
		t.Fatalf("empty result should report one page, got %d", empty.TotalPages)
	}
}

func TestConfigFinalize(t *testing.T) {
	t.Setenv(EnvMaxPageSize, "30")
	cfg := Config{}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.DefaultPageSize != 20 || cfg.MaxPageSize != 30 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv(EnvDefaultPageSize, "40")
	bad := Config{}
	if err := bad.Finalize(); err == nil {
		t.Fatalf("default above max should fail")
	}
}
