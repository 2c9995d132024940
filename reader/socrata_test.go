package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appconfig "github.com/Arghost/urban-crime-analytics/config"
	"github.com/Arghost/urban-crime-analytics/internal/window"
)

func testConfig(url string, pageSize int) *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Source.URL = url
	cfg.Source.PageSize = pageSize
	cfg.Source.Timeout = 2 * time.Second
	return &cfg
}

var novWindow = window.Compute(time.Date(2025, time.December, 18, 0, 0, 0, 0, time.UTC))

// pagedAPI serves total records in pages honouring $limit/$offset and
// records every query it receives.
type pagedAPI struct {
	mu      sync.Mutex
	total   int
	queries []map[string]string
}

func (p *pagedAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p.mu.Lock()
	p.queries = append(p.queries, map[string]string{
		"$limit":  q.Get("$limit"),
		"$offset": q.Get("$offset"),
		"$order":  q.Get("$order"),
		"$where":  q.Get("$where"),
		"token":   r.Header.Get("X-App-Token"),
	})
	p.mu.Unlock()

	limit, _ := strconv.Atoi(q.Get("$limit"))
	offset, _ := strconv.Atoi(q.Get("$offset"))
	page := []map[string]interface{}{}
	for i := offset; i < offset+limit && i < p.total; i++ {
		page = append(page, map[string]interface{}{"id": strconv.Itoa(i), "arrest": i%2 == 0})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

func (p *pagedAPI) requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queries)
}

func TestFetchWindowStopsOnShortPage(t *testing.T) {
	cases := []struct {
		fullPages, pageSize, tail int
	}{
		{0, 5, 3},
		{1, 5, 1},
		{3, 5, 4},
		{2, 4, 0},
		{0, 5, 0},
	}
	for _, c := range cases {
		api := &pagedAPI{total: c.fullPages*c.pageSize + c.tail}
		srv := httptest.NewServer(api)

		r := NewSocrataReader(testConfig(srv.URL, c.pageSize))
		batch, err := r.FetchWindow(context.Background(), novWindow)
		srv.Close()
		if err != nil {
			t.Fatalf("%+v: FetchWindow: %v", c, err)
		}

		if got, want := api.requests(), c.fullPages+1; got != want {
			t.Errorf("%+v: expected %d requests, got %d", c, want, got)
		}
		if got, want := len(batch.Records), c.fullPages*c.pageSize+c.tail; got != want {
			t.Fatalf("%+v: expected %d records, got %d", c, want, got)
		}
		for i, rec := range batch.Records {
			if rec["id"] != strconv.Itoa(i) {
				t.Fatalf("%+v: record %d out of order: %v", c, i, rec["id"])
			}
		}
		if batch.RecordCount != len(batch.Records) {
			t.Errorf("%+v: record count %d does not match records", c, batch.RecordCount)
		}
	}
}

func TestFetchWindowQueryParameters(t *testing.T) {
	api := &pagedAPI{total: 3}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL+"/resource/ijzp-q8t2.json", 2)
	cfg.Source.AppToken = "secret-token"
	r := NewSocrataReader(cfg)
	if _, err := r.FetchWindow(context.Background(), novWindow); err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}

	if len(api.queries) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(api.queries))
	}
	first, second := api.queries[0], api.queries[1]
	if first["$limit"] != "2" || first["$offset"] != "0" || second["$offset"] != "2" {
		t.Errorf("unexpected paging: %v / %v", first, second)
	}
	if first["$order"] != "date ASC" {
		t.Errorf("unexpected order: %q", first["$order"])
	}
	wantWhere := "date >= '2025-11-01T00:00:00.000' AND date < '2025-12-01T00:00:00.000'"
	if first["$where"] != wantWhere {
		t.Errorf("unexpected where: %q", first["$where"])
	}
	if first["token"] != "secret-token" {
		t.Errorf("app token header not sent")
	}
}

func TestFetchWindowKeepsNumbersVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"beat":"0111","x_coordinate":1176123.000000001,"ward":42}]`)
	}))
	defer srv.Close()

	batch, err := NewSocrataReader(testConfig(srv.URL, 10)).FetchWindow(context.Background(), novWindow)
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}
	rec := batch.Records[0]
	if n, ok := rec["x_coordinate"].(json.Number); !ok || n.String() != "1176123.000000001" {
		t.Errorf("number not preserved: %#v", rec["x_coordinate"])
	}
	if rec["beat"] != "0111" {
		t.Errorf("string changed: %#v", rec["beat"])
	}
}

func TestFetchWindowMalformedResponse(t *testing.T) {
	bodies := []string{
		`{"error":true,"message":"query failed"}`,
		`"just a string"`,
		`[{"id":"1"}, 7]`,
		`not json`,
		`[{"id":"1"}] [{"id":"2"}]`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		_, err := NewSocrataReader(testConfig(srv.URL, 10)).FetchWindow(context.Background(), novWindow)
		srv.Close()
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("body %q: expected ErrMalformedResponse, got %v", body, err)
		}
	}
}

func TestFetchWindowMalformedLaterPageFailsRun(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, `[{"id":"1"},{"id":"2"}]`)
			return
		}
		fmt.Fprint(w, `{"rows":[]}`)
	}))
	defer srv.Close()

	batch, err := NewSocrataReader(testConfig(srv.URL, 2)).FetchWindow(context.Background(), novWindow)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if batch != nil {
		t.Fatalf("expected no partial batch, got %d records", batch.RecordCount)
	}
}

func TestFetchWindowTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	_, err := NewSocrataReader(testConfig(srv.URL, 10)).FetchWindow(context.Background(), novWindow)
	srv.Close()
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for 503, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("status missing from error: %v", err)
	}

	// server is closed now, so the connection itself fails
	_, err = NewSocrataReader(testConfig(srv.URL, 10)).FetchWindow(context.Background(), novWindow)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for refused connection, got %v", err)
	}
}

func TestFetchWindowPageLimit(t *testing.T) {
	api := &pagedAPI{total: 1 << 30}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL, 2)
	cfg.Source.MaxPages = 3
	_, err := NewSocrataReader(cfg).FetchWindow(context.Background(), novWindow)
	if !errors.Is(err, ErrPageLimit) {
		t.Fatalf("expected ErrPageLimit, got %v", err)
	}
	if api.requests() != 4 {
		t.Errorf("expected 3 pages plus one over the cap, got %d requests", api.requests())
	}
}

func TestFetchWindowExactlyAtPageLimit(t *testing.T) {
	api := &pagedAPI{total: 6}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL, 2)
	cfg.Source.MaxPages = 3
	batch, err := NewSocrataReader(cfg).FetchWindow(context.Background(), novWindow)
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}
	if batch.RecordCount != 6 || batch.Pages != 3 {
		t.Errorf("expected 6 records in 3 pages, got %d in %d", batch.RecordCount, batch.Pages)
	}
	if api.requests() != 4 {
		t.Errorf("expected 4 requests, got %d", api.requests())
	}
}

func TestFetchWindowHonoursCancellation(t *testing.T) {
	api := &pagedAPI{total: 10}
	srv := httptest.NewServer(api)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSocrataReader(testConfig(srv.URL, 2)).FetchWindow(ctx, novWindow)
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if api.requests() != 0 {
		t.Errorf("expected no requests, got %d", api.requests())
	}
}
