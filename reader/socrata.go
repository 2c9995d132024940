package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appconfig "github.com/Arghost/urban-crime-analytics/config"
	"github.com/Arghost/urban-crime-analytics/internal/window"
	"github.com/Arghost/urban-crime-analytics/logger"
	"github.com/Arghost/urban-crime-analytics/models"
)

var (
	// ErrTransport marks network failures, non-2xx responses and unreadable
	// bodies.
	ErrTransport = errors.New("transport error")
	// ErrMalformedResponse marks a body that is not a JSON array of objects.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrPageLimit is returned when the API keeps returning full pages past
	// the configured page cap.
	ErrPageLimit = errors.New("page limit exceeded")
)

const component = "socrata_reader"

// SocrataReader pages through a Socrata-style resource endpoint using
// $limit/$offset, ordered by the timestamp column and filtered to a window.
type SocrataReader struct {
	baseURL        string
	pageSize       int
	maxPages       int
	orderField     string
	timestampField string
	appToken       string
	userAgent      string
	source         string
	client         *http.Client
	limiter        *rate.Limiter
	log            *logger.Log
}

// NewSocrataReader creates a reader from the source section of cfg.
func NewSocrataReader(cfg *appconfig.Config) *SocrataReader {
	src := cfg.Source

	limit := rate.Inf
	if src.RequestsPerSecond > 0 {
		limit = rate.Limit(src.RequestsPerSecond)
	}

	userAgent := strings.TrimSpace(src.UserAgent)
	if userAgent == "" {
		userAgent = fmt.Sprintf("%s/%s", cfg.Ingest.Name, cfg.Ingest.Version)
	}

	return &SocrataReader{
		baseURL:        strings.TrimSpace(src.URL),
		pageSize:       src.PageSize,
		maxPages:       src.MaxPages,
		orderField:     src.OrderField,
		timestampField: src.TimestampField,
		appToken:       src.AppToken,
		userAgent:      userAgent,
		source:         cfg.Ingest.SourceName,
		client:         &http.Client{Timeout: src.Timeout},
		limiter:        rate.NewLimiter(limit, 1),
		log:            logger.GetLogger(),
	}
}

// FetchWindow collects every record whose timestamp lies in w. Paging stops
// at the first empty page or the first page shorter than the page size. Once
// maxPages full pages are collected, one more request must come back empty.
func (r *SocrataReader) FetchWindow(ctx context.Context, w window.Window) (*models.CrimeBatch, error) {
	log := r.log.WithComponent(component).WithFields(logger.Fields{
		"window_start": w.StartISO(),
		"window_end":   w.EndISO(),
		"page_size":    r.pageSize,
	})

	batch := &models.CrimeBatch{
		Source:      r.source,
		WindowStart: w.Start,
		WindowEnd:   w.End,
	}

	started := time.Now()
	offset := 0
	for {
		log.WithFields(logger.Fields{"offset": offset}).Info("fetching page")
		page, err := r.fetchPage(ctx, offset, w)
		if err != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		if batch.Pages >= r.maxPages {
			return nil, fmt.Errorf("%w: page %d still returned %d records after %d full pages", ErrPageLimit, batch.Pages+1, len(page), r.maxPages)
		}

		batch.Append(page)
		log.WithFields(logger.Fields{
			"page":          batch.Pages,
			"page_records":  len(page),
			"total_records": batch.RecordCount,
		}).Info("fetched page")

		if len(page) < r.pageSize {
			break
		}
		offset += r.pageSize
	}

	batch.FetchedAt = time.Now().UTC()
	logger.LogPerformanceEntry(log, component, "fetch_window", time.Since(started), logger.Fields{
		"pages":         batch.Pages,
		"total_records": batch.RecordCount,
	})
	return batch, nil
}

func (r *SocrataReader) pageURL(offset int, w window.Window) (string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	q.Set("$limit", strconv.Itoa(r.pageSize))
	q.Set("$offset", strconv.Itoa(offset))
	q.Set("$order", r.orderField+" ASC")
	q.Set("$where", fmt.Sprintf("%s >= '%s' AND %s < '%s'", r.timestampField, w.StartISO(), r.timestampField, w.EndISO()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *SocrataReader) fetchPage(ctx context.Context, offset int, w window.Window) (models.Page, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	endpoint, err := r.pageURL(offset, w)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)
	if r.appToken != "" {
		req.Header.Set("X-App-Token", r.appToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %s: %s", ErrTransport, resp.Status, truncate(body, 256))
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, err
	}
	logger.IncrementPageRead(len(page), int64(len(body)))
	return page, nil
}

// decodePage accepts only a JSON array whose elements are all objects.
// Numbers are kept as json.Number so they are written back verbatim.
func decodePage(body []byte) (models.Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedResponse)
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON array of records, got %s", ErrMalformedResponse, jsonKind(raw))
	}

	page := make(models.Page, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %s, expected an object", ErrMalformedResponse, i, jsonKind(item))
		}
		page = append(page, models.Record(obj))
	}
	return page, nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "an object"
	case []interface{}:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
