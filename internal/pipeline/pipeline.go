// Package pipeline runs one ingestion: window, fetch, encode, upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appconfig "github.com/Arghost/urban-crime-analytics/config"
	"github.com/Arghost/urban-crime-analytics/internal/window"
	"github.com/Arghost/urban-crime-analytics/logger"
	"github.com/Arghost/urban-crime-analytics/models"
	"github.com/Arghost/urban-crime-analytics/processor"
	"github.com/Arghost/urban-crime-analytics/writer"
)

const component = "pipeline"

type Fetcher interface {
	FetchWindow(ctx context.Context, w window.Window) (*models.CrimeBatch, error)
}

type Encoder interface {
	EncodeBatch(batch *models.CrimeBatch) ([]byte, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, key string, info writer.UploadInfo) error
}

// Result summarises a run. It is returned alongside errors too, filled in as
// far as the run got.
type Result struct {
	RunID    string
	RunDate  time.Time
	Window   window.Window
	Key      string
	Records  int
	Pages    int
	Bytes    int
	Uploaded bool
	Duration time.Duration
}

// Pipeline wires the stages of a single sequential run.
type Pipeline struct {
	source   string
	fetcher  Fetcher
	encoder  Encoder
	uploader Uploader
	log      *logger.Log
	newRunID func() string
	metric   func(name string, value interface{}, metricType string, fields logger.Fields)
}

func New(cfg *appconfig.Config, fetcher Fetcher, encoder Encoder, uploader Uploader) *Pipeline {
	log := logger.GetLogger()
	return &Pipeline{
		source:   cfg.Ingest.SourceName,
		fetcher:  fetcher,
		encoder:  encoder,
		uploader: uploader,
		log:      log,
		newRunID: func() string { return uuid.New().String() },
		metric: func(name string, value interface{}, metricType string, fields logger.Fields) {
			log.LogMetric(component, name, value, metricType, fields)
		},
	}
}

// Run ingests the month preceding runDate. Stage errors are returned as is;
// an empty window surfaces as processor.ErrNoRecords without any upload.
// Run metrics are published whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, runDate time.Time) (*Result, error) {
	started := time.Now()
	w := window.Compute(runDate)
	res := &Result{
		RunID:   p.newRunID(),
		RunDate: runDate,
		Window:  w,
		Key:     window.BuildKey(p.source, runDate),
	}
	defer func() {
		res.Duration = time.Since(started)
		p.publishMetrics(res)
	}()

	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"run_id":       res.RunID,
		"run_date":     runDate.Format(window.RunDateLayout),
		"window_start": w.StartISO(),
		"window_end":   w.EndISO(),
	})
	log.Info(fmt.Sprintf("downloading %s crime data for window %s", p.source, w))

	batch, err := p.fetcher.FetchWindow(ctx, w)
	if err != nil {
		return res, err
	}
	batch.BatchID = res.RunID
	res.Records = batch.RecordCount
	res.Pages = batch.Pages
	logger.LogDataFlowEntry(log, "socrata_api", "csv_encoder", batch.RecordCount, "records")

	payload, err := p.encoder.EncodeBatch(batch)
	if err != nil {
		if errors.Is(err, processor.ErrNoRecords) {
			log.Info("no records for this month window")
		}
		return res, err
	}
	res.Bytes = len(payload)

	info := writer.UploadInfo{
		RunID:       res.RunID,
		WindowStart: w.StartISO(),
		WindowEnd:   w.EndISO(),
		RecordCount: batch.RecordCount,
	}
	if err := p.uploader.Upload(ctx, payload, res.Key, info); err != nil {
		return res, err
	}
	res.Uploaded = true

	log.WithFields(logger.Fields{
		"key":     res.Key,
		"records": res.Records,
		"bytes":   res.Bytes,
	}).Info("ingestion completed")
	return res, nil
}

func (p *Pipeline) publishMetrics(res *Result) {
	fields := logger.Fields{"source": p.source}
	uploaded := 0
	if res.Uploaded {
		uploaded = res.Bytes
	}
	p.metric("records_fetched", res.Records, "counter", fields)
	p.metric("pages_fetched", res.Pages, "counter", fields)
	p.metric("bytes_uploaded", uploaded, "counter", fields)
	p.metric("run_duration_ms", res.Duration.Milliseconds(), "gauge", fields)
}
