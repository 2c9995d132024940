package logger

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	errorsCount          int64
	warnsCount           int64
	pagesRead            int64
	bytesRead            int64
	recordsRead          int64
	s3Writes             int64
	bytesUploaded        int64
	lastFailingComponent atomic.Value // string
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsCount, 1)
	lastFailingComponent.Store(component)
}

func recordError(component string) {
	atomic.AddInt64(&errorsCount, 1)
	lastFailingComponent.Store(component)
}

// IncrementPageRead counts one fetched page of records and its body size.
func IncrementPageRead(records int, size int64) {
	atomic.AddInt64(&pagesRead, 1)
	atomic.AddInt64(&recordsRead, int64(records))
	atomic.AddInt64(&bytesRead, size)
}

// IncrementS3Write counts one uploaded object.
func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	atomic.AddInt64(&bytesUploaded, size)
}

// ReportSnapshot is a point-in-time copy of the run counters.
type ReportSnapshot struct {
	Errors        int64
	Warnings      int64
	Pages         int64
	BytesRead     int64
	Records       int64
	S3Writes      int64
	BytesUploaded int64
}

func Snapshot() ReportSnapshot {
	return ReportSnapshot{
		Errors:        atomic.LoadInt64(&errorsCount),
		Warnings:      atomic.LoadInt64(&warnsCount),
		Pages:         atomic.LoadInt64(&pagesRead),
		BytesRead:     atomic.LoadInt64(&bytesRead),
		Records:       atomic.LoadInt64(&recordsRead),
		S3Writes:      atomic.LoadInt64(&s3Writes),
		BytesUploaded: atomic.LoadInt64(&bytesUploaded),
	}
}

func resetReport() {
	for _, p := range []*int64{&errorsCount, &warnsCount, &pagesRead, &bytesRead, &recordsRead, &s3Writes, &bytesUploaded} {
		atomic.StoreInt64(p, 0)
	}
	lastFailingComponent.Store("")
}

// LogRunReport logs the run counters together with process memory figures and
// publishes them to CloudWatch when it is enabled.
func LogRunReport(ctx context.Context, log *Log, extra Fields) {
	snap := Snapshot()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := float64(ms.HeapAlloc) / 1024 / 1024

	hostUsedMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		hostUsedMB = float64(vm.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors":         snap.Errors,
		"warnings":       snap.Warnings,
		"pages_read":     snap.Pages,
		"bytes_read":     snap.BytesRead,
		"records_read":   snap.Records,
		"s3_writes":      snap.S3Writes,
		"bytes_uploaded": snap.BytesUploaded,
		"heap_mb":        heapMB,
		"host_memory_mb": hostUsedMB,
		"goroutines":     runtime.NumGoroutine(),
	}
	if c, _ := lastFailingComponent.Load().(string); c != "" {
		fields["last_failing_component"] = c
	}
	for k, v := range extra {
		fields[k] = v
	}

	log.WithComponent("report").WithFields(fields).Info("run report")

	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("PagesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(snap.Pages))},
		{MetricName: aws.String("RecordsRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(snap.Records))},
		{MetricName: aws.String("BytesRead"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(snap.BytesRead))},
		{MetricName: aws.String("BytesUploaded"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(snap.BytesUploaded))},
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(snap.Errors))},
		{MetricName: aws.String("Warnings"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(snap.Warnings))},
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(heapMB)},
	})
}
