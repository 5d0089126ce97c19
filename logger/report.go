package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type counter struct {
	n int64
}

var (
	warns    sync.Map // component -> *counter
	errs     sync.Map // component -> *counter
	fetches  sync.Map // provider -> *counter
	failures sync.Map // provider -> *counter

	recordsEmitted  int64
	recordsRejected int64
	sinkWrites      int64
	sinkBytes       int64
)

func bump(m *sync.Map, key string, delta int64) {
	v, _ := m.LoadOrStore(key, &counter{})
	atomic.AddInt64(&v.(*counter).n, delta)
}

func snapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(&v.(*counter).n)
		return true
	})
	return out
}

func recordWarn(component string) {
	bump(&warns, component, 1)
}

func recordError(component string) {
	bump(&errs, component, 1)
}

// IncrementFetch counts one completed provider call.
func IncrementFetch(provider string, failed bool) {
	bump(&fetches, provider, 1)
	if failed {
		bump(&failures, provider, 1)
	}
}

// AddRecords counts canonical records handed to consumers and rows dropped by
// normalization.
func AddRecords(emitted, rejected int) {
	atomic.AddInt64(&recordsEmitted, int64(emitted))
	atomic.AddInt64(&recordsRejected, int64(rejected))
}

// IncrementSinkWrite counts one exported object of size bytes.
func IncrementSinkWrite(size int64) {
	atomic.AddInt64(&sinkWrites, 1)
	atomic.AddInt64(&sinkBytes, size)
}

// StartReport logs and publishes a runtime report every interval until ctx ends.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}

	fetchCounts := snapshot(&fetches)
	failureCounts := snapshot(&failures)

	fields := Fields{
		"warns":            snapshot(&warns),
		"errors":           snapshot(&errs),
		"fetches":          fetchCounts,
		"fetch_failures":   failureCounts,
		"records_emitted":  atomic.LoadInt64(&recordsEmitted),
		"records_rejected": atomic.LoadInt64(&recordsRejected),
		"sink_writes":      atomic.LoadInt64(&sinkWrites),
		"sink_bytes":       atomic.LoadInt64(&sinkBytes),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memMB),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		{MetricName: aws.String("RecordsEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_emitted"].(int64)))},
		{MetricName: aws.String("RecordsRejected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_rejected"].(int64)))},
		{MetricName: aws.String("SinkWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["sink_writes"].(int64)))},
	}

	providers := make([]string, 0, len(fetchCounts))
	for p := range fetchCounts {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		dims := []cwtypes.Dimension{{Name: aws.String("Provider"), Value: aws.String(p)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("ProviderFetches"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(fetchCounts[p]))},
			cwtypes.MetricDatum{MetricName: aws.String("ProviderFailures"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(failureCounts[p]))},
		)
	}

	publishMetrics(ctx, data)
}
