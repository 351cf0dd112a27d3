package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type feedStat struct {
	frames       int64
	bytes        int64
	decodeErrors int64
}

var (
	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	feeds       sync.Map // feed name -> *feedStat
)

func recordLevel(component string, counts *sync.Map) {
	v, _ := counts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// RecordFrame counts a frame received on feed.
func RecordFrame(feed string, size int) {
	fs := feedStatFor(feed)
	atomic.AddInt64(&fs.frames, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// RecordDecodeError counts a frame dropped by the decoder on feed.
func RecordDecodeError(feed string) {
	atomic.AddInt64(&feedStatFor(feed).decodeErrors, 1)
}

// FeedFrames returns the number of frames counted for feed.
func FeedFrames(feed string) int64 {
	return atomic.LoadInt64(&feedStatFor(feed).frames)
}

func feedStatFor(feed string) *feedStat {
	v, _ := feeds.LoadOrStore(feed, &feedStat{})
	return v.(*feedStat)
}

// Probe supplies extra fields for the runtime report, e.g. series sizes.
type Probe func() Fields

// StartReport logs system and feed statistics every interval until ctx is
// done. probe may be nil.
func StartReport(ctx context.Context, log *Log, interval time.Duration, probe Probe) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log, probe)
			}
		}
	}()
}

func snapshotCounts(counts *sync.Map) map[string]int64 {
	out := map[string]int64{}
	counts.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func reportFields(probe Probe) Fields {
	feedData := map[string]map[string]int64{}
	feeds.Range(func(k, v any) bool {
		fs := v.(*feedStat)
		feedData[k.(string)] = map[string]int64{
			"frames":        atomic.LoadInt64(&fs.frames),
			"bytes":         atomic.LoadInt64(&fs.bytes),
			"decode_errors": atomic.LoadInt64(&fs.decodeErrors),
		}
		return true
	})

	fields := Fields{
		"warns":      snapshotCounts(&warnCounts),
		"errors":     snapshotCounts(&errorCounts),
		"feeds":      feedData,
		"goroutines": runtime.NumGoroutine(),
	}
	if probe != nil {
		for k, v := range probe() {
			fields[k] = v
		}
	}
	return fields
}

func logReport(ctx context.Context, log *Log, probe Probe) {
	fields := reportFields(probe)

	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memMB)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
	}
	for name, stats := range fields["feeds"].(map[string]map[string]int64) {
		dims := []cwtypes.Dimension{{Name: aws.String("Feed"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("FeedFrames"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["frames"]))},
			cwtypes.MetricDatum{MetricName: aws.String("FeedBytes"), Unit: cwtypes.StandardUnitBytes, Dimensions: dims, Value: aws.Float64(float64(stats["bytes"]))},
			cwtypes.MetricDatum{MetricName: aws.String("FeedDecodeErrors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["decode_errors"]))},
		)
	}

	publishMetrics(ctx, data)
}
