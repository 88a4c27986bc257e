package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("go.perf_stats")

var (
	cpuGauge, _         = meter.Float64Gauge("cpu_usage")
	memoryGauge, _      = meter.Int64Gauge("allocated_mb")
	liveObjectsGauge, _ = meter.Int64Gauge("live_objects")
	goroutineGauge, _   = meter.Int64Gauge("goroutine_count")
)

// InstrumentPerfStats samples process health every 30 seconds until the
// context is cancelled.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var stats runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			runtime.ReadMemStats(&stats)
			memoryGauge.Record(ctx, int64(stats.Alloc/1_000_000))
			liveObjectsGauge.Record(ctx, int64(stats.Mallocs)-int64(stats.Frees))
			goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

			// cpu.Percent blocks while it measures over the interval
			usage, err := cpu.Percent(time.Minute, false)
			if err != nil {
				slog.WarnContext(ctx, "failed to read cpu usage", "err", err)
				continue
			}
			cpuGauge.Record(ctx, usage[0])
		}
	}()
}
