// Package telemetry writes periodic per-pack status points and host
// metrics to InfluxDB, following the teacher's metrics manager shape: a
// dedicated goroutine on a ticker, system stats gathered with gopsutil.
package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"marinebms/internal/config"
	"marinebms/internal/measurement"
)

// HostMetricsInterval is the period between host-resource samples.
const HostMetricsInterval = 30 * time.Second

// Sink writes per-pack status points and host metrics to InfluxDB.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastNetRx uint64
	lastNetTx uint64
	startTime time.Time
}

// NewSink connects to InfluxDB, verifies health, and starts the host
// metrics collection loop.
func NewSink(cfg config.InfluxDBConfig, log *zap.Logger) (*Sink, error) {
	sinkLog := log.With(zap.String("component", "telemetry"))

	options := influxdb2.DefaultOptions()
	options.SetBatchSize(cfg.BatchSize)
	options.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("telemetry: influxdb health check failed: %s", health.Status)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Sink{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Organization, cfg.Bucket),
		cfg:       cfg,
		log:       sinkLog,
		ctx:       runCtx,
		cancel:    runCancel,
		startTime: time.Now(),
	}
	s.initNetworkCounters()
	s.wg.Add(1)
	go s.hostMetricsLoop()
	return s, nil
}

// Close flushes pending writes and closes the InfluxDB client.
func (s *Sink) Close() error {
	s.cancel()
	s.wg.Wait()
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

// WritePackStatus writes one pack's current status as an InfluxDB point.
func (s *Sink) WritePackStatus(packID string, pack *measurement.PackState) {
	s.writeAPI.WritePoint(packStatusPoint(packID, pack, time.Now()))
}

func packStatusPoint(packID string, pack *measurement.PackState, ts time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement("pack_status").
		AddTag("pack_id", packID).
		AddTag("mode", pack.Mode.String()).
		AddTag("contactor_state", pack.ContactorState.String()).
		AddField("pack_voltage_mv", pack.PackVoltageMV).
		AddField("pack_current_ma", pack.PackCurrentMA).
		AddField("soc_hundredths", pack.SOCHundredths).
		AddField("max_cell_mv", pack.MaxCellMV).
		AddField("min_cell_mv", pack.MinCellMV).
		AddField("avg_cell_mv", pack.AvgCellMV).
		AddField("max_temp_deci_c", pack.MaxTempDeciC).
		AddField("min_temp_deci_c", pack.MinTempDeciC).
		AddField("charge_limit_ma", pack.ChargeLimitMA).
		AddField("discharge_limit_ma", pack.DischargeLimitMA).
		AddField("faults", uint32(pack.Faults)).
		AddField("fault_latched", pack.FaultLatched).
		AddField("has_warning", pack.HasWarning).
		SetTime(ts)
}

func (s *Sink) hostMetricsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(HostMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.collectHostMetrics()
		}
	}
}

func (s *Sink) initNetworkCounters() {
	stats, err := net.IOCounters(false)
	if err != nil || len(stats) == 0 {
		s.log.Warn("failed to initialize network counters", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.lastNetRx = stats[0].BytesRecv
	s.lastNetTx = stats[0].BytesSent
	s.mu.Unlock()
}

func (s *Sink) networkDelta() (uint64, uint64) {
	stats, err := net.IOCounters(false)
	if err != nil || len(stats) == 0 {
		s.log.Warn("failed to read network counters", zap.Error(err))
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rx, tx := stats[0].BytesRecv-s.lastNetRx, stats[0].BytesSent-s.lastNetTx
	s.lastNetRx, s.lastNetTx = stats[0].BytesRecv, stats[0].BytesSent
	return rx, tx
}

func (s *Sink) collectHostMetrics() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cpuPercent, err := cpu.Percent(time.Second, false)
	var cpuUsage float64
	if err != nil || len(cpuPercent) == 0 {
		s.log.Warn("failed to read cpu usage", zap.Error(err))
	} else {
		cpuUsage = cpuPercent[0]
	}

	diskStat, err := disk.Usage("/")
	var diskUsage float64
	if err != nil {
		s.log.Warn("failed to read disk usage", zap.Error(err))
	} else {
		diskUsage = diskStat.UsedPercent
	}

	rx, tx := s.networkDelta()

	point := influxdb2.NewPointWithMeasurement("host_metrics").
		AddField("cpu_percent", cpuUsage).
		AddField("disk_percent", diskUsage).
		AddField("net_rx_bytes", rx).
		AddField("net_tx_bytes", tx).
		AddField("heap_alloc_mb", float64(mem.HeapAlloc)/1024/1024).
		AddField("goroutines", runtime.NumGoroutine()).
		AddField("uptime_seconds", time.Since(s.startTime).Seconds()).
		SetTime(time.Now())

	s.writeAPI.WritePoint(point)
}
