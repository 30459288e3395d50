package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// SubjectStats carries the notifier's periodic health snapshot.
const SubjectStats = "apm.notifier.stats"

// PoolSource reports delivery worker pool usage.
type PoolSource interface {
	PoolStats() (running, free int)
}

// Stats is the published snapshot.
type Stats struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUUsage       float64   `json:"cpu_usage"`
	MemoryUsage    float64   `json:"memory_usage"`
	MemoryUsedMB   uint64    `json:"memory_used_mb"`
	WorkersRunning int       `json:"workers_running"`
	WorkersFree    int       `json:"workers_free"`
}

// StatsPublisher samples host and pool metrics on an interval and publishes
// them for the monitoring server to scrape.
type StatsPublisher struct {
	logger   *zap.Logger
	nc       *nats.Conn
	pool     PoolSource
	interval time.Duration
	stop     chan struct{}
}

// NewStatsPublisher builds a publisher. A non-positive interval defaults to
// one minute.
func NewStatsPublisher(logger *zap.Logger, nc *nats.Conn, pool PoolSource, interval time.Duration) *StatsPublisher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsPublisher{
		logger:   logger.Named("stats"),
		nc:       nc,
		pool:     pool,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the publish loop.
func (p *StatsPublisher) Start(ctx context.Context) {
	p.logger.Info("Starting stats publisher", zap.Duration("interval", p.interval))
	go p.loop(ctx)
}

// Stop halts the publish loop.
func (p *StatsPublisher) Stop() {
	p.logger.Info("Stopping stats publisher")
	close(p.stop)
}

func (p *StatsPublisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.publish()
		}
	}
}

func (p *StatsPublisher) publish() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		p.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		p.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	running, free := p.pool.PoolStats()
	stats := Stats{
		Timestamp:      time.Now(),
		CPUUsage:       cpuPercent[0],
		MemoryUsage:    memInfo.UsedPercent,
		MemoryUsedMB:   memInfo.Used / 1024 / 1024,
		WorkersRunning: running,
		WorkersFree:    free,
	}

	data, err := json.Marshal(stats)
	if err != nil {
		p.logger.Error("Failed to marshal stats", zap.Error(err))
		return
	}

	if err := p.nc.Publish(SubjectStats, data); err != nil {
		p.logger.Error("Failed to publish stats", zap.Error(err))
	}
}
