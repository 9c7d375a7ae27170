package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// CheckFunc probes one dependency for the health endpoint
type CheckFunc func(ctx context.Context) error

// QueueStatser reports job queue counts
type QueueStatser interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
	Inline() bool
}

// DashboardConfig tunes the system endpoints
type DashboardConfig struct {
	Version       string
	CPUSample     time.Duration // 0 compares against the previous call
	DiskPath      string
	DiskThreshold float64 // percent at which disk_alert is raised
}

// DashboardHandler serves health and host metrics
type DashboardHandler struct {
	cfg       DashboardConfig
	queue     QueueStatser
	relay     ports.Relay
	checks    map[string]CheckFunc
	startedAt time.Time
	log       zerolog.Logger
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(cfg DashboardConfig, queue QueueStatser, relay ports.Relay, checks map[string]CheckFunc, log zerolog.Logger) *DashboardHandler {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "."
	}
	if cfg.DiskThreshold <= 0 {
		cfg.DiskThreshold = 70
	}
	return &DashboardHandler{
		cfg:       cfg,
		queue:     queue,
		relay:     relay,
		checks:    checks,
		startedAt: time.Now(),
		log:       log.With().Str("component", "dashboard").Logger(),
	}
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent         float64            `json:"cpu_percent"`
	RAMUsedGB          float64            `json:"ram_used_gb"`
	RAMTotalGB         float64            `json:"ram_total_gb"`
	RAMPercent         float64            `json:"ram_percent"`
	DiskUsedGB         float64            `json:"disk_used_gb"`
	DiskTotalGB        float64            `json:"disk_total_gb"`
	DiskPercent        float64            `json:"disk_percent"`
	DiskWarningLevel   string             `json:"disk_warning_level"` // "safe" | "warning" | "critical"
	DiskAlert          bool               `json:"disk_alert"`
	DiskAlertThreshold float64            `json:"disk_alert_threshold"`
	GoroutinesCount    int                `json:"goroutines_count"`
	RelayConnections   int                `json:"relay_connections"`
	QueueMode          string             `json:"queue_mode"` // "redis" | "inline"
	Queue              *domain.QueueStats `json:"queue,omitempty"`
	Uptime             string             `json:"uptime"`
}

// GetSystemMetrics returns current system health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(c echo.Context) error {
	ctx := c.Request().Context()
	resp := SystemMetricsResponse{
		GoroutinesCount:    runtime.NumGoroutine(),
		RelayConnections:   h.relay.ConnectionCount(),
		DiskAlertThreshold: h.cfg.DiskThreshold,
		QueueMode:          "redis",
		Uptime:             formatDuration(time.Since(h.startedAt)),
	}

	if pct, err := cpu.PercentWithContext(ctx, h.cfg.CPUSample, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = roundTo2Decimals(pct[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.RAMUsedGB = roundTo2Decimals(toGB(vm.Used))
		resp.RAMTotalGB = roundTo2Decimals(toGB(vm.Total))
		resp.RAMPercent = roundTo2Decimals(vm.UsedPercent)
	}
	if du, err := disk.UsageWithContext(ctx, h.cfg.DiskPath); err == nil {
		resp.DiskUsedGB = roundTo2Decimals(toGB(du.Used))
		resp.DiskTotalGB = roundTo2Decimals(toGB(du.Total))
		resp.DiskPercent = roundTo2Decimals(du.UsedPercent)
	}
	resp.DiskWarningLevel = diskWarningLevel(resp.DiskPercent)
	resp.DiskAlert = resp.DiskPercent > h.cfg.DiskThreshold

	if h.queue.Inline() {
		resp.QueueMode = "inline"
	}
	if stats, err := h.queue.Stats(ctx); err == nil {
		resp.Queue = &stats
	} else {
		h.log.Warn().Err(err).Msg("failed to read queue stats")
	}

	h.log.Debug().
		Float64("cpu", resp.CPUPercent).
		Float64("disk_percent", resp.DiskPercent).
		Int("relay_connections", resp.RelayConnections).
		Msg("system metrics retrieved")

	return ok(c, "success", resp)
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse reports liveness and dependency status
type HealthResponse struct {
	Status    string            `json:"status"` // "ok" | "degraded"
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	QueueMode string            `json:"queue_mode"`
	Checks    map[string]string `json:"checks"`
}

// Health probes every registered dependency
// GET /health
func (h *DashboardHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "ok",
		Version:   h.cfg.Version,
		Uptime:    formatDuration(time.Since(h.startedAt)),
		QueueMode: "redis",
		Checks:    make(map[string]string, len(h.checks)),
	}
	if h.queue.Inline() {
		resp.QueueMode = "inline"
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			resp.Checks[name] = "down"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, APIResponse{Code: CodeError, Msg: "degraded", Data: resp})
	}
	return ok(c, "ok", resp)
}

// ============================================================================
// Helpers
// ============================================================================

func toGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func diskWarningLevel(percent float64) string {
	switch {
	case percent < 70:
		return "safe"
	case percent < 80:
		return "warning"
	default:
		return "critical"
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
