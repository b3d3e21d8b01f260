package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

// Metrics is the counter's Prometheus registry. It records counter activity
// and samples the process' own memory and CPU.
type Metrics struct {
	Registry *prometheus.Registry

	memUsage       prometheus.Gauge
	cpuUsage       prometheus.Gauge
	activeTracks   prometheus.Gauge
	doorOpen       prometheus.Gauge
	passengerTotal prometheus.Gauge
	sessionIn      prometheus.Gauge
	sessionOut     prometheus.Gauge
	crossings      *prometheus.CounterVec
	commits        *prometheus.CounterVec
	frames         *prometheus.CounterVec

	pid *process.Process
	log *zap.Logger
}

func New(log *zap.Logger) *Metrics {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		activeTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counter_active_tracks",
			Help: "Objects currently tracked",
		}),
		doorOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counter_door_open",
			Help: "1 while the door is open",
		}),
		passengerTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counter_passenger_total",
			Help: "Passenger total after the last committed session",
		}),
		sessionIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counter_session_entered",
			Help: "Passengers entered in the current session",
		}),
		sessionOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counter_session_exited",
			Help: "Passengers exited in the current session",
		}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_crossings_total",
			Help: "Line crossings by event",
		}, []string{"event"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_sessions_committed_total",
			Help: "Session commits by result",
		}, []string{"result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_frames_total",
			Help: "Frames processed, by whether detection ran",
		}, []string{"detected"}),
		log: log,
	}
	m.Registry.MustRegister(m.memUsage, m.cpuUsage, m.activeTracks, m.doorOpen,
		m.passengerTotal, m.sessionIn, m.sessionOut, m.crossings, m.commits, m.frames)
	return m
}

func (m *Metrics) Crossing(event string, entered, exited int) {
	m.crossings.WithLabelValues(event).Inc()
	m.sessionIn.Set(float64(entered))
	m.sessionOut.Set(float64(exited))
}

func (m *Metrics) Committed(total, entered, exited int, err error) {
	m.sessionIn.Set(0)
	m.sessionOut.Set(0)
	if err != nil {
		m.commits.WithLabelValues("error").Inc()
		return
	}
	m.commits.WithLabelValues("ok").Inc()
	m.passengerTotal.Set(float64(total))
}

func (m *Metrics) DoorChanged(open bool) {
	if open {
		m.doorOpen.Set(1)
	} else {
		m.doorOpen.Set(0)
	}
}

func (m *Metrics) Tracks(n int) {
	m.activeTracks.Set(float64(n))
}

func (m *Metrics) Frame(detected bool) {
	if detected {
		m.frames.WithLabelValues("true").Inc()
	} else {
		m.frames.WithLabelValues("false").Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) checkProcessInfo() {
	if m.pid == nil {
		return
	}
	if memInfo, err := m.pid.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.pid.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the process until ctx is done.
func (m *Metrics) StartMon(ctx context.Context, port int) {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.log.Warn("process stats unavailable", zap.Error(err))
	}
	m.pid = pid

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		m.log.Info("metrics server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("metrics server failed", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.checkProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		m.log.Error("metrics server shutdown failed", zap.Error(err))
	}
}
