// Package status exposes the governor's published state to outside
// observers: a Prometheus endpoint and an MQTT feed. Both only read
// snapshots and never touch the control loop.
package status

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
	"codeberg.org/mutker/socgovd/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace       = "socgovd"
	refreshInterval = 2 * time.Second
	shutdownTimeout = 3 * time.Second
)

var zoneNames = []string{"Cool", "Z100", "Z110", "Z120", "Z130"}

// SnapshotSource is implemented by state.Shared.
type SnapshotSource interface {
	Snapshot() state.Snapshot
}

// Exporter mirrors snapshots into Prometheus gauges.
type Exporter struct {
	listen string
	src    SnapshotSource
	reg    *prometheus.Registry
	ready  atomic.Bool
	log    logger.Logger

	zone        *prometheus.GaugeVec
	reduction   prometheus.Gauge
	temperature *prometheus.GaugeVec
	freq        *prometheus.GaugeVec
	minFreq     *prometheus.GaugeVec
	util        *prometheus.GaugeVec
	mode        *prometheus.GaugeVec
	fanLevel    prometheus.Gauge
	ticks       prometheus.Gauge
	configRev   prometheus.Gauge
	configError prometheus.Gauge
}

// NewExporter registers the gauges on a private registry.
func NewExporter(listen string, src SnapshotSource) *Exporter {
	e := &Exporter{
		listen: listen,
		src:    src,
		reg:    prometheus.NewRegistry(),
		log:    logger.New("status"),
	}

	e.zone = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "thermal_zone",
		Help: "1 for the current thermal zone, 0 otherwise.",
	}, []string{"zone"})
	e.reduction = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "thermal_reduction_percent",
		Help: "Percentage taken off every domain's maximum frequency.",
	})
	e.temperature = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "temperature_celsius",
		Help: "Averaged sensor group temperature.",
	}, []string{"sensor"})
	e.freq = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "domain_frequency",
		Help: "Applied frequency cap (kHz for CPU clusters, Hz for the GPU).",
	}, []string{"domain"})
	e.minFreq = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "domain_min_frequency",
		Help: "Frequency floor in the same unit as domain_frequency.",
	}, []string{"domain"})
	e.util = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "domain_utilization_percent",
		Help: "Utilization driving the domain.",
	}, []string{"domain"})
	e.mode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "mode",
		Help: "Governor mode flags.",
	}, []string{"mode"})
	e.fanLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "fan_level", Help: "Fan speed level, 0 is off.",
	})
	e.ticks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ticks", Help: "Control loop iterations since start.",
	})
	e.configRev = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "config_revision", Help: "Revision of the active configuration.",
	})
	e.configError = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "config_error",
		Help: "1 when the last configuration reload failed and defaults are in use.",
	})

	e.reg.MustRegister(
		e.zone, e.reduction, e.temperature, e.freq, e.minFreq, e.util,
		e.mode, e.fanLevel, e.ticks, e.configRev, e.configError,
	)

	return e
}

// Refresh copies the current snapshot into the gauges.
func (e *Exporter) Refresh() {
	snap := e.src.Snapshot()
	info := snap.Info

	for _, z := range zoneNames {
		e.zone.WithLabelValues(z).Set(boolGauge(z == info.Zone))
	}
	e.reduction.Set(float64(info.Reduction))

	setTemp := func(sensor string, v *int) {
		if v == nil {
			e.temperature.DeleteLabelValues(sensor)
			return
		}
		e.temperature.WithLabelValues(sensor).Set(float64(*v) / 1000)
	}
	setTemp("cpu", info.CPUTemp)
	setTemp("gpu", info.GPUTemp)
	setTemp("soc", info.SocTemp)
	setTemp("battery", info.BattTemp)

	for _, d := range info.Domains {
		e.freq.WithLabelValues(d.Label).Set(float64(d.Freq))
		e.minFreq.WithLabelValues(d.Label).Set(float64(d.MinFreq))
		e.util.WithLabelValues(d.Label).Set(float64(d.Util))
	}

	e.mode.WithLabelValues("idle").Set(boolGauge(info.IdleMode))
	e.mode.WithLabelValues("game").Set(boolGauge(info.GameMode))
	e.mode.WithLabelValues("charging").Set(boolGauge(info.ChargingEffective))
	e.mode.WithLabelValues("screen_on").Set(boolGauge(info.ScreenOn))

	e.fanLevel.Set(float64(info.FanLevel))
	e.ticks.Set(float64(info.Ticks))
	e.configRev.Set(float64(snap.ConfigRev))
	e.configError.Set(boolGauge(snap.LastConfigError != ""))

	// ready once the loop has published at least once
	e.ready.Store(info.Ticks > 0)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves /metrics, /healthz and /readyz.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !e.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return mux
}

// Run serves until ctx is done, refreshing the gauges on a ticker.
func (e *Exporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              e.listen,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		e.log.Info().Str("listen", e.listen).Msg("Status endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	e.Refresh()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errors.New().Wrap(errors.ErrShutdownFailed, err)
			}
			return nil

		case err, ok := <-serveErr:
			if ok {
				return errors.New().Wrap(errors.ErrServeStatus, err).WithData(e.listen)
			}
			serveErr = nil

		case <-ticker.C:
			e.Refresh()
		}
	}
}
