package monitor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lanshare/pkg/logger"
)

// Drop reasons for DatagramsDropped.
const (
	DropMalformed  = "malformed"
	DropAuth       = "auth"
	DropSuppressed = "suppressed"
	DropBusy       = "busy"
	DropUnexpected = "unexpected"
)

// Fetch results for ChunkFetches.
const (
	FetchOK         = "ok"
	FetchTimeout    = "timeout"
	FetchIncomplete = "incomplete"
	FetchError      = "error"
)

// Metrics holds the counters of one node. Each node owns its registry so
// several nodes can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	DatagramsReceived *prometheus.CounterVec
	DatagramsDropped  *prometheus.CounterVec
	FragmentsSent     prometheus.Counter
	ChunksServed      prometheus.Counter
	ChunkFetches      *prometheus.CounterVec
	BytesDownloaded   prometheus.Counter
	ConnectedPeers    prometheus.Gauge
	CatalogFiles      prometheus.Gauge

	start time.Time
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		DatagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanshare_datagrams_received_total",
			Help: "Datagrams read, by socket",
		}, []string{"socket"}),
		DatagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanshare_datagrams_dropped_total",
			Help: "Datagrams discarded without effect, by reason",
		}, []string{"reason"}),
		FragmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanshare_fragments_sent_total",
			Help: "Chunk fragment datagrams sent",
		}),
		ChunksServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanshare_chunks_served_total",
			Help: "Chunk requests answered",
		}),
		ChunkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanshare_chunk_fetches_total",
			Help: "Chunk fetch attempts, by result",
		}, []string{"result"}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanshare_downloaded_bytes_total",
			Help: "Chunk bytes written to download destinations",
		}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanshare_connected_peers",
			Help: "Peers currently admitted",
		}),
		CatalogFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanshare_catalog_files",
			Help: "Remote files currently known",
		}),
		start: time.Now(),
	}
	m.Registry.MustRegister(
		m.DatagramsReceived,
		m.DatagramsDropped,
		m.FragmentsSent,
		m.ChunksServed,
		m.ChunkFetches,
		m.BytesDownloaded,
		m.ConnectedPeers,
		m.CatalogFiles,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve runs the /metrics endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Sugar.Infof("[Metrics] serving on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// LogPeriodic logs runtime metrics at the specified interval until ctx is done.
func (m *Metrics) LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		elapsed := time.Since(m.start).Seconds()
		downloaded := counterValue(m.BytesDownloaded)
		var throughput float64
		if elapsed > 0 {
			throughput = downloaded / elapsed / 1024 / 1024
		}

		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | Peers=%d | Files=%d | Downloaded=%.2fMB | Throughput=%.2fMB/s",
			runtime.NumGoroutine(),
			ms.HeapAlloc/1024/1024,
			int(gaugeValue(m.ConnectedPeers)),
			int(gaugeValue(m.CatalogFiles)),
			downloaded/1024/1024,
			throughput,
		)
	}
}

// RecordTransfer logs a completed download.
func RecordTransfer(name string, bytes int64, duration time.Duration) {
	var speed float64
	if s := duration.Seconds(); s > 0 {
		speed = float64(bytes) / s / 1024 / 1024
	}
	logger.Sugar.Infof("[Transfer] %s | Size=%.2fMB | Duration=%.2fs | Speed=%.2fMB/s",
		name, float64(bytes)/1024/1024, duration.Seconds(), speed)
}
