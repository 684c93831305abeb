package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-n2k/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_tx_frames_total",
		Help: "Total CAN frames accepted by the transmitter.",
	})
	TxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "n2k_tx_messages_total",
		Help: "Total messages sent, by framing (single|bam).",
	}, []string{"framing"})
	TxEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_tx_evicted_requeued_total",
		Help: "Lower-priority frames evicted by the controller and resubmitted.",
	})
	TxWouldBlock = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_tx_would_block_total",
		Help: "Transmit attempts retried because the controller had no room.",
	})
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_rx_frames_total",
		Help: "Total CAN frames received from the backend.",
	})
	RxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_rx_messages_total",
		Help: "Total single-frame messages dispatched to handlers.",
	})
	RxTransportFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_rx_transport_frames_total",
		Help: "TP.CM/TP.DT frames received and not reassembled.",
	})
	HandlerDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_handler_dropped_messages_total",
		Help: "Messages dropped because a handler queue was full.",
	})
	HandlerKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "n2k_handler_kicked_total",
		Help: "Handlers unregistered due to backpressure kick policy.",
	})
	HandlersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "n2k_handlers_active",
		Help: "Current number of registered handlers.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid length, checksum, truncated, bad identifier).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTxFatal        = "tx_fatal"
	ErrTxRetryLimit   = "tx_retry_limit"
	ErrRxRead         = "rx_read"
	ErrHandlerPanic   = "handler_panic"
	ErrSerialWrite    = "serial_write"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANRead  = "socketcan_read"
	ErrCannelloni     = "cannelloni"
	ErrHandshake      = "handshake"
)

// Framing label values for TxMessages.
const (
	FramingSingle = "single"
	FramingBAM    = "bam"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localTxFrames     uint64
	localTxSingle     uint64
	localTxBAM        uint64
	localTxEvict      uint64
	localTxWouldBlock uint64
	localRxFrames     uint64
	localRxMessages   uint64
	localRxTransport  uint64
	localHdlDrop      uint64
	localHdlKick      uint64
	localHandlers     uint64
	localErrors       uint64
	localMalformed    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	TxFrames     uint64
	TxSingle     uint64
	TxBAM        uint64
	TxEvictions  uint64
	TxWouldBlock uint64
	RxFrames     uint64
	RxMessages   uint64
	RxTransport  uint64
	HandlerDrops uint64
	HandlerKicks uint64
	Handlers     uint64
	Errors       uint64 // sum across error labels
	Malformed    uint64
}

func Snap() Snapshot {
	return Snapshot{
		TxFrames:     atomic.LoadUint64(&localTxFrames),
		TxSingle:     atomic.LoadUint64(&localTxSingle),
		TxBAM:        atomic.LoadUint64(&localTxBAM),
		TxEvictions:  atomic.LoadUint64(&localTxEvict),
		TxWouldBlock: atomic.LoadUint64(&localTxWouldBlock),
		RxFrames:     atomic.LoadUint64(&localRxFrames),
		RxMessages:   atomic.LoadUint64(&localRxMessages),
		RxTransport:  atomic.LoadUint64(&localRxTransport),
		HandlerDrops: atomic.LoadUint64(&localHdlDrop),
		HandlerKicks: atomic.LoadUint64(&localHdlKick),
		Handlers:     atomic.LoadUint64(&localHandlers),
		Errors:       atomic.LoadUint64(&localErrors),
		Malformed:    atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncTxFrame() {
	TxFrames.Inc()
	atomic.AddUint64(&localTxFrames, 1)
}

// IncTxMessage counts a sent message by framing.
func IncTxMessage(framing string) {
	TxMessages.WithLabelValues(framing).Inc()
	if framing == FramingBAM {
		atomic.AddUint64(&localTxBAM, 1)
		return
	}
	atomic.AddUint64(&localTxSingle, 1)
}

func IncTxEviction() {
	TxEvictions.Inc()
	atomic.AddUint64(&localTxEvict, 1)
}

func IncTxWouldBlock() {
	TxWouldBlock.Inc()
	atomic.AddUint64(&localTxWouldBlock, 1)
}

func IncRxFrame() {
	RxFrames.Inc()
	atomic.AddUint64(&localRxFrames, 1)
}

func IncRxMessage() {
	RxMessages.Inc()
	atomic.AddUint64(&localRxMessages, 1)
}

func IncRxTransport() {
	RxTransportFrames.Inc()
	atomic.AddUint64(&localRxTransport, 1)
}

func IncHandlerDrop() {
	HandlerDropped.Inc()
	atomic.AddUint64(&localHdlDrop, 1)
}

func IncHandlerKick() {
	HandlerKicked.Inc()
	atomic.AddUint64(&localHdlKick, 1)
}

func SetHandlers(n int) {
	HandlersActive.Set(float64(n))
	atomic.StoreUint64(&localHandlers, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTxFatal, ErrTxRetryLimit, ErrRxRead, ErrHandlerPanic,
		ErrSerialWrite, ErrSerialRead, ErrSocketCANWrite, ErrSocketCANRead,
		ErrCannelloni, ErrHandshake,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, f := range []string{FramingSingle, FramingBAM} {
		TxMessages.WithLabelValues(f).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
