// Package metrics wires shoes connection and handshake counters into a
// prometheus.Registry, the same library the corpus's caddyhttp metrics
// middleware is built on.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shoes-proxy/shoes/shadowtls"
)

// Collector holds every metric the proxy core reports. It is created
// once per process and shared by every listener.
type Collector struct {
	ConnectionsTotal  *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec
	HandshakeFailures *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	BytesRelayed      *prometheus.CounterVec
}

// NewCollector builds a Collector and registers it with reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps tests hermetic.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ConnectionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoes",
			Name:      "connections_total",
			Help:      "Total number of inbound connections accepted, by target and outcome.",
		}, []string{"target", "outcome"}),
		ActiveConnections: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shoes",
			Name:      "active_connections",
			Help:      "Number of connections currently past the handshake and relaying traffic.",
		}, []string{"target"}),
		HandshakeFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoes",
			Name:      "handshake_failures_total",
			Help:      "Total number of rejected or failed handshakes, by target and reason.",
		}, []string{"target", "reason"}),
		HandshakeDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shoes",
			Name:      "handshake_duration_seconds",
			Help:      "Time from accepting a connection to completing the covert handshake.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		BytesRelayed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoes",
			Name:      "bytes_relayed_total",
			Help:      "Total bytes relayed after transition into ShadowTLS framing, by target and direction.",
		}, []string{"target", "direction"}),
	}
	return c
}

// HandshakeRejected records a connection that never reached the inner
// handler, tagging it with the sanitized failure reason so the reason
// cardinality stays bounded.
func (c *Collector) HandshakeRejected(target string, err error) {
	c.ConnectionsTotal.WithLabelValues(target, "rejected").Inc()
	c.HandshakeFailures.WithLabelValues(target, SanitizeReason(err)).Inc()
}

// HandshakeAccepted records a connection that transitioned successfully.
func (c *Collector) HandshakeAccepted(target string) {
	c.ConnectionsTotal.WithLabelValues(target, "accepted").Inc()
}

// knownReasons classifies a rejection error against the package's own
// sentinel errors, bounding the label cardinality exposed to prometheus
// the same way the corpus's HTTP metrics middleware allow-lists method
// names: anything that isn't one of these sentinels collapses to
// "other" rather than letting an adversarial client mint new label
// values out of arbitrary error text.
var knownReasons = []struct {
	err    error
	reason string
}{
	{shadowtls.ErrHMACMismatch, "hmac_mismatch"},
	{shadowtls.ErrUnsupportedTLS13, "unsupported_tls13"},
	{shadowtls.ErrMissingSessionID, "missing_session_id"},
	{shadowtls.ErrHelloRetryRequest, "hello_retry_request"},
	{shadowtls.ErrMissingSupportedVers, "missing_supported_versions"},
	{shadowtls.ErrFrameTooLarge, "frame_too_large"},
	{shadowtls.ErrUnsupportedContentType, "unsupported_content_type"},
	{shadowtls.ErrUnsupportedVersion, "unsupported_version"},
	{shadowtls.ErrShortFrame, "short_frame"},
}

// SanitizeReason maps a handshake rejection error onto a small, fixed
// label set. errors.Is is used rather than string matching because
// every shadowtls sentinel may arrive wrapped with context
// (fmt.Errorf("...: %w", err)).
func SanitizeReason(err error) string {
	for _, k := range knownReasons {
		if errors.Is(err, k.err) {
			return k.reason
		}
	}
	return "other"
}
