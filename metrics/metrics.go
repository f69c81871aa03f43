// Package metrics exposes the core's operational counters through
// Prometheus. The host decides where (or whether) to serve them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every instrument the core components report into.
type Metrics struct {
	TxForwarded    prometheus.Counter
	BundlesSent    prometheus.Counter
	ForwardErrors  prometheus.Counter
	TPUReceived    prometheus.Counter
	TPUInvalid     prometheus.Counter
	TPUBytes       prometheus.Counter
	ShredsSent     prometheus.Counter
	ShredsReceived prometheus.Counter
	BlocksProduced prometheus.Counter
	BlocksAccepted prometheus.Counter
	BlocksRejected prometheus.Counter
	MempoolSize    prometheus.Gauge
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TxForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_gulfstream_tx_forwarded_total",
			Help: "Transactions handed to the Gulf Stream forwarder.",
		}),
		BundlesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_gulfstream_bundles_sent_total",
			Help: "Datagram bundles sent to upcoming leaders.",
		}),
		ForwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_gulfstream_forward_errors_total",
			Help: "Failed datagram sends (best-effort, not retried).",
		}),
		TPUReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_tpu_transactions_received_total",
			Help: "Transactions accepted by the TPU listener.",
		}),
		TPUInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_tpu_invalid_packets_total",
			Help: "Undecodable or signature-invalid TPU packets.",
		}),
		TPUBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_tpu_bytes_received_total",
			Help: "Raw bytes received on the TPU port.",
		}),
		ShredsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_turbine_shreds_sent_total",
			Help: "Shreds transmitted to fanout children.",
		}),
		ShredsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_turbine_shreds_received_total",
			Help: "Shreds accepted by the TVU listener.",
		}),
		BlocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_pipeline_blocks_produced_total",
			Help: "Blocks assembled and signed by this node.",
		}),
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_pipeline_blocks_accepted_total",
			Help: "Received blocks that passed full validation.",
		}),
		BlocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annealchain_pipeline_blocks_rejected_total",
			Help: "Received blocks that failed validation.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "annealchain_mempool_size",
			Help: "Pending transactions in the pool.",
		}),
	}
	reg.MustRegister(
		m.TxForwarded, m.BundlesSent, m.ForwardErrors,
		m.TPUReceived, m.TPUInvalid, m.TPUBytes,
		m.ShredsSent, m.ShredsReceived,
		m.BlocksProduced, m.BlocksAccepted, m.BlocksRejected,
		m.MempoolSize,
	)
	return m
}

// NewUnregistered creates instruments registered on a fresh private
// registry, for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
