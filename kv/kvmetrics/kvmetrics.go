// Package kvmetrics instruments a kv.Backend with Prometheus metrics.
package kvmetrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/kvdoc/kv"
)

// Collectors holds the metrics shared by every connection of a wrapped backend.
type Collectors struct {
	Ops       *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
	OpenConns prometheus.Gauge
}

// NewCollectors creates unregistered collectors under namespace.
func NewCollectors(namespace string) *Collectors {
	return &Collectors{
		Ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "kv_operations_total", Help: "Number of store operations by operation and result."},
			[]string{"op", "result"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "kv_operation_duration_seconds", Help: "Latency of store operations.", Buckets: prometheus.DefBuckets},
			[]string{"op"},
		),
		OpenConns: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "kv_open_connections", Help: "Number of connections currently open."},
		),
	}
}

// Register adds the collectors to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Ops, c.Latency, c.OpenConns} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Wrap returns a backend that records every operation of next in c.
func Wrap(next kv.Backend, c *Collectors) kv.Backend {
	return &backend{next: next, c: c}
}

type backend struct {
	next kv.Backend
	c    *Collectors
}

func (b *backend) Open(ctx context.Context) (kv.Conn, error) {
	start := time.Now()
	conn, err := b.next.Open(ctx)
	b.c.observe("open", start, err)
	if err != nil {
		return nil, err
	}
	b.c.OpenConns.Inc()
	return &instrumentedConn{next: conn, c: b.c}, nil
}

func (c *Collectors) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Ops.WithLabelValues(op, result).Inc()
	c.Latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

type instrumentedConn struct {
	next   kv.Conn
	c      *Collectors
	closed atomic.Bool
}

func (w *instrumentedConn) Get(ctx context.Context, key kv.Key) (kv.Entry, bool, error) {
	start := time.Now()
	entry, found, err := w.next.Get(ctx, key)
	w.c.observe("get", start, err)
	return entry, found, err
}

func (w *instrumentedConn) Set(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) (string, error) {
	start := time.Now()
	stamp, err := w.next.Set(ctx, key, value, ttl)
	w.c.observe("set", start, err)
	return stamp, err
}

func (w *instrumentedConn) Delete(ctx context.Context, key kv.Key) error {
	start := time.Now()
	err := w.next.Delete(ctx, key)
	w.c.observe("delete", start, err)
	return err
}

func (w *instrumentedConn) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) ([]kv.Entry, string, error) {
	start := time.Now()
	entries, cursor, err := w.next.List(ctx, sel, opts)
	w.c.observe("list", start, err)
	return entries, cursor, err
}

func (w *instrumentedConn) Close() error {
	err := w.next.Close()
	if w.closed.CompareAndSwap(false, true) {
		w.c.OpenConns.Dec()
	}
	return err
}
