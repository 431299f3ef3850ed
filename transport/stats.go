/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a per-connection counter set exposed as a prometheus.Collector:
// plain atomic counters collected on demand rather
// than pushed, so a server can aggregate many connections' Stats without a
// registration race per connection.
type Stats struct {
	bytesIn  int64
	bytesOut int64
	actionsByType [256]int64
	rateSleepNanos int64
}

func NewStats() *Stats { return &Stats{} }

func (s *Stats) AddBytesIn(n int64)  { atomic.AddInt64(&s.bytesIn, n) }
func (s *Stats) AddBytesOut(n int64) { atomic.AddInt64(&s.bytesOut, n) }
func (s *Stats) AddAction(t ActionType) {
	atomic.AddInt64(&s.actionsByType[t], 1)
}

// AddRateSleep adds ns to the rate-limiter sleep counter. The transport's
// own send paths do not call it, so the counter stays at zero unless a
// caller reports its sleeps here.
func (s *Stats) AddRateSleep(ns int64) { atomic.AddInt64(&s.rateSleepNanos, ns) }

func (s *Stats) BytesIn() int64  { return atomic.LoadInt64(&s.bytesIn) }
func (s *Stats) BytesOut() int64 { return atomic.LoadInt64(&s.bytesOut) }

var (
	bytesInDesc = prometheus.NewDesc(
		"cats_conn_bytes_in_total", "Total bytes read from this connection.", nil, nil)
	bytesOutDesc = prometheus.NewDesc(
		"cats_conn_bytes_out_total", "Total bytes written to this connection.", nil, nil)
	actionsDesc = prometheus.NewDesc(
		"cats_conn_actions_total", "Actions seen on this connection by type.", []string{"type"}, nil)
	rateSleepDesc = prometheus.NewDesc(
		"cats_conn_rate_sleep_seconds_total", "Cumulative time spent sleeping in the rate limiter.", nil, nil)
)

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- bytesInDesc
	ch <- bytesOutDesc
	ch <- actionsDesc
	ch <- rateSleepDesc
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(bytesInDesc, prometheus.CounterValue, float64(s.BytesIn()))
	ch <- prometheus.MustNewConstMetric(bytesOutDesc, prometheus.CounterValue, float64(s.BytesOut()))
	for t, n := range s.actionsByType {
		if n == 0 {
			continue
		}
		ch <- prometheus.MustNewConstMetric(actionsDesc, prometheus.CounterValue, float64(atomic.LoadInt64(&s.actionsByType[t])), ActionType(t).String())
	}
	ch <- prometheus.MustNewConstMetric(rateSleepDesc, prometheus.CounterValue,
		float64(atomic.LoadInt64(&s.rateSleepNanos))/1e9)
}
