// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package responder

import (
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/metal-stack/relay-dhcpd/hooks"
)

// Reasons a datagram gets no reply.
const (
	dropMalformed   = "malformed"
	dropBlacklisted = "blacklisted"
	dropNoGIAddr    = "no-giaddr"
	dropMessageType = "message-type"
	dropHook        = "hook"
)

// Metrics counts what the responder does with datagrams. A nil
// *Metrics counts nothing.
type Metrics struct {
	received prometheus.Counter
	coerced  prometheus.Counter
	dropped  *prometheus.CounterVec
	replies  *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewMetrics creates the responder counters and registers them with
// reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay_dhcpd",
			Name:      "datagrams_received_total",
			Help:      "Number of datagrams read from the socket.",
		}),
		coerced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay_dhcpd",
			Name:      "packets_coerced_total",
			Help:      "Number of invalid packets treated as DHCP requests.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay_dhcpd",
			Name:      "packets_dropped_total",
			Help:      "Number of packets answered with no reply, by reason.",
		}, []string{"reason"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay_dhcpd",
			Name:      "replies_sent_total",
			Help:      "Number of replies sent, by message type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay_dhcpd",
			Name:      "errors_total",
			Help:      "Number of failures building or sending replies, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.received, m.coerced, m.dropped, m.replies, m.errors)
	return m
}

func (m *Metrics) datagram() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) coerce() {
	if m != nil {
		m.coerced.Inc()
	}
}

func (m *Metrics) drop(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) reply(typ string) {
	if m != nil {
		m.replies.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) failure(op string) {
	if m != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

// StatsTicker returns a periodic hook that logs the value of every
// counter in g at most once per interval.
func StatsTicker(log *zap.SugaredLogger, g prometheus.Gatherer, interval time.Duration) hooks.Ticker {
	var last time.Time
	return hooks.TickerFunc(func() {
		now := time.Now()
		if now.Sub(last) < interval {
			return
		}
		last = now

		families, err := g.Gather()
		if err != nil {
			log.Warnw("gathering metrics failed", "error", err)
			return
		}
		log.Infow("stats", counterValues(families)...)
	})
}

// counterValues flattens counters into key/value pairs, one per
// label combination, e.g. "packets_dropped_total{reason=hook}", 3.
func counterValues(families []*dto.MetricFamily) []interface{} {
	var ret []interface{}
	for _, f := range families {
		if f.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range f.GetMetric() {
			ret = append(ret, metricKey(f.GetName(), m.GetLabel()), m.GetCounter().GetValue())
		}
	}
	return ret
}

func metricKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
