package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 서비스 공통 프로메테우스 지표
// nil 리시버에서도 호출 가능
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	eventsConsumed   *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	paymentInitiates *prometheus.CounterVec
	gatewayOutcomes  *prometheus.CounterVec
}

// New 지표 생성 및 레지스트리 등록
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rental_events_published_total",
			Help:        "Domain events handed to the broker, by exchange, event type and result.",
			ConstLabels: labels,
		}, []string{"exchange", "event_type", "result"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rental_events_consumed_total",
			Help:        "Deliveries settled by consumers, by queue, event type and outcome.",
			ConstLabels: labels,
		}, []string{"queue", "event_type", "outcome"}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rental_outbox_pending",
			Help:        "Outbox records fetched but not yet published in the last relay pass.",
			ConstLabels: labels,
		}),
		paymentInitiates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rental_payment_initiate_total",
			Help:        "Synchronous payment initiation calls by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		gatewayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rental_gateway_outcomes_total",
			Help:        "Mocked external gateway results by gateway, operation and outcome.",
			ConstLabels: labels,
		}, []string{"gateway", "operation", "outcome"}),
	}

	reg.MustRegister(
		m.eventsPublished,
		m.eventsConsumed,
		m.outboxPending,
		m.paymentInitiates,
		m.gatewayOutcomes,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler /metrics 핸들러
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 내부 레지스트리 (테스트용)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) EventPublished(exchange, eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(exchange, eventType, result).Inc()
}

func (m *Metrics) EventConsumed(queue, eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(queue, eventType, outcome).Inc()
}

func (m *Metrics) OutboxPending(n int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(n))
}

func (m *Metrics) PaymentInitiate(outcome string) {
	if m == nil {
		return
	}
	m.paymentInitiates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayOutcome(gateway, operation, outcome string) {
	if m == nil {
		return
	}
	m.gatewayOutcomes.WithLabelValues(gateway, operation, outcome).Inc()
}

// Published 테스트 조회용
func (m *Metrics) Published(exchange, eventType, result string) prometheus.Counter {
	return m.eventsPublished.WithLabelValues(exchange, eventType, result)
}

// Consumed 테스트 조회용
func (m *Metrics) Consumed(queue, eventType, outcome string) prometheus.Counter {
	return m.eventsConsumed.WithLabelValues(queue, eventType, outcome)
}
