package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger *zap.Logger

	// Счетчики
	webhookEvents *prometheus.CounterVec
	conversions   prometheus.Counter
	clicks        prometheus.Counter
	emails        *prometheus.CounterVec

	// Гистограммы
	apiRequestDuration *prometheus.HistogramVec

	// Gauge метрики
	lastWebhookAt prometheus.Gauge
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Общее количество обработанных webhook событий",
			},
			[]string{"type", "status"}, // type: contact.propertyChange, ...; status: processed, rejected
		),

		conversions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conversions_tracked_total",
				Help: "Общее количество засчитанных конверсий",
			},
		),

		clicks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_clicks_total",
				Help: "Общее количество переходов по реферальным ссылкам",
			},
		),

		emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_emails_total",
				Help: "Общее количество уведомлений по видам",
			},
			[]string{"kind", "status"}, // kind: welcome, conversion, digest, admin; status: sent, skipped
		),

		apiRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hubspot_api_request_duration_seconds",
				Help:    "Длительность запросов к HubSpot API в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),

		lastWebhookAt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "last_webhook_timestamp",
				Help: "Unix-время последнего принятого webhook'а",
			},
		),
	}

	prometheus.MustRegister(
		m.webhookEvents,
		m.conversions,
		m.clicks,
		m.emails,
		m.apiRequestDuration,
		m.lastWebhookAt,
	)

	return m
}

// RecordWebhookEvent записывает обработку webhook события
func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEvents.WithLabelValues(eventType, status).Inc()
	m.lastWebhookAt.Set(float64(time.Now().Unix()))
	m.logger.Debug("метрика webhook события",
		zap.String("type", eventType),
		zap.String("status", status))
}

// RecordConversion записывает засчитанную конверсию
func (m *Metrics) RecordConversion() {
	m.conversions.Inc()
}

// RecordClick записывает переход по реферальной ссылке
func (m *Metrics) RecordClick() {
	m.clicks.Inc()
}

// RecordEmail записывает отправленное или пропущенное уведомление
func (m *Metrics) RecordEmail(kind, status string) {
	m.emails.WithLabelValues(kind, status).Inc()
}

// ObserveAPIRequest записывает длительность запроса к HubSpot API
func (m *Metrics) ObserveAPIRequest(method string, statusCode int, seconds float64) {
	m.apiRequestDuration.WithLabelValues(method, strconv.Itoa(statusCode)).Observe(seconds)
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
