package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestMetrics(t *testing.T) {
	logger := zap.NewNop()
	m := New(logger)

	m.RecordWebhookEvent("contact.propertyChange", "processed")
	m.RecordWebhookEvent("auto", "rejected")
	m.RecordConversion()
	m.RecordClick()
	m.RecordEmail("welcome", "sent")
	m.RecordEmail("digest", "skipped")
	m.ObserveAPIRequest("POST", 200, 0.42)

	handler := NewHandler(m, logger)

	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}
