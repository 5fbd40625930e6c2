package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"referral-hub/pkg/models"
)

// defaultLogLimit — сколько записей журнала отдается админке по умолчанию
const defaultLogLimit = 100

// LogAdmin описывает чтение и очистку диагностического журнала
type LogAdmin interface {
	Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error)
	Clear(ctx context.Context) error
}

// Handler обрабатывает HTTP запросы webhook эндпоинтов
type Handler struct {
	pipeline   *Pipeline
	logs       LogAdmin
	webhookURL string
	logger     *zap.Logger
}

// NewHandler создает новый HTTP обработчик webhook'ов. publicURL — внешний
// адрес сервиса, из него собирается канонический URL для настройки подписки
func NewHandler(pipeline *Pipeline, logs LogAdmin, publicURL string, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline:   pipeline,
		logs:       logs,
		webhookURL: strings.TrimRight(publicURL, "/") + "/webhook",
		logger:     logger,
	}
}

// HandleWebhook принимает доставку от HubSpot. Контракт ответа: 200 на
// любой разобранный payload, даже если отдельные события внутри пачки не
// атрибутировались — иначе HubSpot перепошлет всю доставку
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("ошибка чтения тела webhook запроса", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	defer r.Body.Close()

	processed, err := h.pipeline.Process(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPayload):
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Empty payload"})
		case errors.Is(err, ErrNoReferral):
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No referral_source found in webhook"})
		default:
			h.logger.Error("ошибка обработки webhook'а", zap.Error(err))
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Webhook processed",
		"result":  processed,
	})
}

// HandleInfo отдает инструкции по настройке подписки в HubSpot
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"webhook_url": h.webhookURL,
		"instructions": []string{
			"1. Go to HubSpot Settings → Integrations → Webhooks",
			"2. Click \"Create webhook subscription\"",
			"3. Set URL to: " + h.webhookURL,
			"4. Subscribe to: contact.propertyChange (for referral_source)",
			"5. Or: form.submission (for form submissions)",
			"6. Save and test",
		},
		"supported_events": []string{
			"contact.propertyChange",
			"contact.creation",
			"form.submission",
		},
	})
}

// HandleLogs отдает последние записи диагностического журнала
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= defaultLogLimit {
			limit = parsed
		}
	}

	entries, err := h.logs.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("ошибка чтения журнала webhook'ов", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read webhook logs"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

// HandleClearLogs очищает диагностический журнал
func (h *Handler) HandleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.logs.Clear(r.Context()); err != nil {
		h.logger.Error("ошибка очистки журнала webhook'ов", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to clear webhook logs"})
		return
	}

	h.logger.Info("журнал webhook'ов очищен")
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Fprintf(w, `{"error": "encoding failure"}`)
	}
}
