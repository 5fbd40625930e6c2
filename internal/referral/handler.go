package referral

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"referral-hub/pkg/models"
)

// ConnectionTester описывает проверку подключения к HubSpot
type ConnectionTester interface {
	TestConnection(ctx context.Context) (bool, string)
}

// Handler обрабатывает HTTP запросы реферального API
type Handler struct {
	service *Service
	tester  ConnectionTester
	logger  *zap.Logger
}

// NewHandler создает новый HTTP обработчик реферального API
func NewHandler(service *Service, tester ConnectionTester, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		tester:  tester,
		logger:  logger,
	}
}

// HandleEnroll регистрирует нового партнера и возвращает его реферальную
// ссылку
func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	var req models.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.service.Enroll(r.Context(), req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Message})
			return
		}

		h.logger.Error("ошибка регистрации партнера", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enrollment failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"referral_code": result.ReferralCode,
		"referral_link": result.ReferralLink,
		"contact_id":    result.ContactID,
	})
}

// HandlePartner возвращает данные дашборда партнера по email
func (h *Handler) HandlePartner(w http.ResponseWriter, r *http.Request) {
	partnerEmail := r.URL.Query().Get("email")
	if partnerEmail == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email parameter is required"})
		return
	}

	overview, err := h.service.PartnerStats(r.Context(), partnerEmail)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": vErr.Message})
			return
		}

		h.logger.Error("ошибка получения статистики партнера", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load partner stats"})
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

// HandleDirectory возвращает публичный каталог партнеров
func (h *Handler) HandleDirectory(w http.ResponseWriter, r *http.Request) {
	partners, err := h.service.DirectoryPartners(r.Context())
	if err != nil {
		h.logger.Error("ошибка получения каталога партнеров", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load directory"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"partners": partners,
		"count":    len(partners),
	})
}

// HandleTestConnection проверяет доступность HubSpot API
func (h *Handler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	success, message := h.tester.TestConnection(r.Context())

	status := http.StatusOK
	if !success {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"success": success,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
