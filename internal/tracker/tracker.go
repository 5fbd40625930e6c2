package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"referral-hub/internal/config"
)

// CookieName — имя cookie с реферальным кодом посетителя
const CookieName = "hsr_referral_code"

// ClickStore описывает учет перехода по реферальной ссылке
type ClickStore interface {
	TrackClick(ctx context.Context, code string) error
}

// Observer получает наблюдения о переходах
type Observer interface {
	RecordClick()
}

// Handler обрабатывает переходы по реферальным ссылкам: сохраняет код в
// cookie посетителя и увеличивает счетчик переходов партнера
type Handler struct {
	clicks   ClickStore
	cfg      *config.TrackingConfig
	observer Observer
	logger   *zap.Logger
}

// NewHandler создает новый обработчик переходов
func NewHandler(clicks ClickStore, cfg *config.TrackingConfig, observer Observer, logger *zap.Logger) *Handler {
	return &Handler{
		clicks:   clicks,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
	}
}

// HandleTrack учитывает переход. Cookie ставится всегда, даже если код
// неизвестен: учет переходов не должен мешать загрузке страницы
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get(h.cfg.ReferralParam))
	if code == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "missing referral code"})
		return
	}

	http.SetCookie(w, h.buildCookie(code, r.TLS != nil))

	// Неизвестный код или недоступность HubSpot не проваливают запрос
	if err := h.clicks.TrackClick(r.Context(), code); err != nil {
		h.logger.Warn("не удалось учесть переход",
			zap.String("referral_code", code),
			zap.Error(err))
	} else if h.observer != nil {
		h.observer.RecordClick()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"referral_code": code,
	})
}

// buildCookie собирает реферальную cookie. Secure зеркалит транспорт
// запроса, срок жизни берется из конфигурации
func (h *Handler) buildCookie(code string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    code,
		Path:     "/",
		MaxAge:   h.cfg.CookieDurationDays * 86400,
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}
