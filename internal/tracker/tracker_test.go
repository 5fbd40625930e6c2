package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"referral-hub/internal/config"
	"referral-hub/internal/hubspot"
)

// fakeClicks эмулирует учет переходов
type fakeClicks struct {
	tracked []string
	err     error
}

func (c *fakeClicks) TrackClick(ctx context.Context, code string) error {
	if c.err != nil {
		return c.err
	}
	c.tracked = append(c.tracked, code)
	return nil
}

func newTestTracker(clicks *fakeClicks) *Handler {
	cfg := &config.TrackingConfig{
		CookieDurationDays: 30,
		ReferralParam:      "referral_source",
	}
	return NewHandler(clicks, cfg, nil, zap.NewNop())
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == CookieName {
			return cookie
		}
	}
	t.Fatal("реферальная cookie не установлена")
	return nil
}

func TestHandleTrack(t *testing.T) {
	clicks := &fakeClicks{}
	handler := newTestTracker(clicks)

	req := httptest.NewRequest(http.MethodGet, "/track?referral_source=ABC123", nil)
	rec := httptest.NewRecorder()

	handler.HandleTrack(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ABC123"}, clicks.tracked)

	cookie := findCookie(t, rec)
	assert.Equal(t, "ABC123", cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 30*86400, cookie.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.False(t, cookie.Secure, "без TLS cookie не должна быть Secure")
}

func TestHandleTrackUnknownCodeStillSetsCookie(t *testing.T) {
	clicks := &fakeClicks{err: hubspot.ErrNotFound}
	handler := newTestTracker(clicks)

	req := httptest.NewRequest(http.MethodGet, "/track?referral_source=GHOST99", nil)
	rec := httptest.NewRecorder()

	handler.HandleTrack(rec, req)

	// Учет переходов никогда не блокирует загрузку страницы
	assert.Equal(t, http.StatusOK, rec.Code)
	cookie := findCookie(t, rec)
	assert.Equal(t, "GHOST99", cookie.Value)
}

func TestHandleTrackTransportErrorStillOK(t *testing.T) {
	clicks := &fakeClicks{err: fmt.Errorf("hubspot недоступен")}
	handler := newTestTracker(clicks)

	req := httptest.NewRequest(http.MethodGet, "/track?referral_source=ABC123", nil)
	rec := httptest.NewRecorder()

	handler.HandleTrack(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTrackMissingCode(t *testing.T) {
	clicks := &fakeClicks{}
	handler := newTestTracker(clicks)

	req := httptest.NewRequest(http.MethodGet, "/track", nil)
	rec := httptest.NewRecorder()

	handler.HandleTrack(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, clicks.tracked)
	assert.Empty(t, rec.Result().Cookies())
}

func TestHandleTrackSecureMirrorsTLS(t *testing.T) {
	handler := newTestTracker(&fakeClicks{})

	req := httptest.NewRequest(http.MethodGet, "https://example.com/track?referral_source=ABC123", nil)
	require.NotNil(t, req.TLS)
	rec := httptest.NewRecorder()

	handler.HandleTrack(rec, req)

	cookie := findCookie(t, rec)
	assert.True(t, cookie.Secure)
}

func TestHandleTrackCustomParam(t *testing.T) {
	clicks := &fakeClicks{}
	cfg := &config.TrackingConfig{CookieDurationDays: 7, ReferralParam: "ref"}
	handler := NewHandler(clicks, cfg, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/track?ref=XYZ789", nil)
	rec := httptest.NewRecorder()

	handler.HandleTrack(rec, req)

	assert.Equal(t, []string{"XYZ789"}, clicks.tracked)
	assert.Equal(t, 7*86400, findCookie(t, rec).MaxAge)
}
