package referral

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"referral-hub/internal/config"
	"referral-hub/internal/email"
	"referral-hub/internal/hubspot"
	"referral-hub/pkg/models"
)

// codeFormatRe задает допустимый формат реферального кода
var codeFormatRe = regexp.MustCompile(`^[A-Za-z0-9]{6,20}$`)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidationError представляет ошибку валидации, сообщение которой можно
// показать пользователю
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ContactStore описывает операции с удаленным хранилищем контактов,
// нужные реферальному сервису
type ContactStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	CreateContact(ctx context.Context, properties map[string]string) (string, error)
	FindContactByEmail(ctx context.Context, email string) (*hubspot.Contact, error)
	GetRecentConversions(ctx context.Context, code string, limit int) ([]models.ConvertedLead, error)
	GetAllReferrals(ctx context.Context) (map[string]*models.ReferralSummary, error)
}

// Notifier описывает отправку уведомлений, нужных реферальному сервису
type Notifier interface {
	SendWelcome(ctx context.Context, data email.WelcomeData) bool
	NotifyAdminNewPartner(ctx context.Context, data email.WelcomeData) bool
}

// PartnerOverview представляет данные дашборда партнера
type PartnerOverview struct {
	Referrer          models.Referrer        `json:"referrer"`
	ReferralLink      string                 `json:"referral_link"`
	Stats             models.PartnerStats    `json:"stats"`
	RecentConversions []models.ConvertedLead `json:"recent_conversions"`
}

// Service представляет сервис управления реферальной программой
type Service struct {
	contacts ContactStore
	notifier Notifier
	tracking *config.TrackingConfig
	logger   *zap.Logger
}

// NewService создает новый реферальный сервис
func NewService(contacts ContactStore, notifier Notifier, tracking *config.TrackingConfig, logger *zap.Logger) *Service {
	return &Service{
		contacts: contacts,
		notifier: notifier,
		tracking: tracking,
		logger:   logger,
	}
}

// GenerateUniqueCode генерирует уникальный реферальный код из имени и
// фамилии: базовый кандидат из первых букв, при занятости — со случайным
// суффиксом, в крайнем случае — полностью случайный токен
func (s *Service) GenerateUniqueCode(ctx context.Context, firstName, lastName string) (string, error) {
	base := normalizeNamePart(firstName, 4) + normalizeNamePart(lastName, 4)

	if len(base) >= 6 {
		taken, err := s.contacts.CodeExists(ctx, base)
		if err != nil {
			return "", fmt.Errorf("ошибка проверки уникальности кода: %w", err)
		}
		if !taken {
			return base, nil
		}
	}

	for attempt := 0; attempt < 100; attempt++ {
		code := base + randomToken(4)
		if len(code) > 20 {
			code = code[:20]
		}
		if len(code) < 6 {
			continue
		}

		taken, err := s.contacts.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("ошибка проверки уникальности кода: %w", err)
		}
		if !taken {
			return code, nil
		}

		s.logger.Warn("сгенерированный код уже существует, пробуем снова",
			zap.String("code", code),
			zap.Int("attempt", attempt+1))
	}

	// Уникальность фолбэка повторно не проверяется, риск коллизии принят
	return randomToken(12), nil
}

// Enroll регистрирует нового партнера: валидирует данные, подбирает код,
// создает контакт в HubSpot и отправляет приветственные уведомления
func (s *Service) Enroll(ctx context.Context, req models.EnrollRequest) (*models.EnrollResult, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	req.Organization = strings.TrimSpace(req.Organization)
	req.CustomCode = strings.TrimSpace(req.CustomCode)

	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Organization == "" {
		return nil, &ValidationError{Message: "заполните все обязательные поля"}
	}
	if !emailRe.MatchString(req.Email) {
		return nil, &ValidationError{Message: "укажите корректный email"}
	}

	var code string
	if req.CustomCode != "" {
		if !codeFormatRe.MatchString(req.CustomCode) {
			return nil, &ValidationError{Message: "реферальный код должен содержать 6-20 латинских букв и цифр"}
		}

		taken, err := s.contacts.CodeExists(ctx, req.CustomCode)
		if err != nil {
			return nil, fmt.Errorf("ошибка проверки кода: %w", err)
		}
		if taken {
			return nil, &ValidationError{Message: "этот реферальный код уже занят"}
		}

		code = req.CustomCode
	} else {
		generated, err := s.GenerateUniqueCode(ctx, req.FirstName, req.LastName)
		if err != nil {
			return nil, err
		}
		code = generated
	}

	properties := map[string]string{
		hubspot.PropEmail:        req.Email,
		hubspot.PropFirstName:    req.FirstName,
		hubspot.PropLastName:     req.LastName,
		hubspot.PropReferralCode: code,
	}
	if req.Organization != "" {
		properties[hubspot.PropCompany] = req.Organization
	}

	contactID, err := s.contacts.CreateContact(ctx, properties)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания контакта партнера: %w", err)
	}

	link := s.tracking.ReferralLink(code)

	s.logger.Info("партнер зарегистрирован",
		zap.String("contact_id", contactID),
		zap.String("referral_code", code),
		zap.String("email", req.Email))

	// Ошибки отправки уведомлений не откатывают регистрацию
	if s.notifier != nil {
		welcome := email.WelcomeData{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Email:        req.Email,
			Organization: req.Organization,
			ReferralCode: code,
			ReferralLink: link,
		}
		s.notifier.SendWelcome(ctx, welcome)
		s.notifier.NotifyAdminNewPartner(ctx, welcome)
	}

	return &models.EnrollResult{
		ReferralCode: code,
		ReferralLink: link,
		ContactID:    contactID,
	}, nil
}

// PartnerStats возвращает данные дашборда партнера по его email
func (s *Service) PartnerStats(ctx context.Context, partnerEmail string) (*PartnerOverview, error) {
	contact, err := s.contacts.FindContactByEmail(ctx, partnerEmail)
	if err != nil {
		if errors.Is(err, hubspot.ErrNotFound) {
			return nil, &ValidationError{Message: "партнер с таким email не найден"}
		}
		return nil, fmt.Errorf("ошибка поиска партнера: %w", err)
	}

	referrer := hubspot.ReferrerFromContact(*contact)
	if referrer.ReferralCode == "" {
		return nil, &ValidationError{Message: "этот контакт не участвует в реферальной программе"}
	}

	conversions, err := s.contacts.GetRecentConversions(ctx, referrer.ReferralCode, 10)
	if err != nil {
		s.logger.Error("ошибка получения последних конверсий",
			zap.String("referral_code", referrer.ReferralCode),
			zap.Error(err))
		conversions = []models.ConvertedLead{}
	}

	return &PartnerOverview{
		Referrer:          referrer,
		ReferralLink:      s.tracking.ReferralLink(referrer.ReferralCode),
		Stats:             ComputeStats(referrer.ReferralClicks, referrer.ConversionCount),
		RecentConversions: conversions,
	}, nil
}

// DirectoryPartners возвращает партнеров для публичного каталога
func (s *Service) DirectoryPartners(ctx context.Context) ([]models.Referrer, error) {
	registry, err := s.contacts.GetAllReferrals(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реестра рефералов: %w", err)
	}

	return hubspot.SortedDirectory(registry), nil
}

// AllReferrals возвращает полный реестр рефералов
func (s *Service) AllReferrals(ctx context.Context) (map[string]*models.ReferralSummary, error) {
	return s.contacts.GetAllReferrals(ctx)
}

// ComputeStats вычисляет статистику партнера из счетчиков
func ComputeStats(clicks, conversions int) models.PartnerStats {
	stats := models.PartnerStats{
		Clicks:         clicks,
		Conversions:    conversions,
		ConversionRate: "0%",
	}

	if clicks > 0 {
		rate := float64(conversions) / float64(clicks) * 100
		stats.ConversionRate = fmt.Sprintf("%.1f%%", rate)
	}

	return stats
}

// normalizeNamePart приводит часть имени к нижнему регистру, отбрасывает
// не-алфавитно-цифровые символы и обрезает до maxLen
func normalizeNamePart(name string, maxLen int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= maxLen {
				break
			}
		}
	}
	return b.String()
}
