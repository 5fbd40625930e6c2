package email

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"referral-hub/internal/config"
	"referral-hub/pkg/models"
)

// WelcomeData содержит данные приветственного письма новому партнеру
type WelcomeData struct {
	FirstName    string
	LastName     string
	Email        string
	Organization string
	ReferralCode string
	ReferralLink string
}

// ConversionData содержит данные уведомления о конверсии
type ConversionData struct {
	PartnerName    string
	PartnerEmail   string
	LeadName       string
	LeadEmail      string
	ConversionDate time.Time
}

// DigestData содержит данные ежемесячного дайджеста
type DigestData struct {
	PartnerName  string
	PartnerEmail string
	Month        string
	Stats        models.PartnerStats
}

// Mailer отправляет готовое HTML письмо
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// WorkflowEnroller записывает контакт в workflow HubSpot
type WorkflowEnroller interface {
	EnrollInWorkflow(ctx context.Context, email, workflowID string) error
}

// SendObserver получает наблюдения об отправленных уведомлениях
type SendObserver interface {
	RecordEmail(kind, status string)
}

// Service отправляет уведомления реферальной программы. Способ доставки
// выбирается конфигурацией: none (отключено), direct (SMTP) или workflow
// (запись в маркетинговый workflow HubSpot). Workflow зарезервирован для
// приветственных писем: уведомления о конверсиях и дайджесты уходят только
// напрямую
type Service struct {
	cfg      *config.EmailConfig
	siteName string
	mailer   Mailer
	enroller WorkflowEnroller
	observer SendObserver
	logger   *zap.Logger
}

// NewService создает новый сервис уведомлений
func NewService(cfg *config.EmailConfig, siteName string, mailer Mailer, enroller WorkflowEnroller, observer SendObserver, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		siteName: siteName,
		mailer:   mailer,
		enroller: enroller,
		observer: observer,
		logger:   logger,
	}
}

// SendWelcome отправляет приветственное письмо новому партнеру.
// Возвращает true, если письмо отправлено (или запись в workflow принята)
func (s *Service) SendWelcome(ctx context.Context, data WelcomeData) bool {
	switch s.cfg.Method {
	case config.EmailMethodNone:
		s.logger.Info("отправка писем отключена в настройках")
		return s.record("welcome", false)

	case config.EmailMethodWorkflow:
		if err := s.enroller.EnrollInWorkflow(ctx, data.Email, s.cfg.WorkflowID); err != nil {
			s.logger.Error("ошибка записи партнера в workflow",
				zap.String("email", data.Email),
				zap.Error(err))
			return s.record("welcome", false)
		}
		s.logger.Info("партнер записан в приветственный workflow",
			zap.String("email", data.Email),
			zap.String("workflow_id", s.cfg.WorkflowID))
		return s.record("welcome", true)
	}

	subject := fmt.Sprintf("Добро пожаловать в реферальную программу %s!", s.siteName)
	body, err := renderWelcome(s.siteName, data)
	if err != nil {
		s.logger.Error("ошибка рендеринга приветственного письма", zap.Error(err))
		return s.record("welcome", false)
	}

	if err := s.mailer.Send(ctx, data.Email, subject, body); err != nil {
		s.logger.Error("ошибка отправки приветственного письма",
			zap.String("email", data.Email),
			zap.Error(err))
		return s.record("welcome", false)
	}

	s.logger.Info("приветственное письмо отправлено", zap.String("email", data.Email))
	return s.record("welcome", true)
}

// SendConversion отправляет партнеру уведомление о новой конверсии.
// Доставка только напрямую: при методах none и workflow отправка
// подавляется
func (s *Service) SendConversion(ctx context.Context, data ConversionData) bool {
	if s.cfg.Method != config.EmailMethodDirect {
		return s.record("conversion", false)
	}

	subject := "Новая конверсия по вашей реферальной ссылке!"
	body, err := renderConversion(s.siteName, data)
	if err != nil {
		s.logger.Error("ошибка рендеринга уведомления о конверсии", zap.Error(err))
		return s.record("conversion", false)
	}

	if err := s.mailer.Send(ctx, data.PartnerEmail, subject, body); err != nil {
		s.logger.Error("ошибка отправки уведомления о конверсии",
			zap.String("email", data.PartnerEmail),
			zap.Error(err))
		return s.record("conversion", false)
	}

	s.logger.Info("уведомление о конверсии отправлено",
		zap.String("email", data.PartnerEmail))
	return s.record("conversion", true)
}

// SendMonthlyDigest отправляет партнеру ежемесячную статистику.
// Доставка только напрямую и только если дайджест включен в настройках
func (s *Service) SendMonthlyDigest(ctx context.Context, data DigestData) bool {
	if !s.cfg.SendMonthlyDigest || s.cfg.Method != config.EmailMethodDirect {
		return s.record("digest", false)
	}

	subject := fmt.Sprintf("Ваша реферальная статистика %s — %s", s.siteName, data.Month)
	body, err := renderDigest(s.siteName, data)
	if err != nil {
		s.logger.Error("ошибка рендеринга дайджеста", zap.Error(err))
		return s.record("digest", false)
	}

	if err := s.mailer.Send(ctx, data.PartnerEmail, subject, body); err != nil {
		s.logger.Error("ошибка отправки дайджеста",
			zap.String("email", data.PartnerEmail),
			zap.Error(err))
		return s.record("digest", false)
	}

	s.logger.Info("ежемесячный дайджест отправлен",
		zap.String("email", data.PartnerEmail))
	return s.record("digest", true)
}

// NotifyAdminNewPartner уведомляет администратора о регистрации партнера
func (s *Service) NotifyAdminNewPartner(ctx context.Context, data WelcomeData) bool {
	if s.cfg.AdminEmail == "" {
		return false
	}

	subject := "Новый партнер в реферальной программе"
	body := fmt.Sprintf(
		"В реферальной программе зарегистрирован новый партнер:\n\n"+
			"Имя: %s %s\nОрганизация: %s\nEmail: %s\nРеферальный код: %s\n",
		data.FirstName, data.LastName, data.Organization, data.Email, data.ReferralCode)

	if err := s.mailer.Send(ctx, s.cfg.AdminEmail, subject, body); err != nil {
		s.logger.Error("ошибка уведомления администратора", zap.Error(err))
		return s.record("admin", false)
	}

	return s.record("admin", true)
}

func (s *Service) record(kind string, sent bool) bool {
	if s.observer != nil {
		status := "sent"
		if !sent {
			status = "skipped"
		}
		s.observer.RecordEmail(kind, status)
	}
	return sent
}
