package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"referral-hub/internal/email"
	"referral-hub/internal/referral"
	"referral-hub/pkg/models"
)

// defaultSendPause — пауза между письмами, чтобы не перегружать SMTP сервер
const defaultSendPause = 500 * time.Millisecond

// Русские названия месяцев для темы дайджеста
var monthNames = [...]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

// ReferralRegistry описывает доступ к реестру рефералов
type ReferralRegistry interface {
	AllReferrals(ctx context.Context) (map[string]*models.ReferralSummary, error)
}

// DigestNotifier описывает отправку ежемесячного дайджеста
type DigestNotifier interface {
	SendMonthlyDigest(ctx context.Context, data email.DigestData) bool
}

// MonthlyStatsJob рассылает партнерам статистику первого числа каждого
// месяца. Планировщик тикает чаще, задача сама следит за календарем и не
// отправляет дайджест дважды за один месяц
type MonthlyStatsJob struct {
	registry ReferralRegistry
	notifier DigestNotifier
	enabled  bool
	pause    time.Duration
	logger   *zap.Logger

	now      func() time.Time
	lastSent string // месяц последней рассылки, "2006-01"
}

// NewMonthlyStatsJob создает задачу ежемесячной рассылки
func NewMonthlyStatsJob(registry ReferralRegistry, notifier DigestNotifier, enabled bool, logger *zap.Logger) *MonthlyStatsJob {
	return &MonthlyStatsJob{
		registry: registry,
		notifier: notifier,
		enabled:  enabled,
		pause:    defaultSendPause,
		logger:   logger,
		now:      time.Now,
	}
}

// Run отправляет дайджест всем партнерам, если наступило первое число
func (j *MonthlyStatsJob) Run(ctx context.Context) error {
	if !j.enabled {
		return nil
	}

	today := j.now()
	if today.Day() != 1 {
		return nil
	}

	monthKey := today.Format("2006-01")
	if j.lastSent == monthKey {
		return nil
	}

	registry, err := j.registry.AllReferrals(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения реестра рефералов для дайджеста: %w", err)
	}

	if len(registry) == 0 {
		j.logger.Info("партнеры для ежемесячного дайджеста не найдены")
		j.lastSent = monthKey
		return nil
	}

	// Дайджест описывает только что закончившийся месяц
	prev := today.AddDate(0, 0, -1)
	monthLabel := fmt.Sprintf("%s %d", monthNames[prev.Month()-1], prev.Year())

	sentCount := 0
	for code, summary := range registry {
		partner := summary.Referrer
		if partner.Email == "" {
			continue
		}

		sent := j.notifier.SendMonthlyDigest(ctx, email.DigestData{
			PartnerName:  partner.FullName(),
			PartnerEmail: partner.Email,
			Month:        monthLabel,
			Stats:        referral.ComputeStats(partner.ReferralClicks, partner.ConversionCount),
		})
		if sent {
			sentCount++
		} else {
			j.logger.Warn("дайджест партнеру не отправлен",
				zap.String("referral_code", code),
				zap.String("email", partner.Email))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.pause):
		}
	}

	j.lastSent = monthKey
	j.logger.Info("ежемесячный дайджест разослан",
		zap.String("month", monthLabel),
		zap.Int("sent_count", sentCount),
		zap.Int("partners_total", len(registry)))

	return nil
}

// LogPurge описывает удаление устаревших записей журнала
type LogPurge interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// LogCleanupJob удаляет записи журнала webhook'ов старше срока хранения
type LogCleanupJob struct {
	logs   LogPurge
	logger *zap.Logger
}

// NewLogCleanupJob создает задачу очистки журнала
func NewLogCleanupJob(logs LogPurge, logger *zap.Logger) *LogCleanupJob {
	return &LogCleanupJob{
		logs:   logs,
		logger: logger,
	}
}

// Run удаляет устаревшие записи журнала
func (j *LogCleanupJob) Run(ctx context.Context) error {
	purged, err := j.logs.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("ошибка очистки журнала webhook'ов: %w", err)
	}

	if purged > 0 {
		j.logger.Info("задача очистки журнала выполнена", zap.Int64("purged", purged))
	}

	return nil
}
