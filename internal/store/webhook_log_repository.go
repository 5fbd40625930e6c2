package store

import (
	"context"
	"fmt"
	"time"

	"referral-hub/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Журнал ограничен последними записями с недельным сроком хранения
const (
	maxLogEntries = 100
	logRetention  = 7 * 24 * time.Hour
)

// WebhookLogRepository определяет интерфейс диагностического журнала
// webhook'ов
type WebhookLogRepository interface {
	Append(ctx context.Context, entry models.WebhookLogEntry) error
	Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error)
	Clear(ctx context.Context) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// PostgresWebhookLogRepository реализует WebhookLogRepository для PostgreSQL
type PostgresWebhookLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewWebhookLogRepository создает новый репозиторий журнала webhook'ов
func NewWebhookLogRepository(db *pgxpool.Pool, logger *zap.Logger) WebhookLogRepository {
	return &PostgresWebhookLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append добавляет запись в журнал и удаляет записи сверх лимита
func (r *PostgresWebhookLogRepository) Append(ctx context.Context, entry models.WebhookLogEntry) error {
	query := `
		INSERT INTO webhook_logs (delivery_id, type, data, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRow(ctx, query,
		entry.DeliveryID,
		entry.Type,
		entry.Data,
		entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("ошибка записи в журнал webhook'ов: %w", err)
	}

	trimQuery := `
		DELETE FROM webhook_logs
		WHERE id NOT IN (
			SELECT id FROM webhook_logs ORDER BY id DESC LIMIT $1
		)`

	if _, err := r.db.Exec(ctx, trimQuery, maxLogEntries); err != nil {
		// Переполненный журнал хуже, чем потерянная запись об обрезке
		r.logger.Warn("не удалось обрезать журнал webhook'ов", zap.Error(err))
	}

	return nil
}

// Recent возвращает последние записи журнала, новые первыми
func (r *PostgresWebhookLogRepository) Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error) {
	if limit <= 0 || limit > maxLogEntries {
		limit = maxLogEntries
	}

	query := `
		SELECT id, delivery_id, type, data, created_at
		FROM webhook_logs
		ORDER BY id DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала webhook'ов: %w", err)
	}
	defer rows.Close()

	entries := make([]models.WebhookLogEntry, 0, limit)
	for rows.Next() {
		var entry models.WebhookLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.DeliveryID,
			&entry.Type,
			&entry.Data,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Clear полностью очищает журнал
func (r *PostgresWebhookLogRepository) Clear(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM webhook_logs`); err != nil {
		return fmt.Errorf("ошибка очистки журнала webhook'ов: %w", err)
	}

	r.logger.Info("журнал webhook'ов очищен")
	return nil
}

// PurgeExpired удаляет записи старше срока хранения
func (r *PostgresWebhookLogRepository) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-logRetention)

	result, err := r.db.Exec(ctx, `DELETE FROM webhook_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления устаревших записей журнала: %w", err)
	}

	purged := result.RowsAffected()
	if purged > 0 {
		r.logger.Info("удалены устаревшие записи журнала webhook'ов",
			zap.Int64("count", purged),
			zap.Time("cutoff", cutoff))
	}

	return purged, nil
}
