package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	HubSpot  HubSpotConfig
	Tracking TrackingConfig
	Email    EmailConfig
	Database DatabaseConfig
	App      AppConfig
}

// HubSpotConfig содержит настройки подключения к HubSpot
type HubSpotConfig struct {
	APIKey   string
	PortalID string
	BaseURL  string
}

// TrackingConfig содержит настройки отслеживания реферальных переходов
type TrackingConfig struct {
	CookieDurationDays int    // срок жизни cookie, дней [1..365]
	ReferralParam      string // имя query-параметра с реферальным кодом
	ContactPagePath    string // путь страницы контактов для реферальной ссылки
	SiteBaseURL        string
	SiteName           string
}

// Методы отправки уведомлений
const (
	EmailMethodNone     = "none"
	EmailMethodDirect   = "direct"
	EmailMethodWorkflow = "workflow"
)

// EmailConfig содержит настройки уведомлений
type EmailConfig struct {
	Method            string // none, direct, workflow
	WorkflowID        string
	SendMonthlyDigest bool
	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	FromAddress       string
	AdminEmail        string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// HubSpot
	cfg.HubSpot.APIKey = os.Getenv("HUBSPOT_API_KEY")
	cfg.HubSpot.PortalID = os.Getenv("HUBSPOT_PORTAL_ID")
	cfg.HubSpot.BaseURL = getEnvDefault("HUBSPOT_BASE_URL", "https://api.hubapi.com")

	// Tracking
	cfg.Tracking.CookieDurationDays = clampInt(getEnvIntDefault("COOKIE_DURATION_DAYS", 30), 1, 365)
	cfg.Tracking.ReferralParam = getEnvDefault("REFERRAL_PARAM", "referral_source")
	cfg.Tracking.ContactPagePath = getEnvDefault("CONTACT_PAGE_PATH", "/contact/")
	cfg.Tracking.SiteBaseURL = strings.TrimRight(getEnvDefault("SITE_BASE_URL", "http://localhost:8080"), "/")
	cfg.Tracking.SiteName = getEnvDefault("SITE_NAME", "Referral Hub")

	// Email
	cfg.Email.Method = getEnvDefault("EMAIL_METHOD", EmailMethodDirect)
	cfg.Email.WorkflowID = os.Getenv("HUBSPOT_WORKFLOW_ID")
	cfg.Email.SendMonthlyDigest = getEnvBoolDefault("SEND_MONTHLY_DIGEST", true)
	cfg.Email.SMTPHost = getEnvDefault("SMTP_HOST", "localhost")
	cfg.Email.SMTPPort = getEnvIntDefault("SMTP_PORT", 587)
	cfg.Email.SMTPUser = os.Getenv("SMTP_USER")
	cfg.Email.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.Email.FromAddress = getEnvDefault("EMAIL_FROM", "noreply@localhost")
	cfg.Email.AdminEmail = os.Getenv("ADMIN_EMAIL")

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.HubSpot.APIKey == "" {
		return fmt.Errorf("HUBSPOT_API_KEY не установлен")
	}
	if config.Email.Method != EmailMethodNone &&
		config.Email.Method != EmailMethodDirect &&
		config.Email.Method != EmailMethodWorkflow {
		return fmt.Errorf("поддерживаются только EMAIL_METHOD: none, direct, workflow")
	}
	if config.Email.Method == EmailMethodWorkflow && config.Email.WorkflowID == "" {
		return fmt.Errorf("HUBSPOT_WORKFLOW_ID не установлен для EMAIL_METHOD=workflow")
	}
	if config.Tracking.ReferralParam == "" {
		return fmt.Errorf("REFERRAL_PARAM не может быть пустым")
	}
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// ReferralLink формирует реферальную ссылку для указанного кода
func (c *TrackingConfig) ReferralLink(code string) string {
	return fmt.Sprintf("%s%s?%s=%s", c.SiteBaseURL, c.ContactPagePath, c.ReferralParam, code)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
