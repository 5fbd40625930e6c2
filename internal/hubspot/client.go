package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Имена свойств контакта в HubSpot
const (
	PropEmail                = "email"
	PropFirstName            = "firstname"
	PropLastName             = "lastname"
	PropCompany              = "company"
	PropCreateDate           = "createdate"
	PropReferralCode         = "referral_code"
	PropReferralSource       = "referral_source"
	PropConversionCount      = "conversion_count"
	PropReferralClicks       = "referral_clicks"
	PropLastReferralClick    = "last_referral_click"
	PropLastConversionDate   = "last_conversion_date"
	PropShowInDirectory      = "show_in_directory"
	PropLogoURL              = "logo_url"
	PropDirectoryDescription = "directory_description"
	PropWebsiteURL           = "website_url"
	PropDisplayOrder         = "display_order"
)

// ErrNotFound возвращается, когда контакт не найден в HubSpot
var ErrNotFound = errors.New("контакт не найден")

// existingIDRe извлекает ID существующего контакта из ответа 409 Conflict
var existingIDRe = regexp.MustCompile(`Contact already exists\. Existing ID: (\d+)`)

// RequestObserver получает наблюдения о запросах к HubSpot API
type RequestObserver interface {
	ObserveAPIRequest(method string, statusCode int, seconds float64)
}

// Client представляет клиент для работы с HubSpot CRM API
type Client struct {
	apiKey     string
	portalID   string
	baseURL    string
	httpClient *http.Client
	cache      *ttlCache
	observer   RequestObserver
	logger     *zap.Logger
}

// Response представляет нормализованный ответ HubSpot API: статус плюс
// разобранное тело. Транспортные ошибки сюда не попадают, они возвращаются
// отдельной ошибкой
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Filter представляет один фильтр поиска контактов
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
}

// Sort представляет сортировку результатов поиска
type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type filterGroup struct {
	Filters []Filter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Sorts        []Sort        `json:"sorts,omitempty"`
	Limit        int           `json:"limit"`
}

// Contact представляет контакт в том виде, в котором его возвращает HubSpot
type Contact struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type searchResponse struct {
	Total   int       `json:"total"`
	Results []Contact `json:"results"`
}

// NewClient создает новый клиент HubSpot API
func NewClient(apiKey, portalID, baseURL string, observer RequestObserver, logger *zap.Logger) *Client {
	return &Client{
		apiKey:   apiKey,
		portalID: portalID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache:    newTTLCache(defaultCacheTTL),
		observer: observer,
		logger:   logger,
	}
}

// IsConfigured проверяет, задан ли API ключ
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// request выполняет аутентифицированный запрос к HubSpot API.
// Аутентификация выбирается по формату ключа: токены Private App (префикс
// "pat-") передаются в заголовке Bearer, устаревшие ключи — query-параметром
// hapikey
func (c *Client) request(ctx context.Context, method, endpoint string, body interface{}) (*Response, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("API ключ HubSpot не настроен")
	}

	reqURL := c.baseURL + endpoint

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	isPrivateApp := strings.HasPrefix(c.apiKey, "pat-")
	if !isPrivateApp {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL += sep + "hapikey=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if isPrivateApp {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Транспортная ошибка (DNS, таймаут, TLS) — не путать с валидным
		// не-2xx статусом
		return nil, fmt.Errorf("ошибка отправки запроса к HubSpot: %w", err)
	}
	defer resp.Body.Close()

	var parsed json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		parsed = nil
	}

	if c.observer != nil {
		c.observer.ObserveAPIRequest(method, resp.StatusCode, time.Since(start).Seconds())
	}

	c.logger.Debug("запрос к HubSpot API выполнен",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode))

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       parsed,
	}, nil
}

// SearchContacts выполняет поиск контактов по фильтрам
func (c *Client) SearchContacts(ctx context.Context, filters []Filter, properties []string, limit int, sorts []Sort) ([]Contact, error) {
	if limit <= 0 {
		limit = 100
	}

	resp, err := c.request(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", searchRequest{
		FilterGroups: []filterGroup{{Filters: filters}},
		Properties:   properties,
		Sorts:        sorts,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неожиданный статус ответа поиска: %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа поиска: %w", err)
	}

	return parsed.Results, nil
}

// CreateContact создает контакт в HubSpot. Ответ 409 (контакт с таким email
// уже существует) не считается ошибкой: из сообщения извлекается ID
// существующего контакта и свойства применяются через обновление, так что
// повторная регистрация с тем же email идемпотентна
func (c *Client) CreateContact(ctx context.Context, properties map[string]string) (string, error) {
	resp, err := c.request(ctx, http.MethodPost, "/crm/v3/objects/contacts", map[string]interface{}{
		"properties": properties,
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusCreated {
		var created Contact
		if err := json.Unmarshal(resp.Body, &created); err != nil {
			return "", fmt.Errorf("ошибка парсинга ответа создания контакта: %w", err)
		}
		if created.ID == "" {
			return "", fmt.Errorf("HubSpot вернул контакт без ID")
		}

		c.logger.Info("контакт создан в HubSpot", zap.String("contact_id", created.ID))
		return created.ID, nil
	}

	if resp.StatusCode == http.StatusConflict {
		var conflict struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.Body, &conflict); err == nil {
			if m := existingIDRe.FindStringSubmatch(conflict.Message); m != nil {
				contactID := m[1]

				c.logger.Info("контакт уже существует, обновляем",
					zap.String("contact_id", contactID))

				if err := c.UpdateContact(ctx, contactID, properties); err != nil {
					return "", fmt.Errorf("ошибка обновления существующего контакта: %w", err)
				}
				return contactID, nil
			}
		}
		return "", fmt.Errorf("конфликт при создании контакта, ID не извлечен")
	}

	return "", fmt.Errorf("неожиданный статус создания контакта: %d", resp.StatusCode)
}

// UpdateContact обновляет свойства контакта. После обновления синхронно
// инвалидируется агрегатный кэш, чтобы дашборды не видели устаревшие суммы
func (c *Client) UpdateContact(ctx context.Context, contactID string, properties map[string]string) error {
	if contactID == "" || len(properties) == 0 {
		return fmt.Errorf("не указан ID контакта или свойства")
	}

	resp, err := c.request(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+contactID, map[string]interface{}{
		"properties": properties,
	})
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("неожиданный статус обновления контакта: %d", resp.StatusCode)
	}

	c.cache.Delete(allReferralsCacheKey)

	return nil
}

// GetContact получает контакт по ID
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	if contactID == "" {
		return nil, fmt.Errorf("не указан ID контакта")
	}

	endpoint := fmt.Sprintf("/crm/v3/objects/contacts/%s?properties=%s", contactID,
		strings.Join([]string{
			PropEmail, PropFirstName, PropLastName, PropReferralSource,
		}, ","))

	resp, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неожиданный статус получения контакта: %d", resp.StatusCode)
	}

	var contact Contact
	if err := json.Unmarshal(resp.Body, &contact); err != nil {
		return nil, fmt.Errorf("ошибка парсинга контакта: %w", err)
	}

	return &contact, nil
}

// EnrollInWorkflow записывает контакт по email в workflow HubSpot.
// Успех означает «запись принята», а не «письмо доставлено»
func (c *Client) EnrollInWorkflow(ctx context.Context, email, workflowID string) error {
	if email == "" || workflowID == "" {
		return fmt.Errorf("не указан email или ID workflow")
	}

	endpoint := fmt.Sprintf("/automation/v4/flows/%s/enrollments/contacts", workflowID)
	resp, err := c.request(ctx, http.MethodPost, endpoint, map[string]interface{}{
		"emails": []string{email},
	})
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("неожиданный статус записи в workflow: %d", resp.StatusCode)
	}

	c.logger.Info("контакт записан в workflow",
		zap.String("email", email),
		zap.String("workflow_id", workflowID))

	return nil
}

// TestConnection проверяет подключение к HubSpot API
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	resp, err := c.request(ctx, http.MethodGet, "/crm/v3/objects/contacts?limit=1", nil)
	if err != nil {
		return false, err.Error()
	}

	if resp.StatusCode == http.StatusOK {
		return true, "подключение к HubSpot успешно установлено"
	}

	return false, fmt.Sprintf("API вернул статус %d", resp.StatusCode)
}
