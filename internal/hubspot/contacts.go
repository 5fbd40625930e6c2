package hubspot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"referral-hub/pkg/models"
)

// Ключ агрегатного кэша реестра рефералов
const allReferralsCacheKey = "hsr_referral_data"

// hsTimeLayout — формат меток времени, записываемых в свойства HubSpot
const hsTimeLayout = "2006-01-02T15:04:05Z"

// referrerProperties — свойства, запрашиваемые при поиске партнера
var referrerProperties = []string{
	PropFirstName, PropLastName, PropEmail, PropCompany,
	PropReferralCode, PropReferralClicks, PropConversionCount,
	PropLastReferralClick, PropLastConversionDate, PropCreateDate,
	PropShowInDirectory, PropLogoURL, PropDirectoryDescription,
	PropWebsiteURL, PropDisplayOrder,
}

// CodeExists проверяет, занят ли реферальный код
func (c *Client) CodeExists(ctx context.Context, code string) (bool, error) {
	results, err := c.SearchContacts(ctx, []Filter{
		{PropertyName: PropReferralCode, Operator: "EQ", Value: code},
	}, nil, 1, nil)
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}

// FindContactByCode ищет партнера по реферальному коду.
// Результат кэшируется на 5 минут
func (c *Client) FindContactByCode(ctx context.Context, code string) (*Contact, error) {
	if code == "" {
		return nil, ErrNotFound
	}

	key := cacheKey("hsr_referrer", code)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*Contact), nil
	}

	results, err := c.SearchContacts(ctx, []Filter{
		{PropertyName: PropReferralCode, Operator: "EQ", Value: code},
	}, referrerProperties, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	contact := &results[0]
	c.cache.Set(key, contact)

	return contact, nil
}

// FindContactByEmail ищет партнера по email.
// Результат кэшируется на 5 минут
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	if email == "" {
		return nil, ErrNotFound
	}

	key := cacheKey("hsr_contact", email)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*Contact), nil
	}

	results, err := c.SearchContacts(ctx, []Filter{
		{PropertyName: PropEmail, Operator: "EQ", Value: email},
	}, referrerProperties, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	contact := &results[0]
	c.cache.Set(key, contact)

	return contact, nil
}

// GetRecentConversions возвращает последних привлеченных лидов для кода
func (c *Client) GetRecentConversions(ctx context.Context, code string, limit int) ([]models.ConvertedLead, error) {
	if limit <= 0 {
		limit = 10
	}

	results, err := c.SearchContacts(ctx, []Filter{
		{PropertyName: PropReferralSource, Operator: "EQ", Value: code},
	}, []string{PropFirstName, PropLastName, PropEmail, PropCreateDate},
		limit,
		[]Sort{{PropertyName: PropCreateDate, Direction: "DESCENDING"}})
	if err != nil {
		return nil, err
	}

	leads := make([]models.ConvertedLead, 0, len(results))
	for _, contact := range results {
		leads = append(leads, leadFromContact(contact, code))
	}

	return leads, nil
}

// GetAllReferrals восстанавливает реестр рефералов: два поиска (контакты с
// referral_code и контакты с referral_source), соединенные на стороне
// клиента по значению кода. Результат кэшируется на 5 минут и
// инвалидируется любым обновлением контакта
func (c *Client) GetAllReferrals(ctx context.Context) (map[string]*models.ReferralSummary, error) {
	if cached, ok := c.cache.Get(allReferralsCacheKey); ok {
		return cached.(map[string]*models.ReferralSummary), nil
	}

	referrers, err := c.SearchContacts(ctx, []Filter{
		{PropertyName: PropReferralCode, Operator: "HAS_PROPERTY"},
	}, referrerProperties, 100, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска партнеров: %w", err)
	}

	registry := make(map[string]*models.ReferralSummary)
	for _, contact := range referrers {
		code := contact.Properties[PropReferralCode]
		if code == "" {
			continue
		}

		referrer := ReferrerFromContact(contact)
		registry[code] = &models.ReferralSummary{
			Referrer:    referrer,
			Conversions: []models.ConvertedLead{},
		}
	}

	leads, err := c.SearchContacts(ctx, []Filter{
		{PropertyName: PropReferralSource, Operator: "HAS_PROPERTY"},
	}, []string{PropFirstName, PropLastName, PropEmail, PropReferralSource, PropCreateDate}, 100, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска привлеченных лидов: %w", err)
	}

	for _, contact := range leads {
		source := contact.Properties[PropReferralSource]
		summary, ok := registry[source]
		if source == "" || !ok {
			continue
		}
		summary.Conversions = append(summary.Conversions, leadFromContact(contact, source))
	}

	c.cache.Set(allReferralsCacheKey, registry)

	return registry, nil
}

// TrackClick увеличивает счетчик переходов партнера и обновляет метку
// времени последнего перехода. Счетчик не атомарен: новое значение
// вычисляется из прочитанного, одновременные переходы могут потеряться
func (c *Client) TrackClick(ctx context.Context, code string) error {
	contact, err := c.FindContactByCode(ctx, code)
	if err != nil {
		return err
	}

	currentClicks, _ := strconv.Atoi(contact.Properties[PropReferralClicks])

	err = c.UpdateContact(ctx, contact.ID, map[string]string{
		PropReferralClicks:    strconv.Itoa(currentClicks + 1),
		PropLastReferralClick: time.Now().UTC().Format(hsTimeLayout),
	})
	if err != nil {
		return fmt.Errorf("ошибка обновления счетчика переходов: %w", err)
	}

	c.logger.Info("переход по реферальной ссылке учтен",
		zap.String("referral_code", code),
		zap.Int("clicks", currentClicks+1))

	return nil
}

// ReferrerFromContact преобразует контакт HubSpot в модель партнера
func ReferrerFromContact(contact Contact) models.Referrer {
	props := contact.Properties

	referrer := models.Referrer{
		ContactID:            contact.ID,
		FirstName:            props[PropFirstName],
		LastName:             props[PropLastName],
		Email:                props[PropEmail],
		Organization:         props[PropCompany],
		ReferralCode:         props[PropReferralCode],
		LogoURL:              props[PropLogoURL],
		DirectoryDescription: props[PropDirectoryDescription],
		WebsiteURL:           props[PropWebsiteURL],
	}

	referrer.ConversionCount, _ = strconv.Atoi(props[PropConversionCount])
	referrer.ReferralClicks, _ = strconv.Atoi(props[PropReferralClicks])
	referrer.DisplayOrder, _ = strconv.Atoi(props[PropDisplayOrder])
	referrer.ShowInDirectory = props[PropShowInDirectory] == "true" || props[PropShowInDirectory] == "1"

	if t, ok := parseHSTime(props[PropLastReferralClick]); ok {
		referrer.LastReferralClick = &t
	}
	if t, ok := parseHSTime(props[PropLastConversionDate]); ok {
		referrer.LastConversionDate = &t
	}
	if t, ok := parseHSTime(props[PropCreateDate]); ok {
		referrer.CreatedAt = &t
	}

	return referrer
}

// leadFromContact преобразует контакт HubSpot в модель привлеченного лида
func leadFromContact(contact Contact, source string) models.ConvertedLead {
	props := contact.Properties

	lead := models.ConvertedLead{
		FirstName:      props[PropFirstName],
		LastName:       props[PropLastName],
		Email:          props[PropEmail],
		ReferralSource: source,
	}

	if t, ok := parseHSTime(props[PropCreateDate]); ok {
		lead.CreatedAt = &t
	}

	return lead
}

// parseHSTime разбирает метку времени из свойства HubSpot
func parseHSTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	// HubSpot иногда присылает миллисекунды эпохи
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// SortedDirectory возвращает партнеров каталога, отсортированных по
// display_order
func SortedDirectory(registry map[string]*models.ReferralSummary) []models.Referrer {
	partners := make([]models.Referrer, 0)
	for _, summary := range registry {
		if summary.Referrer.ShowInDirectory {
			partners = append(partners, summary.Referrer)
		}
	}

	sort.Slice(partners, func(i, j int) bool {
		if partners[i].DisplayOrder != partners[j].DisplayOrder {
			return partners[i].DisplayOrder < partners[j].DisplayOrder
		}
		return partners[i].FullName() < partners[j].FullName()
	})

	return partners
}
