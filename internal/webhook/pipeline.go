package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"referral-hub/internal/email"
	"referral-hub/internal/hubspot"
	"referral-hub/pkg/models"
)

// Формат метки времени, записываемой в свойства HubSpot
const conversionTimeLayout = "2006-01-02T15:04:05Z"

// ErrInvalidPayload возвращается для пустого или неразборного payload
var ErrInvalidPayload = errors.New("пустой или неразборный payload")

// ErrNoReferral возвращается, когда в payload не удалось найти referral_source
var ErrNoReferral = errors.New("в payload не найден referral_source")

// ContactDirectory описывает операции с удаленным хранилищем контактов,
// нужные конвейеру обработки webhook'ов
type ContactDirectory interface {
	FindContactByCode(ctx context.Context, code string) (*hubspot.Contact, error)
	GetContact(ctx context.Context, contactID string) (*hubspot.Contact, error)
	UpdateContact(ctx context.Context, contactID string, properties map[string]string) error
}

// ConversionNotifier описывает отправку уведомления партнеру о конверсии
type ConversionNotifier interface {
	SendConversion(ctx context.Context, data email.ConversionData) bool
}

// LogStore описывает запись в диагностический журнал webhook'ов
type LogStore interface {
	Append(ctx context.Context, entry models.WebhookLogEntry) error
}

// Observer получает наблюдения о работе конвейера
type Observer interface {
	RecordWebhookEvent(eventType, status string)
	RecordConversion()
}

// Pipeline обрабатывает входящие webhook'и HubSpot: классифицирует событие,
// извлекает реферальный код, находит партнера и засчитывает ему конверсию.
// Каждый шаг фиксируется в диагностическом журнале под общим delivery_id
type Pipeline struct {
	contacts ContactDirectory
	notifier ConversionNotifier
	logs     LogStore
	observer Observer
	logger   *zap.Logger
}

// NewPipeline создает новый конвейер обработки webhook'ов
func NewPipeline(contacts ContactDirectory, notifier ConversionNotifier, logs LogStore, observer Observer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		contacts: contacts,
		notifier: notifier,
		logs:     logs,
		observer: observer,
		logger:   logger,
	}
}

// Process обрабатывает один доставленный webhook. Возвращает список
// извлеченных атрибуций. Неудачи отдельных событий внутри пачки не
// прерывают обработку остальных: HubSpot не должен перепосылать всю
// доставку из-за частичного сбоя
func (p *Pipeline) Process(ctx context.Context, body []byte) ([]models.Attribution, error) {
	deliveryID := uuid.NewString()

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil || isEmptyPayload(payload) {
		p.appendLog(ctx, deliveryID, models.WebhookLogError, "Empty payload")
		p.recordEvent("unknown", "rejected")
		return nil, ErrInvalidPayload
	}

	p.appendLog(ctx, deliveryID, models.WebhookLogReceived, json.RawMessage(body))

	eventType := classify(payload)

	p.logger.Info("получен webhook от HubSpot",
		zap.String("delivery_id", deliveryID),
		zap.String("event_type", eventType),
		zap.Int("body_length", len(body)))

	p.appendLog(ctx, deliveryID, models.WebhookLogProcessing, map[string]any{
		"event_type": eventType,
	})

	var processed []models.Attribution
	var err error

	switch eventType {
	case "contact.propertyChange":
		processed = p.handlePropertyChange(ctx, deliveryID, payload)
	case "contact.creation":
		processed = p.handleContactCreation(ctx, deliveryID, payload)
	case "form.submission":
		processed = p.handleFormSubmission(ctx, deliveryID, payload)
	default:
		processed, err = p.autoProcess(ctx, deliveryID, payload)
	}

	if err != nil {
		p.appendLog(ctx, deliveryID, models.WebhookLogError, err.Error())
		p.recordEvent(eventType, "rejected")
		return nil, err
	}

	p.appendLog(ctx, deliveryID, models.WebhookLogSuccess, processed)
	p.recordEvent(eventType, "processed")

	p.logger.Info("webhook обработан",
		zap.String("delivery_id", deliveryID),
		zap.String("event_type", eventType),
		zap.Int("attributions", len(processed)))

	return processed, nil
}

// handlePropertyChange обрабатывает изменения свойств контактов: каждая
// смена referral_source в пачке атрибутируется независимо
func (p *Pipeline) handlePropertyChange(ctx context.Context, deliveryID string, payload any) []models.Attribution {
	processed := []models.Attribution{}

	for _, event := range eventsOf(payload) {
		if stringValue(event["propertyName"]) != hubspot.PropReferralSource {
			continue
		}
		code := stringValue(event["propertyValue"])
		if code == "" {
			continue
		}

		contactID := stringValue(event["objectId"])
		p.trackConversion(ctx, deliveryID, code, contactID, "")
		processed = append(processed, models.Attribution{
			ReferralCode: code,
			ContactID:    contactID,
		})
	}

	return processed
}

// handleContactCreation обрабатывает создание контактов: по objectId
// запрашивается полный контакт и проверяется наличие referral_source
func (p *Pipeline) handleContactCreation(ctx context.Context, deliveryID string, payload any) []models.Attribution {
	processed := []models.Attribution{}

	for _, event := range eventsOf(payload) {
		contactID := stringValue(event["objectId"])
		if contactID == "" {
			continue
		}

		contact, err := p.contacts.GetContact(ctx, contactID)
		if err != nil {
			p.logger.Warn("не удалось получить созданный контакт",
				zap.String("delivery_id", deliveryID),
				zap.String("contact_id", contactID),
				zap.Error(err))
			continue
		}

		code := contact.Properties[hubspot.PropReferralSource]
		if code == "" {
			continue
		}

		p.trackConversion(ctx, deliveryID, code, contactID, "")
		processed = append(processed, models.Attribution{
			ReferralCode: code,
			ContactID:    contactID,
		})
	}

	return processed
}

// handleFormSubmission обрабатывает отправки форм: referral_source ищется
// в formData, контакт в HubSpot на этот момент еще не известен
func (p *Pipeline) handleFormSubmission(ctx context.Context, deliveryID string, payload any) []models.Attribution {
	processed := []models.Attribution{}

	for _, event := range eventsOf(payload) {
		formData := event
		if nested, ok := event["formData"].(map[string]any); ok {
			formData = nested
		}

		code := stringValue(formData[hubspot.PropReferralSource])
		if code == "" {
			continue
		}

		leadEmail := stringValue(formData["email"])
		p.trackConversion(ctx, deliveryID, code, "", leadEmail)
		processed = append(processed, models.Attribution{
			ReferralCode: code,
			Email:        leadEmail,
		})
	}

	return processed
}

// autoProcess — эвристика для нераспознанных типов событий: рекурсивный
// поиск referral_source (и попутно objectId) по всему payload
func (p *Pipeline) autoProcess(ctx context.Context, deliveryID string, payload any) ([]models.Attribution, error) {
	var code, contactID string

	walkPayload(payload, func(key string, value any) {
		if v := stringValue(value); v != "" {
			switch key {
			case hubspot.PropReferralSource:
				code = v
			case "objectId":
				contactID = v
			}
		}
	})

	if code == "" {
		return nil, ErrNoReferral
	}

	p.trackConversion(ctx, deliveryID, code, contactID, "")

	return []models.Attribution{{
		ReferralCode: code,
		ContactID:    contactID,
		Method:       "auto_detected",
	}}, nil
}

// trackConversion засчитывает конверсию партнеру с указанным кодом.
// Счетчик не атомарен: новое значение вычисляется из прочитанного,
// одновременные конверсии одного партнера могут потеряться
func (p *Pipeline) trackConversion(ctx context.Context, deliveryID, code, leadContactID, leadEmail string) bool {
	referrer, err := p.contacts.FindContactByCode(ctx, code)
	if err != nil {
		if errors.Is(err, hubspot.ErrNotFound) {
			p.logger.Warn("партнер с таким кодом не найден",
				zap.String("delivery_id", deliveryID),
				zap.String("referral_code", code))
			p.appendLog(ctx, deliveryID, models.WebhookLogWarning,
				fmt.Sprintf("Referrer not found for code: %s", code))
			return false
		}

		p.logger.Error("ошибка поиска партнера по коду",
			zap.String("delivery_id", deliveryID),
			zap.String("referral_code", code),
			zap.Error(err))
		p.appendLog(ctx, deliveryID, models.WebhookLogError,
			fmt.Sprintf("Referrer lookup failed for code %s: %s", code, err))
		return false
	}

	currentConversions, _ := strconv.Atoi(referrer.Properties[hubspot.PropConversionCount])

	err = p.contacts.UpdateContact(ctx, referrer.ID, map[string]string{
		hubspot.PropConversionCount:    strconv.Itoa(currentConversions + 1),
		hubspot.PropLastConversionDate: time.Now().UTC().Format(conversionTimeLayout),
	})
	if err != nil {
		p.logger.Error("ошибка обновления счетчика конверсий",
			zap.String("delivery_id", deliveryID),
			zap.String("referral_code", code),
			zap.Error(err))
		p.appendLog(ctx, deliveryID, models.WebhookLogError,
			fmt.Sprintf("Conversion update failed for code %s: %s", code, err))
		return false
	}

	if p.observer != nil {
		p.observer.RecordConversion()
	}

	p.logger.Info("конверсия засчитана",
		zap.String("delivery_id", deliveryID),
		zap.String("referral_code", code),
		zap.String("referrer_id", referrer.ID),
		zap.Int("conversion_count", currentConversions+1))

	// Ошибки уведомления не откатывают засчитанную конверсию
	partnerEmail := referrer.Properties[hubspot.PropEmail]
	if p.notifier != nil && partnerEmail != "" {
		partner := hubspot.ReferrerFromContact(*referrer)
		p.notifier.SendConversion(ctx, email.ConversionData{
			PartnerName:    partner.FullName(),
			PartnerEmail:   partnerEmail,
			LeadEmail:      leadEmail,
			ConversionDate: time.Now().UTC(),
		})
	}

	return true
}

// appendLog пишет запись в диагностический журнал. Сбой журнала не
// прерывает обработку
func (p *Pipeline) appendLog(ctx context.Context, deliveryID, logType string, data any) {
	if p.logs == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(strconv.Quote(fmt.Sprint(data)))
	}

	entry := models.WebhookLogEntry{
		DeliveryID: deliveryID,
		Type:       logType,
		Data:       raw,
		CreatedAt:  time.Now().UTC(),
	}

	if err := p.logs.Append(ctx, entry); err != nil {
		p.logger.Error("ошибка записи в журнал webhook'ов",
			zap.String("delivery_id", deliveryID),
			zap.String("type", logType),
			zap.Error(err))
	}
}

func (p *Pipeline) recordEvent(eventType, status string) {
	if p.observer == nil {
		return
	}
	if eventType == "" {
		eventType = "auto"
	}
	p.observer.RecordWebhookEvent(eventType, status)
}

// classify читает subscriptionType с верхнего уровня payload или из
// первого элемента массива: доставки CRM могут приходить пачками
func classify(payload any) string {
	switch v := payload.(type) {
	case []any:
		if len(v) > 0 {
			if event, ok := v[0].(map[string]any); ok {
				return stringValue(event["subscriptionType"])
			}
		}
	case map[string]any:
		return stringValue(v["subscriptionType"])
	}
	return ""
}

// eventsOf нормализует payload к списку событий: одиночный объект
// трактуется как пачка из одного события
func eventsOf(payload any) []map[string]any {
	switch v := payload.(type) {
	case []any:
		events := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if event, ok := item.(map[string]any); ok {
				events = append(events, event)
			}
		}
		return events
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

// walkPayload рекурсивно обходит все пары ключ-значение payload
func walkPayload(v any, fn func(key string, value any)) {
	switch t := v.(type) {
	case map[string]any:
		for key, value := range t {
			fn(key, value)
			walkPayload(value, fn)
		}
	case []any:
		for _, item := range t {
			walkPayload(item, fn)
		}
	}
}

// stringValue приводит значение из разобранного JSON к строке: HubSpot
// присылает objectId то строкой, то числом
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func isEmptyPayload(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
