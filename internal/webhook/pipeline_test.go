package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"referral-hub/internal/email"
	"referral-hub/internal/hubspot"
	"referral-hub/pkg/models"
)

// fakeDirectory эмулирует удаленное хранилище контактов
type fakeDirectory struct {
	byCode  map[string]*hubspot.Contact // по referral_code
	byID    map[string]*hubspot.Contact
	updates []update
}

type update struct {
	contactID  string
	properties map[string]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byCode: make(map[string]*hubspot.Contact),
		byID:   make(map[string]*hubspot.Contact),
	}
}

func (d *fakeDirectory) addReferrer(id, code string, conversions int) {
	contact := &hubspot.Contact{
		ID: id,
		Properties: map[string]string{
			hubspot.PropEmail:           fmt.Sprintf("partner%s@example.com", id),
			hubspot.PropFirstName:       "Partner",
			hubspot.PropLastName:        id,
			hubspot.PropReferralCode:    code,
			hubspot.PropConversionCount: fmt.Sprintf("%d", conversions),
		},
	}
	d.byCode[code] = contact
	d.byID[id] = contact
}

func (d *fakeDirectory) FindContactByCode(ctx context.Context, code string) (*hubspot.Contact, error) {
	if contact, ok := d.byCode[code]; ok {
		return contact, nil
	}
	return nil, hubspot.ErrNotFound
}

func (d *fakeDirectory) GetContact(ctx context.Context, contactID string) (*hubspot.Contact, error) {
	if contact, ok := d.byID[contactID]; ok {
		return contact, nil
	}
	return nil, hubspot.ErrNotFound
}

func (d *fakeDirectory) UpdateContact(ctx context.Context, contactID string, properties map[string]string) error {
	d.updates = append(d.updates, update{contactID: contactID, properties: properties})
	return nil
}

// memLog собирает записи журнала в памяти
type memLog struct {
	entries []models.WebhookLogEntry
}

func (l *memLog) Append(ctx context.Context, entry models.WebhookLogEntry) error {
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLog) typed(logType string) []models.WebhookLogEntry {
	var out []models.WebhookLogEntry
	for _, entry := range l.entries {
		if entry.Type == logType {
			out = append(out, entry)
		}
	}
	return out
}

// fakeConversionNotifier запоминает уведомления о конверсиях
type fakeConversionNotifier struct {
	sent []email.ConversionData
}

func (n *fakeConversionNotifier) SendConversion(ctx context.Context, data email.ConversionData) bool {
	n.sent = append(n.sent, data)
	return true
}

func newTestPipeline(dir *fakeDirectory, logs *memLog, notifier *fakeConversionNotifier) *Pipeline {
	var n ConversionNotifier
	if notifier != nil {
		n = notifier
	}
	return NewPipeline(dir, n, logs, nil, zap.NewNop())
}

func TestProcessPropertyChangeBatch(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 2)
	dir.addReferrer("102", "bob45678", 0)
	logs := &memLog{}
	notifier := &fakeConversionNotifier{}
	pipeline := newTestPipeline(dir, logs, notifier)

	body := []byte(`[
		{"subscriptionType": "contact.propertyChange", "objectId": 201, "propertyName": "referral_source", "propertyValue": "alice123"},
		{"subscriptionType": "contact.propertyChange", "objectId": 202, "propertyName": "referral_source", "propertyValue": "bob45678"},
		{"subscriptionType": "contact.propertyChange", "objectId": 203, "propertyName": "lifecyclestage", "propertyValue": "customer"}
	]`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)

	require.Len(t, processed, 2)
	assert.Equal(t, "alice123", processed[0].ReferralCode)
	assert.Equal(t, "201", processed[0].ContactID)
	assert.Equal(t, "bob45678", processed[1].ReferralCode)

	// Каждому партнеру засчитана ровно одна конверсия
	require.Len(t, dir.updates, 2)
	assert.Equal(t, "101", dir.updates[0].contactID)
	assert.Equal(t, "3", dir.updates[0].properties[hubspot.PropConversionCount])
	assert.NotEmpty(t, dir.updates[0].properties[hubspot.PropLastConversionDate])
	assert.Equal(t, "102", dir.updates[1].contactID)
	assert.Equal(t, "1", dir.updates[1].properties[hubspot.PropConversionCount])

	assert.Len(t, notifier.sent, 2)
}

func TestProcessSingleObjectPayload(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 0)
	pipeline := newTestPipeline(dir, &memLog{}, nil)

	body := []byte(`{"subscriptionType": "contact.propertyChange", "objectId": "201", "propertyName": "referral_source", "propertyValue": "alice123"}`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "201", processed[0].ContactID)
	assert.Len(t, dir.updates, 1)
}

func TestProcessUnknownCodeLogsWarning(t *testing.T) {
	dir := newFakeDirectory()
	logs := &memLog{}
	pipeline := newTestPipeline(dir, logs, nil)

	body := []byte(`[{"subscriptionType": "contact.propertyChange", "objectId": 201, "propertyName": "referral_source", "propertyValue": "ghost999"}]`)

	// Неизвестный код не проваливает доставку
	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)
	assert.Len(t, processed, 1)
	assert.Empty(t, dir.updates)

	warnings := logs.typed(models.WebhookLogWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, string(warnings[0].Data), "ghost999")
}

func TestProcessContactCreation(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 0)
	dir.byID["301"] = &hubspot.Contact{
		ID: "301",
		Properties: map[string]string{
			hubspot.PropEmail:          "lead@example.com",
			hubspot.PropReferralSource: "alice123",
		},
	}
	dir.byID["302"] = &hubspot.Contact{
		ID:         "302",
		Properties: map[string]string{hubspot.PropEmail: "organic@example.com"},
	}
	pipeline := newTestPipeline(dir, &memLog{}, nil)

	body := []byte(`[
		{"subscriptionType": "contact.creation", "objectId": 301},
		{"subscriptionType": "contact.creation", "objectId": 302},
		{"subscriptionType": "contact.creation", "objectId": 999}
	]`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)

	// Атрибутирован только контакт с referral_source; отсутствующий
	// контакт не прерывает обработку пачки
	require.Len(t, processed, 1)
	assert.Equal(t, "alice123", processed[0].ReferralCode)
	assert.Equal(t, "301", processed[0].ContactID)
	assert.Len(t, dir.updates, 1)
}

func TestProcessFormSubmission(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 0)
	notifier := &fakeConversionNotifier{}
	pipeline := newTestPipeline(dir, &memLog{}, notifier)

	body := []byte(`[{
		"subscriptionType": "form.submission",
		"formData": {"email": "lead@example.com", "referral_source": "alice123"}
	}]`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)

	require.Len(t, processed, 1)
	assert.Equal(t, "alice123", processed[0].ReferralCode)
	assert.Equal(t, "lead@example.com", processed[0].Email)
	assert.Empty(t, processed[0].ContactID)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "lead@example.com", notifier.sent[0].LeadEmail)
	assert.Equal(t, "partner101@example.com", notifier.sent[0].PartnerEmail)
}

func TestProcessFormSubmissionFlatPayload(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 0)
	pipeline := newTestPipeline(dir, &memLog{}, nil)

	// Поля формы без вложенного formData
	body := []byte(`[{"subscriptionType": "form.submission", "referral_source": "alice123", "email": "lead@example.com"}]`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "lead@example.com", processed[0].Email)
}

func TestProcessAutoDetect(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 5)
	logs := &memLog{}
	pipeline := newTestPipeline(dir, logs, nil)

	body := []byte(`{"vid": 42, "properties": {"referral_source": "alice123"}, "objectId": 777}`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)

	require.Len(t, processed, 1)
	assert.Equal(t, "alice123", processed[0].ReferralCode)
	assert.Equal(t, "777", processed[0].ContactID)
	assert.Equal(t, "auto_detected", processed[0].Method)

	require.Len(t, dir.updates, 1)
	assert.Equal(t, "6", dir.updates[0].properties[hubspot.PropConversionCount])
}

func TestProcessAutoDetectNested(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 0)
	pipeline := newTestPipeline(dir, &memLog{}, nil)

	body := []byte(`{"event": {"details": [{"referral_source": "alice123"}]}}`)

	processed, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "auto_detected", processed[0].Method)
}

func TestProcessNoReferralFound(t *testing.T) {
	dir := newFakeDirectory()
	logs := &memLog{}
	pipeline := newTestPipeline(dir, logs, nil)

	_, err := pipeline.Process(context.Background(), []byte(`{"vid": 42, "unrelated": true}`))
	assert.ErrorIs(t, err, ErrNoReferral)
	assert.Empty(t, dir.updates)
	assert.Len(t, logs.typed(models.WebhookLogError), 1)
}

func TestProcessInvalidPayload(t *testing.T) {
	dir := newFakeDirectory()
	pipeline := newTestPipeline(dir, &memLog{}, nil)

	for _, body := range []string{"", "не json", "[]", "{}"} {
		_, err := pipeline.Process(context.Background(), []byte(body))
		assert.ErrorIs(t, err, ErrInvalidPayload, body)
	}
	assert.Empty(t, dir.updates)
}

func TestProcessLogsLifecycle(t *testing.T) {
	dir := newFakeDirectory()
	dir.addReferrer("101", "alice123", 0)
	logs := &memLog{}
	pipeline := newTestPipeline(dir, logs, nil)

	body := []byte(`[{"subscriptionType": "contact.propertyChange", "objectId": 201, "propertyName": "referral_source", "propertyValue": "alice123"}]`)

	_, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)

	require.Len(t, logs.entries, 3)
	assert.Equal(t, models.WebhookLogReceived, logs.entries[0].Type)
	assert.Equal(t, models.WebhookLogProcessing, logs.entries[1].Type)
	assert.Equal(t, models.WebhookLogSuccess, logs.entries[2].Type)

	// Все записи одной доставки связаны общим delivery_id
	deliveryID := logs.entries[0].DeliveryID
	assert.NotEmpty(t, deliveryID)
	for _, entry := range logs.entries {
		assert.Equal(t, deliveryID, entry.DeliveryID)
	}

	var processing map[string]any
	require.NoError(t, json.Unmarshal(logs.entries[1].Data, &processing))
	assert.Equal(t, "contact.propertyChange", processing["event_type"])
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "alice123", stringValue("alice123"))
	assert.Equal(t, "12345", stringValue(float64(12345)))
	assert.Equal(t, "", stringValue(nil))
	assert.Equal(t, "", stringValue(map[string]any{}))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"массив событий", `[{"subscriptionType": "contact.creation"}]`, "contact.creation"},
		{"одиночный объект", `{"subscriptionType": "form.submission"}`, "form.submission"},
		{"без типа", `{"vid": 1}`, ""},
		{"пустой массив", `[]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload any
			require.NoError(t, json.Unmarshal([]byte(tt.body), &payload))
			assert.Equal(t, tt.want, classify(payload))
		})
	}
}
