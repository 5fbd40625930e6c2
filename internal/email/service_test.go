package email

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"referral-hub/internal/config"
	"referral-hub/pkg/models"
)

// fakeMailer запоминает отправленные письма
type fakeMailer struct {
	sent []sentMail
	fail bool
}

type sentMail struct {
	to      string
	subject string
	body    string
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m.fail {
		return fmt.Errorf("smtp недоступен")
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

// fakeEnroller запоминает записи в workflow
type fakeEnroller struct {
	enrolled []string
	fail     bool
}

func (e *fakeEnroller) EnrollInWorkflow(ctx context.Context, email, workflowID string) error {
	if e.fail {
		return fmt.Errorf("workflow недоступен")
	}
	e.enrolled = append(e.enrolled, email+":"+workflowID)
	return nil
}

func newTestService(method string, mailer *fakeMailer, enroller *fakeEnroller) *Service {
	cfg := &config.EmailConfig{
		Method:            method,
		WorkflowID:        "555",
		SendMonthlyDigest: true,
		AdminEmail:        "admin@example.com",
	}
	return NewService(cfg, "Referral Hub", mailer, enroller, nil, zap.NewNop())
}

func TestSendWelcomeDirect(t *testing.T) {
	mailer := &fakeMailer{}
	svc := newTestService(config.EmailMethodDirect, mailer, &fakeEnroller{})

	sent := svc.SendWelcome(context.Background(), WelcomeData{
		FirstName:    "John",
		Email:        "john@example.com",
		Organization: "Acme",
		ReferralCode: "johndoe1",
		ReferralLink: "https://example.com/contact/?referral_source=johndoe1",
	})

	assert.True(t, sent)
	assert.Len(t, mailer.sent, 1)
	assert.Equal(t, "john@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "johndoe1")
	assert.Contains(t, mailer.sent[0].body, "referral_source=johndoe1")
}

func TestSendWelcomeNone(t *testing.T) {
	mailer := &fakeMailer{}
	svc := newTestService(config.EmailMethodNone, mailer, &fakeEnroller{})

	sent := svc.SendWelcome(context.Background(), WelcomeData{Email: "john@example.com"})

	assert.False(t, sent)
	assert.Empty(t, mailer.sent)
}

func TestSendWelcomeWorkflow(t *testing.T) {
	mailer := &fakeMailer{}
	enroller := &fakeEnroller{}
	svc := newTestService(config.EmailMethodWorkflow, mailer, enroller)

	sent := svc.SendWelcome(context.Background(), WelcomeData{Email: "john@example.com"})

	assert.True(t, sent)
	assert.Empty(t, mailer.sent, "при workflow методе SMTP не используется")
	assert.Equal(t, []string{"john@example.com:555"}, enroller.enrolled)
}

func TestSendWelcomeWorkflowFailure(t *testing.T) {
	svc := newTestService(config.EmailMethodWorkflow, &fakeMailer{}, &fakeEnroller{fail: true})

	sent := svc.SendWelcome(context.Background(), WelcomeData{Email: "john@example.com"})
	assert.False(t, sent)
}

func TestSendConversionOnlyDirect(t *testing.T) {
	data := ConversionData{
		PartnerName:    "John Doe",
		PartnerEmail:   "john@example.com",
		LeadEmail:      "lead@example.com",
		ConversionDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	// Уведомления о конверсии не деградируют в workflow
	for _, method := range []string{config.EmailMethodNone, config.EmailMethodWorkflow} {
		enroller := &fakeEnroller{}
		svc := newTestService(method, &fakeMailer{}, enroller)
		assert.False(t, svc.SendConversion(context.Background(), data), method)
		assert.Empty(t, enroller.enrolled)
	}

	mailer := &fakeMailer{}
	svc := newTestService(config.EmailMethodDirect, mailer, &fakeEnroller{})
	assert.True(t, svc.SendConversion(context.Background(), data))
	assert.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].body, "lead@example.com")
}

func TestSendConversionDefaultLeadName(t *testing.T) {
	mailer := &fakeMailer{}
	svc := newTestService(config.EmailMethodDirect, mailer, &fakeEnroller{})

	svc.SendConversion(context.Background(), ConversionData{
		PartnerEmail:   "john@example.com",
		ConversionDate: time.Now(),
	})

	assert.Contains(t, mailer.sent[0].body, "Новый лид")
}

func TestSendMonthlyDigest(t *testing.T) {
	mailer := &fakeMailer{}
	svc := newTestService(config.EmailMethodDirect, mailer, &fakeEnroller{})

	sent := svc.SendMonthlyDigest(context.Background(), DigestData{
		PartnerName:  "John Doe",
		PartnerEmail: "john@example.com",
		Month:        "Август 2026",
		Stats: models.PartnerStats{
			Clicks:         40,
			Conversions:    5,
			ConversionRate: "12.5%",
		},
	})

	assert.True(t, sent)
	assert.Len(t, mailer.sent, 1)
	assert.True(t, strings.Contains(mailer.sent[0].body, "12.5%"))
}

func TestSendMonthlyDigestDisabled(t *testing.T) {
	mailer := &fakeMailer{}
	cfg := &config.EmailConfig{Method: config.EmailMethodDirect, SendMonthlyDigest: false}
	svc := NewService(cfg, "Referral Hub", mailer, &fakeEnroller{}, nil, zap.NewNop())

	sent := svc.SendMonthlyDigest(context.Background(), DigestData{PartnerEmail: "john@example.com"})
	assert.False(t, sent)
	assert.Empty(t, mailer.sent)
}

func TestNotifyAdminNewPartner(t *testing.T) {
	mailer := &fakeMailer{}
	svc := newTestService(config.EmailMethodDirect, mailer, &fakeEnroller{})

	sent := svc.NotifyAdminNewPartner(context.Background(), WelcomeData{
		FirstName:    "John",
		LastName:     "Doe",
		Email:        "john@example.com",
		ReferralCode: "johndoe1",
	})

	assert.True(t, sent)
	assert.Equal(t, "admin@example.com", mailer.sent[0].to)
}

func TestSendFailureReported(t *testing.T) {
	svc := newTestService(config.EmailMethodDirect, &fakeMailer{fail: true}, &fakeEnroller{})

	sent := svc.SendWelcome(context.Background(), WelcomeData{Email: "john@example.com"})
	assert.False(t, sent)
}
