package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"referral-hub/internal/email"
	"referral-hub/pkg/models"
)

// countingJob считает свои запуски
type countingJob struct {
	runs atomic.Int32
}

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return nil
}

func TestSchedulerRunsJobs(t *testing.T) {
	scheduler := NewScheduler(zap.NewNop())
	job := &countingJob{}
	scheduler.AddJob(job)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	scheduler.Start(ctx, 50*time.Millisecond)

	// Немедленный запуск плюс минимум один тик
	assert.GreaterOrEqual(t, job.runs.Load(), int32(2))
}

// fakeRegistry эмулирует реестр рефералов
type fakeRegistry struct {
	registry map[string]*models.ReferralSummary
	err      error
}

func (r *fakeRegistry) AllReferrals(ctx context.Context) (map[string]*models.ReferralSummary, error) {
	return r.registry, r.err
}

// fakeDigests запоминает отправленные дайджесты
type fakeDigests struct {
	sent []email.DigestData
}

func (d *fakeDigests) SendMonthlyDigest(ctx context.Context, data email.DigestData) bool {
	d.sent = append(d.sent, data)
	return true
}

func partnerSummary(code, emailAddr string, clicks, conversions int) *models.ReferralSummary {
	return &models.ReferralSummary{
		Referrer: models.Referrer{
			FirstName:       "Partner",
			LastName:        code,
			Email:           emailAddr,
			ReferralCode:    code,
			ReferralClicks:  clicks,
			ConversionCount: conversions,
		},
	}
}

func newDigestJob(registry *fakeRegistry, digests *fakeDigests, now time.Time) *MonthlyStatsJob {
	job := NewMonthlyStatsJob(registry, digests, true, zap.NewNop())
	job.pause = time.Millisecond
	job.now = func() time.Time { return now }
	return job
}

func TestMonthlyStatsJobSends(t *testing.T) {
	registry := &fakeRegistry{registry: map[string]*models.ReferralSummary{
		"alice123": partnerSummary("alice123", "alice@example.com", 40, 5),
		"bob45678": partnerSummary("bob45678", "bob@example.com", 0, 0),
		"ghost999": partnerSummary("ghost999", "", 10, 1),
	}}
	digests := &fakeDigests{}
	job := newDigestJob(registry, digests, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, job.Run(context.Background()))

	// Партнер без email пропущен
	require.Len(t, digests.sent, 2)

	byEmail := map[string]email.DigestData{}
	for _, d := range digests.sent {
		byEmail[d.PartnerEmail] = d
	}
	alice := byEmail["alice@example.com"]
	assert.Equal(t, "Июль 2026", alice.Month)
	assert.Equal(t, 40, alice.Stats.Clicks)
	assert.Equal(t, "12.5%", alice.Stats.ConversionRate)
	assert.Equal(t, "0%", byEmail["bob@example.com"].Stats.ConversionRate)
}

func TestMonthlyStatsJobOnlyFirstDay(t *testing.T) {
	registry := &fakeRegistry{registry: map[string]*models.ReferralSummary{
		"alice123": partnerSummary("alice123", "alice@example.com", 1, 0),
	}}
	digests := &fakeDigests{}
	job := newDigestJob(registry, digests, time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC))

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, digests.sent)
}

func TestMonthlyStatsJobSendsOncePerMonth(t *testing.T) {
	registry := &fakeRegistry{registry: map[string]*models.ReferralSummary{
		"alice123": partnerSummary("alice123", "alice@example.com", 1, 0),
	}}
	digests := &fakeDigests{}
	job := newDigestJob(registry, digests, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, digests.sent, 1)

	// В следующем месяце рассылка повторяется
	job.now = func() time.Time { return time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC) }
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, digests.sent, 2)
	assert.Equal(t, "Август 2026", digests.sent[1].Month)
}

func TestMonthlyStatsJobDisabled(t *testing.T) {
	registry := &fakeRegistry{registry: map[string]*models.ReferralSummary{
		"alice123": partnerSummary("alice123", "alice@example.com", 1, 0),
	}}
	digests := &fakeDigests{}
	job := NewMonthlyStatsJob(registry, digests, false, zap.NewNop())
	job.now = func() time.Time { return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, digests.sent)
}

func TestMonthlyStatsJobRegistryError(t *testing.T) {
	job := newDigestJob(&fakeRegistry{err: fmt.Errorf("hubspot недоступен")}, &fakeDigests{},
		time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))

	assert.Error(t, job.Run(context.Background()))
}

// fakePurge эмулирует очистку журнала
type fakePurge struct {
	purged int64
	err    error
	calls  int
}

func (p *fakePurge) PurgeExpired(ctx context.Context) (int64, error) {
	p.calls++
	return p.purged, p.err
}

func TestLogCleanupJob(t *testing.T) {
	purge := &fakePurge{purged: 7}
	job := NewLogCleanupJob(purge, zap.NewNop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, purge.calls)

	purge.err = fmt.Errorf("база недоступна")
	assert.Error(t, job.Run(context.Background()))
}
