package models

import (
	"time"
)

// Referrer представляет партнера реферальной программы (контакт в HubSpot)
type Referrer struct {
	ContactID          string     `json:"contact_id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Email              string     `json:"email"`
	Organization       string     `json:"organization"`
	ReferralCode       string     `json:"referral_code"`
	ConversionCount    int        `json:"conversion_count"`
	ReferralClicks     int        `json:"referral_clicks"`
	LastReferralClick  *time.Time `json:"last_referral_click,omitempty"`
	LastConversionDate *time.Time `json:"last_conversion_date,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`

	// Поля для публичного каталога партнеров
	ShowInDirectory      bool   `json:"show_in_directory"`
	LogoURL              string `json:"logo_url,omitempty"`
	DirectoryDescription string `json:"directory_description,omitempty"`
	WebsiteURL           string `json:"website_url,omitempty"`
	DisplayOrder         int    `json:"display_order"`
}

// FullName возвращает полное имя партнера
func (r *Referrer) FullName() string {
	if r.FirstName == "" {
		return r.LastName
	}
	if r.LastName == "" {
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// ConvertedLead представляет привлеченного лида (контакт с referral_source)
type ConvertedLead struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	ReferralSource string     `json:"referral_source"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// ReferralSummary представляет агрегированную статистику одного партнера:
// сам партнер плюс все привлеченные им лиды
type ReferralSummary struct {
	Referrer    Referrer        `json:"referrer"`
	Conversions []ConvertedLead `json:"conversions"`
}

// PartnerStats представляет статистику партнера для дашборда и дайджеста
type PartnerStats struct {
	Clicks         int    `json:"clicks"`
	Conversions    int    `json:"conversions"`
	ConversionRate string `json:"conversion_rate"` // например "12.5%"
}

// EnrollRequest представляет запрос на регистрацию партнера
type EnrollRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
	CustomCode   string `json:"custom_code,omitempty"`
}

// EnrollResult представляет результат регистрации партнера
type EnrollResult struct {
	ReferralCode string `json:"referral_code"`
	ReferralLink string `json:"referral_link"`
	ContactID    string `json:"contact_id"`
}
