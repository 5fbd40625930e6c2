package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>Добро пожаловать в реферальную программу {{.SiteName}}!</h1>
  <p>Здравствуйте, {{.FirstName}}!</p>
  <p>Спасибо, что присоединились к нашей реферальной программе. Мы рады сотрудничеству с {{.Organization}}.</p>
  <div style="background: #f9f9f9; padding: 20px; border-radius: 8px;">
    <p><strong>Ваш реферальный код:</strong> <code>{{.ReferralCode}}</code></p>
    <p><strong>Ваша ссылка:</strong> <a href="{{.ReferralLink}}">{{.ReferralLink}}</a></p>
  </div>
  <p>Делитесь ссылкой с потенциальными клиентами — когда они заполнят форму на нашем сайте, конверсия будет засчитана вам.</p>
  <p>Команда {{.SiteName}}</p>
</body>
</html>`))

var conversionTmpl = template.Must(template.New("conversion").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>Новая конверсия!</h1>
  <p>Здравствуйте, {{.PartnerName}}!</p>
  <p>Отличные новости: по вашей реферальной ссылке пришел новый клиент.</p>
  <div style="background: #f9f9f9; padding: 20px; border-radius: 8px;">
    <p><strong>Лид:</strong> {{.LeadName}}{{if .LeadEmail}} ({{.LeadEmail}}){{end}}</p>
    <p><strong>Дата:</strong> {{.Date}}</p>
  </div>
  <p>Так держать! Продолжайте делиться ссылкой.</p>
  <p>Команда {{.SiteName}}</p>
</body>
</html>`))

var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>Ваша реферальная статистика — {{.Month}}</h1>
  <p>Здравствуйте, {{.PartnerName}}!</p>
  <p>Вот как сработали ваши рефералы в этом месяце:</p>
  <div style="background: #f9f9f9; padding: 20px; border-radius: 8px;">
    <p><strong>Переходы:</strong> {{.Clicks}}</p>
    <p><strong>Конверсии:</strong> {{.Conversions}}</p>
    <p><strong>Конверсия:</strong> {{.Rate}}</p>
  </div>
  <p>Спасибо, что остаетесь нашим партнером!</p>
  <p>Команда {{.SiteName}}</p>
</body>
</html>`))

// renderWelcome собирает HTML приветственного письма
func renderWelcome(siteName string, data WelcomeData) (string, error) {
	var buf bytes.Buffer
	err := welcomeTmpl.Execute(&buf, struct {
		WelcomeData
		SiteName string
	}{data, siteName})
	if err != nil {
		return "", fmt.Errorf("ошибка рендеринга шаблона welcome: %w", err)
	}
	return buf.String(), nil
}

// renderConversion собирает HTML уведомления о конверсии
func renderConversion(siteName string, data ConversionData) (string, error) {
	leadName := data.LeadName
	if leadName == "" {
		leadName = "Новый лид"
	}

	var buf bytes.Buffer
	err := conversionTmpl.Execute(&buf, struct {
		PartnerName string
		LeadName    string
		LeadEmail   string
		Date        string
		SiteName    string
	}{
		PartnerName: data.PartnerName,
		LeadName:    leadName,
		LeadEmail:   data.LeadEmail,
		Date:        data.ConversionDate.Format("02.01.2006"),
		SiteName:    siteName,
	})
	if err != nil {
		return "", fmt.Errorf("ошибка рендеринга шаблона conversion: %w", err)
	}
	return buf.String(), nil
}

// renderDigest собирает HTML ежемесячного дайджеста
func renderDigest(siteName string, data DigestData) (string, error) {
	var buf bytes.Buffer
	err := digestTmpl.Execute(&buf, struct {
		PartnerName string
		Month       string
		Clicks      int
		Conversions int
		Rate        string
		SiteName    string
	}{
		PartnerName: data.PartnerName,
		Month:       data.Month,
		Clicks:      data.Stats.Clicks,
		Conversions: data.Stats.Conversions,
		Rate:        data.Stats.ConversionRate,
		SiteName:    siteName,
	})
	if err != nil {
		return "", fmt.Errorf("ошибка рендеринга шаблона digest: %w", err)
	}
	return buf.String(), nil
}
