// Package classify превращает сырое событие relay в закрытый tagged-вариант:
// Command | Discovery | Chat | Ignore. Вся хрупкость текстовых паттернов
// (маркеры ролей, сигнатура discovery-объявления) изолирована здесь.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/psds-microservice/desk-sync/internal/command"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/relay"
)

// DiscoveryHeader — фиксированная фраза объявления о новой клиентской сессии.
// По ней admin-сторона обнаруживает тикеты, созданные на customer-стороне.
const DiscoveryHeader = "NEW CUSTOMER SESSION"

type Kind int

const (
	KindIgnore Kind = iota
	KindCommand
	KindDiscovery
	KindChat
)

// Discovery — извлечённый discovery-сигнал. Оба поля опциональны: сигнал без
// CaseID всё равно приводит к anonymous-discovery.
type Discovery struct {
	CaseID string
	IP     string
}

// Chat — обычное сообщение чата с нормализованным отправителем и текстом без
// маркера роли.
type Chat struct {
	Sender     model.SenderType
	Text       string
	Attachment *model.Attachment
}

// Event — классифицированное событие. Update сохраняется целиком: reconciler
// использует id/topic/timestamp.
type Event struct {
	Update    relay.Update
	Kind      Kind
	Command   *command.Command
	Discovery *Discovery
	Chat      *Chat
}

var (
	caseIDRe = regexp.MustCompile("Case ID:\\s*`(\\d+)`")
	ipRe     = regexp.MustCompile("IP:\\s*`([0-9.]+)`")

	customerPrefixRe = regexp.MustCompile(`^👤 \*.*:\*\n`)
	adminPrefixRe    = regexp.MustCompile(`^🛡️ \*.*:\*\n`)
)

// Classify применяет правила §классификации в порядке приоритета:
//  1. sentinel команды -> Command (malformed payload -> Ignore, никогда не
//     ошибка наружу);
//  2. сигнатура discovery-объявления -> Discovery;
//  3. немаркированные сообщения bot-аккаунтов -> Ignore (анти-эхо);
//  4. всё остальное -> Chat с нормализацией отправителя.
func Classify(u relay.Update, viewer model.SenderType) Event {
	if command.IsCommand(u.Text) {
		cmd, err := command.Decode(u.Text)
		if err != nil {
			return Event{Update: u, Kind: KindIgnore}
		}
		return Event{Update: u, Kind: KindCommand, Command: &cmd}
	}

	if strings.Contains(u.Text, DiscoveryHeader) {
		d := &Discovery{}
		if m := caseIDRe.FindStringSubmatch(u.Text); m != nil {
			d.CaseID = m[1]
		}
		if m := ipRe.FindStringSubmatch(u.Text); m != nil {
			d.IP = m[1]
		}
		return Event{Update: u, Kind: KindDiscovery, Discovery: d}
	}

	// Bot-эхо без маркера роли: отбрасывается, чтобы собственные пересылки не
	// зацикливались. Маркированный текст — это пересланное сообщение одной из
	// сторон, он проходит дальше.
	if u.IsBot && !strings.HasPrefix(u.Text, relay.CustomerMarker) && !strings.HasPrefix(u.Text, relay.AdminMarker) {
		return Event{Update: u, Kind: KindIgnore}
	}

	sender, text := normalizeSender(u)
	return Event{Update: u, Kind: KindChat, Chat: &Chat{
		Sender:     sender,
		Text:       text,
		Attachment: u.Attachment,
	}}
}

// normalizeSender — самая рискованная эвристика системы: человеческие
// сообщения в relay пишутся только персоналом, поэтому отправитель по
// умолчанию атрибутируется как admin. Ведущий маркер роли (поставленный ботом
// при пересылке) перекрывает это. Порядок правил фиксирован — не менять.
func normalizeSender(u relay.Update) (model.SenderType, string) {
	text := u.Text
	var sender model.SenderType
	switch {
	case strings.HasPrefix(text, relay.CustomerMarker):
		sender = model.SenderCustomer
		text = customerPrefixRe.ReplaceAllString(text, "")
	case strings.HasPrefix(text, relay.AdminMarker):
		sender = model.SenderAdmin
		text = adminPrefixRe.ReplaceAllString(text, "")
	default:
		sender = model.SenderAdmin
	}
	return sender, text
}

// FormatAnnouncement собирает discovery-объявление, которое customer-сторона
// отправляет в свежесозданный тред. Формат согласован с регулярками выше.
func FormatAnnouncement(caseID string, info *model.CustomerInfo) string {
	city, country, code, ip := "Unknown", "Unknown", "", "Unknown"
	if info != nil {
		if info.City != "" {
			city = info.City
		}
		if info.Country != "" {
			country = info.Country
		}
		code = info.CountryCode
		if info.IP != "" {
			ip = info.IP
		}
	}
	return fmt.Sprintf("🚀 *%s*\n\n🆔 *Case ID:* `%s`\n🌍 *Location:* %s, %s (%s)\n💻 *IP:* `%s`",
		DiscoveryHeader, caseID, city, country, code, ip)
}
