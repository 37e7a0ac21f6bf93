package classify

import (
	"testing"
	"time"

	"github.com/psds-microservice/desk-sync/internal/command"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/relay"
)

func upd(text string, isBot bool) relay.Update {
	return relay.Update{
		ID:        1,
		TopicID:   77,
		Text:      text,
		IsBot:     isBot,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestClassifyCommand(t *testing.T) {
	wire, err := command.Encode(command.KindUpdateProfile, model.CustomerProfile{FullName: "Ann"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev := Classify(upd(wire, true), model.SenderAdmin)
	if ev.Kind != KindCommand {
		t.Fatalf("expected KindCommand, got %d", ev.Kind)
	}
	if ev.Command.Profile.FullName != "Ann" {
		t.Fatalf("payload lost: %+v", ev.Command)
	}
}

func TestClassifyMalformedCommandIsIgnored(t *testing.T) {
	ev := Classify(upd(command.Sentinel+"WHATEVER|???", true), model.SenderAdmin)
	if ev.Kind != KindIgnore {
		t.Fatalf("malformed command must degrade to Ignore, got %d", ev.Kind)
	}
}

func TestClassifyDiscovery(t *testing.T) {
	text := FormatAnnouncement("482913", &model.CustomerInfo{
		IP: "203.0.113.7", City: "Hanoi", Country: "Vietnam", CountryCode: "VN",
	})
	ev := Classify(upd(text, true), model.SenderAdmin)
	if ev.Kind != KindDiscovery {
		t.Fatalf("expected KindDiscovery, got %d", ev.Kind)
	}
	if ev.Discovery.CaseID != "482913" {
		t.Fatalf("case id: %q", ev.Discovery.CaseID)
	}
	if ev.Discovery.IP != "203.0.113.7" {
		t.Fatalf("ip: %q", ev.Discovery.IP)
	}
}

func TestClassifyDiscoveryWithoutFields(t *testing.T) {
	ev := Classify(upd("🚀 *"+DiscoveryHeader+"*\nno details", true), model.SenderAdmin)
	if ev.Kind != KindDiscovery {
		t.Fatalf("expected KindDiscovery, got %d", ev.Kind)
	}
	if ev.Discovery.CaseID != "" || ev.Discovery.IP != "" {
		t.Fatalf("expected empty fields, got %+v", ev.Discovery)
	}
}

func TestCommandBeatsDiscovery(t *testing.T) {
	// Sentinel в начале выигрывает, даже если дальше встречается сигнатура
	// discovery.
	ev := Classify(upd(command.Sentinel+"APPROVE_KYC|{}"+DiscoveryHeader, true), model.SenderAdmin)
	if ev.Kind != KindCommand {
		t.Fatalf("expected KindCommand, got %d", ev.Kind)
	}
}

func TestClassifyBotEchoIgnored(t *testing.T) {
	ev := Classify(upd("plain bot text without marker", true), model.SenderAdmin)
	if ev.Kind != KindIgnore {
		t.Fatalf("unmarked bot text must be ignored, got %d", ev.Kind)
	}
}

func TestNormalizeSenderMarkers(t *testing.T) {
	cases := []struct {
		text   string
		isBot  bool
		sender model.SenderType
		clean  string
	}{
		// Маркированный текст от бота — пересланное сообщение одной из сторон.
		{"👤 *Jane:*\nhello", true, model.SenderCustomer, "hello"},
		{"🛡️ *Admin Support:*\nhi there", true, model.SenderAdmin, "hi there"},
		// Человек пишет в группе напрямую: всегда admin.
		{"direct human note", false, model.SenderAdmin, "direct human note"},
	}
	for _, tc := range cases {
		ev := Classify(upd(tc.text, tc.isBot), model.SenderAdmin)
		if ev.Kind != KindChat {
			t.Fatalf("%q: expected chat, got %d", tc.text, ev.Kind)
		}
		if ev.Chat.Sender != tc.sender {
			t.Fatalf("%q: expected sender %s, got %s", tc.text, tc.sender, ev.Chat.Sender)
		}
		if ev.Chat.Text != tc.clean {
			t.Fatalf("%q: expected text %q, got %q", tc.text, tc.clean, ev.Chat.Text)
		}
	}
}

func TestFormatAnnouncementNilInfo(t *testing.T) {
	text := FormatAnnouncement("111222", nil)
	ev := Classify(upd(text, true), model.SenderAdmin)
	if ev.Kind != KindDiscovery {
		t.Fatalf("expected discovery, got %d", ev.Kind)
	}
	if ev.Discovery.CaseID != "111222" {
		t.Fatalf("case id: %q", ev.Discovery.CaseID)
	}
	if ev.Discovery.IP != "" {
		t.Fatalf("placeholder ip must not parse as address: %q", ev.Discovery.IP)
	}
}
