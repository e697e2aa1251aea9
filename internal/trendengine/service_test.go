package trendengine

import (
	"testing"

	"github.com/barisx/Indicators/internal/config"
	"github.com/barisx/Indicators/internal/notification"
)

func TestNotifiers(t *testing.T) {
	if ns := notifiers(config.NotifyConfig{}); len(ns) != 0 {
		t.Errorf("expected no notifiers, got %d", len(ns))
	}

	ns := notifiers(config.NotifyConfig{
		Log:            true,
		WebhookURL:     "http://alerts.local/hook",
		TelegramToken:  "t",
		TelegramChatID: "1",
	})
	if len(ns) != 3 {
		t.Fatalf("expected 3 notifiers, got %d", len(ns))
	}
	if _, ok := ns[0].(*notification.LogNotifier); !ok {
		t.Errorf("first notifier is %T, want *LogNotifier", ns[0])
	}
	if _, ok := ns[2].(*notification.TelegramNotifier); !ok {
		t.Errorf("last notifier is %T, want *TelegramNotifier", ns[2])
	}
}

func TestPct(t *testing.T) {
	if got := pct(0, 0); got != 0 {
		t.Errorf("pct(0,0)=%v", got)
	}
	if got := pct(250, 1000); got != 25 {
		t.Errorf("pct(250,1000)=%v, want 25", got)
	}
}
