package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ehrconsent/pkg/requestcontext"
)

func TestEnrich(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.7",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	ctx = requestcontext.WithTime(ctx, now)

	t.Run("fills correlation fields from the request", func(t *testing.T) {
		event := Enrich(ctx, Event{Action: ActionConsentChecked})
		assert.Equal(t, "req-1", event.RequestID)
		assert.Equal(t, "10.0.0.7", event.ClientIP)
		assert.Equal(t, "Chrome on Linux", event.Device)
		assert.Equal(t, now, event.Timestamp)
	})

	t.Run("keeps fields already set", func(t *testing.T) {
		event := Enrich(ctx, Event{Action: ActionConsentChecked, RequestID: "explicit", Device: "kiosk"})
		assert.Equal(t, "explicit", event.RequestID)
		assert.Equal(t, "kiosk", event.Device)
	})
}

func TestDeviceLabel(t *testing.T) {
	assert.Empty(t, DeviceLabel(""))
	assert.Equal(t, "bot", DeviceLabel("Googlebot/2.1 (+http://www.google.com/bot.html)"))
	assert.Contains(t, DeviceLabel("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"), "(mobile)")
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, Normalize(Event{Action: ActionConsentRevoked}, time.Now()).Category)
	assert.Equal(t, CategorySecurity, Normalize(Event{Action: ActionAccessDenied}, time.Now()).Category)
	assert.Equal(t, CategoryOperations, Normalize(Event{Action: Action("unknown")}, time.Now()).Category)
}
