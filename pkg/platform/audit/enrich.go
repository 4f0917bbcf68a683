package audit

import (
	"context"

	"github.com/mssola/useragent"

	"ehrconsent/pkg/requestcontext"
)

// Enrich copies request correlation data from ctx onto the event.
func Enrich(ctx context.Context, event Event) Event {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.Device == "" {
		event.Device = DeviceLabel(requestcontext.UserAgent(ctx))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	return event
}

// DeviceLabel renders a User-Agent as a short "Browser on OS" label, e.g.
// "Chrome on Android (mobile)". Returns "" for an empty User-Agent.
func DeviceLabel(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	browser, _ := ua.Browser()
	osName := ua.OSInfo().Name
	var label string
	switch {
	case browser != "" && osName != "":
		label = browser + " on " + osName
	case browser != "":
		label = browser
	default:
		label = osName
	}
	if label != "" && ua.Mobile() {
		label += " (mobile)"
	}
	return label
}
