package notifier

import (
	"fmt"
	"sync"
	"time"

	"tabs-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// DefaultAlertCooldown is the minimum gap between two alerts with the same key
const DefaultAlertCooldown = 15 * time.Minute

// AlertHandler turns events into notifications. Alerts are rate limited per
// event type and upstream, so one flapping upstream does not mute another.
type AlertHandler struct {
	notifiers        []Notifier
	cooldowns        map[string]time.Time
	cooldownDuration time.Duration
	now              func() time.Time
	mu               sync.Mutex
}

// AlertConfig holds configuration for the alert handler
type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
}

func NewAlertHandler(config AlertConfig) *AlertHandler {
	cooldown := config.CooldownDuration
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	return &AlertHandler{
		notifiers:        config.Notifiers,
		cooldowns:        make(map[string]time.Time),
		cooldownDuration: cooldown,
		now:              time.Now,
	}
}

// Start subscribes the handler to bus
func (h *AlertHandler) Start(bus *EventBus) {
	bus.SubscribeAll(h.handleEvent)
	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldownDuration, len(h.notifiers))
}

func (h *AlertHandler) handleEvent(event *Event) {
	if !h.shouldAlert(event) {
		log.Debugf("%s Skipping alert for %s (cooldown active)", logcolors.LogNotifier, event.Type)
		return
	}

	subject, message := formatAlert(event)
	if subject == "" {
		return
	}
	h.sendAlert(subject, message)
}

func cooldownKey(event *Event) string {
	if upstream := event.str("upstream"); upstream != "" {
		return string(event.Type) + ":" + upstream
	}
	return string(event.Type)
}

func (h *AlertHandler) shouldAlert(event *Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := cooldownKey(event)
	now := h.now()
	if last, ok := h.cooldowns[key]; ok && now.Sub(last) < h.cooldownDuration {
		return false
	}
	h.cooldowns[key] = now
	return true
}

func formatAlert(event *Event) (subject, message string) {
	switch event.Type {
	case EventCircuitOpen:
		subject = "Circuit Breaker OPEN: " + event.str("upstream")
		message = fmt.Sprintf(
			"Calls to %s are blocked for %s after consecutive failures.\n\n"+
				"Cached responses are still served.\n\n"+
				"Action: Check the provider's status and the API quota.",
			event.str("upstream"), event.str("cooldown"))

	case EventCredentialFailed:
		subject = "Token Issuance Failed: " + event.str("upstream")
		message = fmt.Sprintf(
			"Could not obtain a %s access token.\n\n"+
				"Error: %s\n\n"+
				"Action: Check the client credentials.",
			event.str("upstream"), event.str("error"))

	case EventCacheUnreachable:
		subject = "Cache Store Unreachable"
		message = fmt.Sprintf(
			"The %s cache store is not answering.\n\n"+
				"Error: %s\n\n"+
				"Requests follow the configured cache failure mode until it recovers.",
			event.str("backend"), event.str("error"))

	case EventCircuitRecovered:
		subject = "Circuit Breaker Recovered: " + event.str("upstream")
		message = fmt.Sprintf("Calls to %s are flowing again.", event.str("upstream"))

	case EventCacheRecovered:
		subject = "Cache Store Recovered"
		message = fmt.Sprintf("The %s cache store is reachable again.", event.str("backend"))

	case EventCachePurged:
		subject = "Cache Purged"
		message = fmt.Sprintf("All entries in the %s cache store were deleted.", event.str("backend"))

	case EventServerStarted:
		subject = "Server Started"
		message = fmt.Sprintf("Listening on port %s with the %s cache store.",
			event.str("port"), event.str("backend"))

	default:
		return "", ""
	}

	switch event.Severity {
	case SeverityCritical:
		subject = "🚨 " + subject
	case SeverityWarning:
		subject = "⚠️ " + subject
	case SeverityInfo:
		subject = "ℹ️ " + subject
	}
	return subject, message
}

func (h *AlertHandler) sendAlert(subject, message string) {
	if len(h.notifiers) == 0 {
		log.Debugf("%s No notifiers configured, skipping alert: %s", logcolors.LogNotifier, subject)
		return
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, subject)

	sent := 0
	for _, n := range h.notifiers {
		if err := n.Send(subject, message); err != nil {
			log.Errorf("%s %s failed: %v", logcolors.LogNotifier, TypeName(n), err)
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Infof("%s Alert sent via %d/%d notifiers", logcolors.LogNotifier, sent, len(h.notifiers))
	}
}

// ResetAllCooldowns lets the next alert of every kind through
func (h *AlertHandler) ResetAllCooldowns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cooldowns = make(map[string]time.Time)
}
