// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package notify turns event-bus occurrences into outbound alerts
// (webhook/Slack/Discord, ntfy, Pushover, email): channel fan-out,
// per-channel rate limiting, and level filtering, driven by this
// daemon's eventbus.Event set.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"warden/internal/config"
	"warden/internal/eventbus"
	"warden/internal/logging"
)

// Level constants for the three-tier severity scheme.
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Notification is one outbound alert.
type Notification struct {
	Title     string
	Message   string
	Level     string
	Timestamp time.Time
	Data      map[string]any
}

// Dispatcher fans a Notification out to every enabled, level-matching
// channel, rate-limited per channel+title.
type Dispatcher struct {
	mu     sync.Mutex
	cfg    *config.NotificationsConfig
	logger *logging.Logger

	lastSent map[string]time.Time

	httpClient  *http.Client
	emailSender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

	subs []eventbus.Subscription
}

// NewDispatcher creates a Dispatcher. cfg may be nil (Send becomes a no-op).
func NewDispatcher(cfg *config.NotificationsConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default().WithComponent("notify")
	}
	return &Dispatcher{
		cfg:         cfg,
		logger:      logger,
		lastSent:    make(map[string]time.Time),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		emailSender: smtp.SendMail,
	}
}

// eventVariants is the subset of eventbus.Variant worth alerting on; pure
// telemetry (ConnectionAttempt) and admin actions (WhitelistAdded/Removed)
// are intentionally excluded.
var eventVariants = []eventbus.Variant{
	eventbus.Block,
	eventbus.Unblock,
	eventbus.BlockExpired,
	eventbus.GeoBlock,
	eventbus.PortScanDetected,
	eventbus.BandwidthExceeded,
	eventbus.RateLimitExceeded,
}

// Subscribe wires the dispatcher onto bus. Call once at startup.
func (d *Dispatcher) Subscribe(bus *eventbus.Bus) {
	for _, v := range eventVariants {
		d.subs = append(d.subs, bus.Subscribe(v, "notify.dispatcher", d.handleEvent))
	}
}

// Close unsubscribes from every variant this Dispatcher was wired onto.
func (d *Dispatcher) Close(bus *eventbus.Bus) {
	for _, s := range d.subs {
		bus.Unsubscribe(s)
	}
	d.subs = nil
}

func (d *Dispatcher) handleEvent(ev eventbus.Event) {
	n := Notification{
		Title:     string(ev.Variant),
		Message:   formatFields(ev.Fields),
		Level:     levelForVariant(ev.Variant),
		Timestamp: time.Now(),
		Data:      ev.Fields,
	}
	d.Send(n)
}

func levelForVariant(v eventbus.Variant) string {
	switch v {
	case eventbus.PortScanDetected, eventbus.BandwidthExceeded, eventbus.RateLimitExceeded, eventbus.GeoBlock, eventbus.Block:
		return LevelWarning
	default:
		return LevelInfo
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}

// Send dispatches n to every enabled, level-matching, not-rate-limited
// channel, in parallel, and waits for all of them to finish.
func (d *Dispatcher) Send(n Notification) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	if cfg == nil || !cfg.Enabled {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var wg sync.WaitGroup
	for _, ch := range cfg.Channels {
		if !ch.Enabled || !shouldSend(n.Level, ch.Level) {
			continue
		}
		if d.isRateLimited(ch.Name, n.Title) {
			d.logger.Debug("notification rate limited", "channel", ch.Name, "title", n.Title)
			continue
		}
		wg.Add(1)
		go func(channel config.NotificationChannel) {
			defer wg.Done()
			if err := d.sendToChannel(channel, n); err != nil {
				d.logger.Error("failed to send notification", "channel", channel.Name, "type", channel.Type, "error", err)
			}
		}(ch)
	}
	wg.Wait()
}

func (d *Dispatcher) isRateLimited(channelName, title string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := channelName + ":" + title
	now := time.Now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < 60*time.Second {
		return true
	}
	d.lastSent[key] = now
	if len(d.lastSent) > 1000 {
		d.lastSent = map[string]time.Time{key: now}
	}
	return false
}

func shouldSend(msgLevel, chanLevel string) bool {
	if chanLevel == "" {
		return true
	}
	levels := map[string]int{LevelInfo: 1, LevelWarning: 2, LevelCritical: 3}
	return levels[strings.ToLower(msgLevel)] >= levels[strings.ToLower(chanLevel)]
}

func (d *Dispatcher) sendToChannel(ch config.NotificationChannel, n Notification) error {
	switch strings.ToLower(ch.Type) {
	case "webhook", "slack", "discord":
		return d.sendWebhook(ch, n)
	case "ntfy":
		return d.sendNtfy(ch, n)
	case "pushover":
		return d.sendPushover(ch, n)
	case "email":
		return d.sendEmail(ch, n)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func (d *Dispatcher) sendWebhook(ch config.NotificationChannel, n Notification) error {
	if ch.WebhookURL == "" {
		return fmt.Errorf("missing webhook_url")
	}

	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s\n_Level: %s_", n.Title, n.Message, n.Level),
	}
	if strings.ToLower(ch.Type) == "discord" {
		payload = map[string]any{"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Message)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", ch.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendNtfy(ch config.NotificationChannel, n Notification) error {
	url := ch.Server
	if url == "" {
		url = "https://ntfy.sh"
	}
	if ch.Topic == "" {
		return fmt.Errorf("missing topic for ntfy")
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	url += ch.Topic

	req, err := http.NewRequest("POST", url, strings.NewReader(n.Message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", n.Title)
	switch n.Level {
	case LevelCritical:
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "rotating_light")
	case LevelWarning:
		req.Header.Set("Priority", "default")
		req.Header.Set("Tags", "warning")
	default:
		req.Header.Set("Priority", "low")
		req.Header.Set("Tags", "information_source")
	}
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendPushover(ch config.NotificationChannel, n Notification) error {
	if ch.APIToken == "" || ch.UserKey == "" {
		return fmt.Errorf("missing api_token or user_key")
	}

	payload := map[string]any{
		"token":     ch.APIToken,
		"user":      ch.UserKey,
		"message":   n.Message,
		"title":     n.Title,
		"timestamp": n.Timestamp.Unix(),
	}
	if n.Level == LevelCritical {
		payload["priority"] = 1
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", "https://api.pushover.net/1/messages.json", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pushover failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendEmail(ch config.NotificationChannel, n Notification) error {
	if ch.SMTPHost == "" || len(ch.To) == 0 {
		return fmt.Errorf("missing smtp_host or recipients")
	}

	port := ch.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", ch.SMTPHost, port)

	var auth smtp.Auth
	if ch.SMTPUser != "" {
		auth = smtp.PlainAuth("", ch.SMTPUser, string(ch.SMTPPass), ch.SMTPHost)
	}

	from := ch.From
	if from == "" {
		from = "warden@localhost"
	}
	headers := map[string]string{
		"From":         from,
		"To":           strings.Join(ch.To, ","),
		"Subject":      fmt.Sprintf("[%s] %s", n.Level, n.Title),
		"MIME-Version": "1.0",
		"Content-Type": `text/plain; charset="utf-8"`,
	}
	var headerStr strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&headerStr, "%s: %s\r\n", k, v)
	}
	msg := []byte(headerStr.String() + "\r\n" + n.Message + "\r\n")

	return d.emailSender(addr, auth, from, ch.To, msg)
}
