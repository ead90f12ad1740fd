// Package notify fans out stored listings to subscribers through an
// outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/listing"
)

const (
	// maxMentions bounds how many subscribers one message pings directly.
	maxMentions = 10

	colorListing = 0x2ECC71
	colorSummary = 0x3498DB
	colorError   = 0xE74C3C
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content,omitempty"`
	Embeds   []embed `json:"embeds,omitempty"`
}

// WebhookTransport posts Discord-compatible webhook messages.
type WebhookTransport struct {
	url      string
	username string
	client   *http.Client
	logger   *zap.Logger
}

// NewWebhookTransport builds a transport for the given webhook URL.
func NewWebhookTransport(url, username string, logger *zap.Logger) (*WebhookTransport, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookTransport{
		url:      url,
		username: username,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}, nil
}

// DeliverListing posts one listing with its audience mentioned in the
// message content.
func (t *WebhookTransport) DeliverListing(ctx context.Context, msg listing.ListingMessage) error {
	l := msg.Listing

	fields := []embedField{
		{Name: "Entreprise", Value: l.Company, Inline: true},
		{Name: "Source", Value: l.Source, Inline: true},
	}
	if l.Location != "" {
		fields = append(fields, embedField{Name: "Lieu", Value: l.Location, Inline: true})
	}
	if l.Salary != "" {
		fields = append(fields, embedField{Name: "Salaire", Value: l.Salary, Inline: true})
	}
	if msg.Topic.Name != "" {
		fields = append(fields, embedField{Name: "Sujet", Value: msg.Topic.Name, Inline: true})
	}

	payload := webhookPayload{
		Username: t.username,
		Content:  mentionLine(msg.Audience),
		Embeds: []embed{{
			Title:       l.Title,
			URL:         l.URL,
			Description: l.Description,
			Color:       colorListing,
			Fields:      fields,
			Timestamp:   l.PublishedAt.UTC().Format(time.RFC3339),
		}},
	}
	return t.post(ctx, payload)
}

// DeliverSummary posts an end-of-cycle digest.
func (t *WebhookTransport) DeliverSummary(ctx context.Context, stats listing.CycleStats) error {
	fields := []embedField{
		{Name: "Nouvelles offres", Value: fmt.Sprintf("%d", stats.TotalNew), Inline: true},
		{Name: "Offres vues", Value: fmt.Sprintf("%d", stats.TotalSeen), Inline: true},
		{Name: "Durée", Value: stats.Duration.Round(time.Second).String(), Inline: true},
	}
	for name, src := range stats.Sources {
		fields = append(fields, embedField{
			Name:   name,
			Value:  fmt.Sprintf("%d nouvelles / %d vues", src.New, src.Seen),
			Inline: true,
		})
	}

	payload := webhookPayload{
		Username: t.username,
		Embeds: []embed{{
			Title:     "Cycle de surveillance terminé",
			Color:     colorSummary,
			Fields:    fields,
			Timestamp: stats.FinishedAt.UTC().Format(time.RFC3339),
		}},
	}
	return t.post(ctx, payload)
}

// DeliverError posts an operational error notice.
func (t *WebhookTransport) DeliverError(ctx context.Context, contextText string, err error) error {
	payload := webhookPayload{
		Username: t.username,
		Embeds: []embed{{
			Title:       "Erreur de surveillance",
			Description: fmt.Sprintf("%s: %v", contextText, err),
			Color:       colorError,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	return t.post(ctx, payload)
}

// Test posts a short probe message so a misconfigured webhook URL fails
// at startup instead of on the first real notification.
func (t *WebhookTransport) Test(ctx context.Context) error {
	payload := webhookPayload{
		Username: t.username,
		Embeds: []embed{{
			Title:       "Surveillance démarrée",
			Description: "Le service de surveillance des offres est en ligne.",
			Color:       colorSummary,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	return t.post(ctx, payload)
}

func (t *WebhookTransport) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// mentionLine pings up to maxMentions subscribers. Role mentions take
// priority over user mentions for subscribers that carry one.
func mentionLine(audience []listing.Subscriber) string {
	if len(audience) == 0 {
		return ""
	}

	mentions := make([]string, 0, maxMentions)
	seen := make(map[string]struct{})
	for _, sub := range audience {
		var m string
		switch {
		case sub.NotifyRole != "":
			m = "<@&" + sub.NotifyRole + ">"
		case sub.ExternalID != "":
			m = "<@" + sub.ExternalID + ">"
		default:
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		mentions = append(mentions, m)
		if len(mentions) == maxMentions {
			break
		}
	}

	line := strings.Join(mentions, " ")
	if remaining := len(audience) - len(mentions); remaining > 0 && len(mentions) == maxMentions {
		line += fmt.Sprintf(" (+%d)", remaining)
	}
	return line
}

// NopTransport swallows all deliveries. Used when no webhook is configured.
type NopTransport struct{}

// DeliverListing implements listing.Transport.
func (NopTransport) DeliverListing(context.Context, listing.ListingMessage) error { return nil }

// DeliverSummary implements listing.Transport.
func (NopTransport) DeliverSummary(context.Context, listing.CycleStats) error { return nil }

// DeliverError implements listing.Transport.
func (NopTransport) DeliverError(context.Context, string, error) error { return nil }
