package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Delivery is one rendered message bound for a single recipient, with enough
// shop and event context for a downstream gateway to route it.
type Delivery struct {
	ShopID    string `json:"shop_id"`
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type Provider interface {
	Send(ctx context.Context, d Delivery) error
}

// newProvider resolves a channel's provider from config. A bare URL is a
// webhook; "webhook" reads NOTIFIER_<CHANNEL>_WEBHOOK_URL and _TOKEN from
// the environment. Anything unrecognized degrades to logging so a typo never
// silently drops messages.
func newProvider(kind string, channel string) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("NOTIFIER_" + strings.ToUpper(channel) + "_WEBHOOK_URL")
		token := os.Getenv("NOTIFIER_" + strings.ToUpper(channel) + "_WEBHOOK_TOKEN")
		if url == "" {
			return logProvider{}
		}
		return webhookProvider{url: url, token: token}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind}
		}
		return logProvider{}
	}
}

type logProvider struct{}

func (logProvider) Send(ctx context.Context, d Delivery) error {
	log.Printf("send %s to %s shop=%s event=%s: %s", d.Channel, d.Recipient, d.ShopID, d.Event, d.Message)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, d Delivery) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, d Delivery) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url   string
	token string
}

func (p webhookProvider) Send(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
