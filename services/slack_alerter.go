// services/slack_alerter.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"
)

type slackPayload struct {
	Text string `json:"text"`
}

// slackAlerter posts operator alerts to a Slack incoming webhook. Delivery is
// best-effort: a failed post is logged and swallowed so alerting can never
// stall the pipeline.
type slackAlerter struct {
	webhookURL string
	httpClient *http.Client
}

func NewSlackAlerter(webhookURL string) Alerter {
	return &slackAlerter{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (a *slackAlerter) Alert(ctx context.Context, component, message string, details map[string]interface{}) {
	log.Printf("[Alert] component=%s message=%q details=%v", component, message, details)

	if a.webhookURL == "" {
		return
	}

	text := fmt.Sprintf(
		":rotating_light: *%s*\n*Component:* %s\n*Time:* %s",
		message,
		component,
		time.Now().UTC().Format(time.RFC3339),
	)
	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		text += "\n*Details:*"
		for _, k := range keys {
			text += fmt.Sprintf("\n• %s: `%v`", k, details[k])
		}
	}

	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		log.Printf("[Alert] WARNING: could not marshal slack payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		log.Printf("[Alert] WARNING: could not build slack request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		log.Printf("[Alert] WARNING: slack webhook post failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Alert] WARNING: slack webhook returned status %d", resp.StatusCode)
	}
}
