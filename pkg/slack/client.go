/**
 * @description
 * Minimal Slack client used to page operators when a billing worker is stuck.
 * Posts one chat.postMessage per failed attempt to the configured channel.
 * Alerts are best-effort; callers log send failures and move on.
 */
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultAPIURL = "https://slack.com/api/chat.postMessage"

// Client posts operator alerts to a Slack channel.
type Client struct {
	APIURL      string
	Token       string
	Channel     string
	Environment string
	HTTPClient  *http.Client
}

// NewClient creates a new Slack alert client.
func NewClient(token, channel, environment string) *Client {
	return &Client{
		APIURL:      defaultAPIURL,
		Token:       token,
		Channel:     channel,
		Environment: environment,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sectionText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sectionBlock struct {
	Type string      `json:"type"`
	Text sectionText `json:"text"`
}

type postMessageRequest struct {
	Channel string         `json:"channel"`
	Text    string         `json:"text"`
	Blocks  []sectionBlock `json:"blocks"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// NotifyChargeFailure pages the channel about a subscription that failed a
// billing attempt, identifying the affected user.
func (c *Client) NotifyChargeFailure(ctx context.Context, userID string) error {
	text := fmt.Sprintf("Error processing subscription: %s", userID)
	blockText := fmt.Sprintf("<!channel>\n [%s] Error processing subscription userID: %s", c.Environment, userID)

	payload := postMessageRequest{
		Channel: c.Channel,
		Text:    text,
		Blocks: []sectionBlock{
			{
				Type: "section",
				Text: sectionText{Type: "mrkdwn", Text: blockText},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	var apiResp postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("slack api error: %s", apiResp.Error)
	}

	return nil
}
