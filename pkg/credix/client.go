/**
 * @description
 * This package provides a client for the Credix settlement gateway.
 * It encapsulates the form-encoded CGI protocol used for tokenized repeat
 * billing: the stored card token (sendid) is sent in place of real card data,
 * with the gateway's fixed dummy card-number/expiry convention.
 *
 * @notes
 * - The gateway signals success with the literal response body "Success_order".
 *   Anything else, including a 200 with different text, is a decline.
 * - The client performs no retries; retry policy belongs to the caller.
 */
package credix

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const successBody = "Success_order"

// Fixed repeat-billing fields required by the Credix protocol. These are not
// real card data; the sendid token drives the actual charge.
const (
	opCodeRepeatBilling = "cardsv"
	dummyCardNumber     = "9999999999999992"
	dummyExpiry         = "00"
	dummyPhone          = "0000000000"
)

// Client is a client for the Credix gateway.
type Client struct {
	BaseURL    string
	ClientIP   string
	HTTPClient *http.Client
}

// NewClient creates a new Credix gateway client. The timeout applies to the
// whole request; the gateway is synchronous and answers within it or not at all.
func NewClient(baseURL, clientIP string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:  baseURL,
		ClientIP: clientIP,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DeclineError reports a charge the gateway refused: either a non-2xx status
// or a response body other than the success literal.
type DeclineError struct {
	StatusCode int
	Body       string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("credix declined charge: status=%d body=%q", e.StatusCode, e.Body)
}

// Charge submits one repeat-billing charge for the given card token.
// correlationID is the merchant-side reference (sendpoint) identifying this
// attempt to the gateway. A nil return means the charge settled.
func (c *Client) Charge(ctx context.Context, cardToken string, amount int64, correlationID string) error {
	form := url.Values{}
	form.Set("clientip", c.ClientIP)
	form.Set("send", opCodeRepeatBilling)
	form.Set("cardnumber", dummyCardNumber)
	form.Set("expyy", dummyExpiry)
	form.Set("expmm", dummyExpiry)
	form.Set("money", strconv.FormatInt(amount, 10))
	form.Set("telno", dummyPhone)
	form.Set("sendid", cardToken)
	form.Set("sendpoint", correlationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute charge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read charge response: %w", err)
	}

	body := string(bodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeclineError{StatusCode: resp.StatusCode, Body: body}
	}
	if body != successBody {
		return &DeclineError{StatusCode: resp.StatusCode, Body: body}
	}

	return nil
}
