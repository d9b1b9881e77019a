package tg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const DefaultBaseURL = "https://api.telegram.org"

// ErrUnavailable marks transient transport failures. Callers retry on the
// next poll iteration; there is no built-in backoff.
var ErrUnavailable = errors.New("gateway unavailable")

// APIError wraps an ok=false gateway response.
type APIError struct {
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: %s", e.Method, e.Description)
}

// Client is a minimal Telegram bot API client.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client with sane defaults. The HTTP client carries no
// timeout: getUpdates blocks for the server-side long-poll window, and
// cancellation goes through ctx.
func New(token string) *Client {
	return &Client{Token: token, BaseURL: DefaultBaseURL, HTTPClient: &http.Client{}}
}

// GetUpdates long-polls for updates at or after offset. The gateway holds the
// request up to timeout seconds and returns an empty batch when nothing
// arrived. Transport failures are reported as ErrUnavailable.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	var resp getUpdatesResponse
	if err := c.do(ctx, "getUpdates", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &APIError{Method: "getUpdates", Description: resp.Description}
	}
	return resp.Result, nil
}

// SendMessage delivers one text message to a chat. Best effort: the caller
// logs and ignores failures.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	var resp sendMessageResponse
	if err := c.do(ctx, "sendMessage", params, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &APIError{Method: "sendMessage", Description: resp.Description}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, params url.Values, out any) error {
	// Never write the struct here: one client is shared by concurrent
	// callers (the dispatcher and the verify notifier).
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	endpoint := c.methodURL(method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %w: status=%d body=%s", method, ErrUnavailable, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

func (c *Client) methodURL(method string) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/bot" + c.Token + "/" + method
}
