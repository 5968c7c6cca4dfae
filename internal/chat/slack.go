package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

const defaultHistoryLimit = 20

// SlackClient talks to the Slack Web API with one user token (xoxp). IAN
// runs two instances: the haiku identity and the sonnet identity.
type SlackClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewSlackClient returns a client for one identity. baseURL "" selects the
// production API.
func NewSlackClient(token, baseURL string) *SlackClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SlackClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Client = (*SlackClient)(nil)

// envelope is the shared ok/error head of every Web API response.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (e envelope) status() (bool, string) { return e.OK, e.Error }

type apiResult interface {
	status() (bool, string)
}

type wireMessage struct {
	TS       string `json:"ts"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Subtype  string `json:"subtype"`
	ThreadTS string `json:"thread_ts"`
}

type historyResponse struct {
	envelope
	Messages []wireMessage `json:"messages"`
}

type postMessageResponse struct {
	envelope
	TS string `json:"ts"`
}

type authTestResponse struct {
	envelope
	UserID string `json:"user_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
}

// History implements Client. Returns messages strictly newer than oldestTS
// in the API's native newest-first order.
func (c *SlackClient) History(ctx context.Context, channelID, oldestTS string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	form := url.Values{
		"channel":   {channelID},
		"limit":     {strconv.Itoa(limit)},
		"inclusive": {"false"},
	}
	if oldestTS != "" {
		form.Set("oldest", oldestTS)
	}

	var resp historyResponse
	if err := c.call(ctx, "conversations.history", form, &resp); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Message{
			TS:       m.TS,
			User:     m.User,
			Text:     m.Text,
			Subtype:  m.Subtype,
			ThreadTS: m.ThreadTS,
			Channel:  channelID,
		})
	}
	return out, nil
}

// PostMessage implements Client.
func (c *SlackClient) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	form := url.Values{
		"channel": {channelID},
		"text":    {text},
	}
	if threadTS != "" {
		form.Set("thread_ts", threadTS)
	}

	var resp postMessageResponse
	if err := c.call(ctx, "chat.postMessage", form, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// AuthTest implements Client.
func (c *SlackClient) AuthTest(ctx context.Context) (AuthInfo, error) {
	var resp authTestResponse
	if err := c.call(ctx, "auth.test", url.Values{}, &resp); err != nil {
		return AuthInfo{}, err
	}
	return AuthInfo{UserID: resp.UserID, User: resp.User, Team: resp.Team}, nil
}

// call performs one form-encoded Web API request. HTTP 429 surfaces as
// *RateLimitedError with the server's Retry-After; an ok=false payload
// becomes a plain error carrying the API error code.
func (c *SlackClient) call(ctx context.Context, method string, form url.Values, out apiResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack %s: status %d", method, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slack %s: decode: %w", method, err)
	}
	if ok, apiErr := out.status(); !ok {
		if apiErr == "ratelimited" {
			return &RateLimitedError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
		}
		return fmt.Errorf("slack %s: %s", method, apiErr)
	}
	return nil
}

// retryAfter parses the Retry-After header, defaulting to a minute.
func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return time.Minute
	}
	return time.Duration(secs) * time.Second
}
