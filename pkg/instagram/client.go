package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Inbox is the narrow collaborator surface the poll adapter depends on.
// The concrete client below talks to the private web API; tests use a fake.
type Inbox interface {
	Login(ctx context.Context) error
	SelfID() string
	Threads(ctx context.Context) ([]Thread, error)
	ThreadItems(ctx context.Context, threadID, cursor string) ([]Item, error)
	SendText(ctx context.Context, threadID, text string) error
}

// Thread is one direct-message conversation as seen in the inbox listing.
type Thread struct {
	ID           string
	UserID       string
	UserName     string
	NewestCursor string
	IsGroup      bool
}

// Item is one text message inside a thread.
type Item struct {
	ID        string
	UserID    string
	Text      string
	Timestamp int64
}

// ErrChallengeRequired means the account hit a checkpoint that needs manual
// resolution in a browser before the bot can log in again.
var ErrChallengeRequired = errors.New("instagram: challenge required")

// FatalError covers the login/abuse failures that retrying cannot fix:
// bad credentials, two-factor requirement, rate limiting, spam flags.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("instagram: fatal error: %s", e.Reason)
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

var fatalReasons = []string{
	"bad_password",
	"invalid_user",
	"two_factor_required",
	"rate_limit_error",
	"feedback_required",
	"login_required",
	"spam",
	"sentry_block",
	"account_suspended",
}

const (
	defaultBaseURL = "https://www.instagram.com"
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	igAppID        = "936619743392459"
)

type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
	deviceID string
	selfID   string
}

type Option func(*Client)

func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return
		}
		c.http.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
}

func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

func NewClient(username, password string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		http:     &http.Client{Jar: jar, Timeout: 60 * time.Second},
		baseURL:  defaultBaseURL,
		username: username,
		password: password,
		// Stable per-process device identity; rotating it every request is a
		// known checkpoint trigger.
		deviceID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SelfID() string { return c.selfID }

// Login performs the cookie-session login. Challenge checkpoints and the
// fatal credential/abuse failures come back as distinct error kinds so the
// poller can decide between stopping and surfacing.
func (c *Client) Login(ctx context.Context) error {
	csrf, err := c.preflightCSRF(ctx)
	if err != nil {
		return fmt.Errorf("login preflight: %w", err)
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), c.password))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/web/accounts/login/ajax/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req, csrf)

	body, err := c.do(req)
	if err != nil {
		return err
	}

	var result struct {
		Authenticated bool   `json:"authenticated"`
		User          bool   `json:"user"`
		UserID        string `json:"userId"`
		Message       string `json:"message"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if err := classify(result.Status, result.Message); err != nil {
		return err
	}
	if !result.Authenticated {
		if !result.User {
			return &FatalError{Reason: "invalid_user"}
		}
		return &FatalError{Reason: "bad_password"}
	}
	c.selfID = result.UserID
	return nil
}

// Threads lists the direct inbox.
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	body, err := c.get(ctx, "/api/v1/direct_v2/inbox/?persistentBadging=true&limit=20")
	if err != nil {
		return nil, err
	}

	var result struct {
		Inbox struct {
			Threads []struct {
				ThreadID     string `json:"thread_id"`
				ThreadType   string `json:"thread_type"`
				NewestCursor string `json:"newest_cursor"`
				Users        []struct {
					PK       json.Number `json:"pk"`
					Username string      `json:"username"`
					FullName string      `json:"full_name"`
				} `json:"users"`
			} `json:"threads"`
		} `json:"inbox"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse inbox response: %w", err)
	}
	if err := classify(result.Status, result.Message); err != nil {
		return nil, err
	}

	threads := make([]Thread, 0, len(result.Inbox.Threads))
	for _, t := range result.Inbox.Threads {
		th := Thread{
			ID:           t.ThreadID,
			NewestCursor: t.NewestCursor,
			IsGroup:      len(t.Users) != 1,
		}
		if len(t.Users) == 1 {
			th.UserID = t.Users[0].PK.String()
			th.UserName = t.Users[0].FullName
			if th.UserName == "" {
				th.UserName = t.Users[0].Username
			}
		}
		threads = append(threads, th)
	}
	return threads, nil
}

// ThreadItems returns the text items of one thread, oldest first.
func (c *Client) ThreadItems(ctx context.Context, threadID, cursor string) ([]Item, error) {
	path := "/api/v1/direct_v2/threads/" + url.PathEscape(threadID) + "/"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Thread struct {
			Items []struct {
				ItemID    string      `json:"item_id"`
				UserID    json.Number `json:"user_id"`
				ItemType  string      `json:"item_type"`
				Text      string      `json:"text"`
				Timestamp json.Number `json:"timestamp"`
			} `json:"items"`
		} `json:"thread"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse thread response: %w", err)
	}
	if err := classify(result.Status, result.Message); err != nil {
		return nil, err
	}

	// The API returns newest first; callers want chronological order.
	items := make([]Item, 0, len(result.Thread.Items))
	for i := len(result.Thread.Items) - 1; i >= 0; i-- {
		it := result.Thread.Items[i]
		if it.ItemType != "text" {
			continue
		}
		ts, _ := strconv.ParseInt(it.Timestamp.String(), 10, 64)
		items = append(items, Item{
			ID:        it.ItemID,
			UserID:    it.UserID.String(),
			Text:      it.Text,
			Timestamp: ts,
		})
	}
	return items, nil
}

// SendText broadcasts a text reply into a thread.
func (c *Client) SendText(ctx context.Context, threadID, text string) error {
	form := url.Values{}
	form.Set("action", "send_item")
	form.Set("thread_ids", fmt.Sprintf("[%s]", threadID))
	form.Set("text", text)
	form.Set("client_context", uuid.NewString())
	form.Set("device_id", c.deviceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/direct_v2/threads/broadcast/text/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req, c.csrfToken())

	body, err := c.do(req)
	if err != nil {
		return err
	}

	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse broadcast response: %w", err)
	}
	return classify(result.Status, result.Message)
}

func (c *Client) preflightCSRF(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	token := c.csrfToken()
	if token == "" {
		return "", fmt.Errorf("no csrftoken cookie issued")
	}
	return token, nil
}

func (c *Client) csrfToken() string {
	u, _ := url.Parse(c.baseURL)
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == "csrftoken" {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) decorate(req *http.Request, csrf string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-IG-App-ID", igAppID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.baseURL+"/")
	if csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, c.csrfToken())
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Error bodies still carry the status/message pair used for
		// challenge-vs-fatal classification.
		var apiErr struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil {
			if err := classify(apiErr.Status, apiErr.Message); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("instagram API status %d", resp.StatusCode)
	}
	return body, nil
}

// classify maps an API status/message pair onto the challenge/fatal split.
func classify(status, message string) error {
	if status == "" || status == "ok" {
		return nil
	}
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		msg = "unknown"
	}
	if strings.Contains(msg, "challenge_required") || strings.Contains(msg, "checkpoint") {
		return ErrChallengeRequired
	}
	for _, reason := range fatalReasons {
		if strings.Contains(msg, reason) {
			return &FatalError{Reason: reason}
		}
	}
	return fmt.Errorf("instagram API error: %s", message)
}
