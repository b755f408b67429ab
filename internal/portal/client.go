package portal

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/session"
)

// maxBodySize caps a page download.
const maxBodySize = 4 << 20

// Logger defines the logging interface used by the portal client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Authenticator performs the interactive login and returns the resulting
// session artifacts.
type Authenticator interface {
	Login(ctx context.Context, creds session.Credentials) (session.Artifacts, error)
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Language string

	// InsecureSkipVerify disables certificate checks for self-signed portals.
	InsecureSkipVerify bool

	// RequestTimeout bounds a single fetch or send.
	RequestTimeout time.Duration

	Authenticator Authenticator

	// HTTPClient overrides the client built from the options above.
	HTTPClient *http.Client

	Logger Logger
}

// Client is the HTTP side of the portal. It holds no session state; every
// call receives the artifacts to use.
type Client struct {
	baseURL  string
	language string
	http     *http.Client
	auth     Authenticator
	logger   Logger
}

// Compile-time check.
var _ session.Portal = (*Client)(nil)

// NewClient creates a portal client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("portal: base URL is required")
	}
	if opts.Authenticator == nil {
		return nil, fmt.Errorf("portal: authenticator is required")
	}
	if opts.Language == "" {
		opts.Language = "en"
	}

	hc := opts.HTTPClient
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed portal certificates
		}
		hc = &http.Client{
			Transport: transport,
			Timeout:   opts.RequestTimeout,
		}
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Client{
		baseURL:  base,
		language: opts.Language,
		http:     hc,
		auth:     opts.Authenticator,
		logger:   logger,
	}, nil
}

// Login delegates to the configured Authenticator.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (session.Artifacts, error) {
	return c.auth.Login(ctx, creds)
}

// Fetch downloads the markup of a device page.
func (c *Client) Fetch(ctx context.Context, a session.Artifacts, page int) ([]byte, error) {
	if page < 0 || page > 99 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	req, err := c.newRequest(ctx, http.MethodGet, PageURL(c.baseURL, page, a.SessionID, c.language), a)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetching portal page", "page", page)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetching page %d: %w", page, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading page %d: %w", page, err)
	}
	return body, nil
}

// Send posts a command payload.
func (c *Client) Send(ctx context.Context, a session.Artifacts, payload string) error {
	req, err := c.newRequest(ctx, http.MethodPost, CommandURL(c.baseURL, payload, a.SessionID), a)
	if err != nil {
		return err
	}

	c.logger.Debug("sending portal command", "payload", payload)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck // drain for keep-alive

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, a session.Artifacts) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for _, ck := range a.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return session.ErrSessionExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// PageURL builds the URL of a device page.
func PageURL(base string, page int, sessionID, lang string) string {
	return fmt.Sprintf("%s/visu/index.fcgi?%s&session_id=%s&lang=%s", base, command.FormatPage(page), sessionID, lang)
}

// CommandURL builds the URL a command payload is posted to.
func CommandURL(base, payload, sessionID string) string {
	return fmt.Sprintf("%s/visu/controlKNX?%s&session_id=%s", base, payload, sessionID)
}

// LoginURL is the page that starts the sign-in flow.
func LoginURL(base string) string {
	return strings.TrimRight(base, "/") + "/visu/index.fcgi?00"
}

// ExtractSessionID returns the session_id query value of a post-login URL,
// up to the next '&'.
func ExtractSessionID(url string) (string, error) {
	_, rest, found := strings.Cut(url, "session_id=")
	if !found {
		return "", ErrNoSessionID
	}
	id, _, _ := strings.Cut(rest, "&")
	if id == "" {
		return "", fmt.Errorf("%w: empty value", ErrNoSessionID)
	}
	return id, nil
}
