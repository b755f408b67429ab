package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nerrad567/portal-bridge/internal/session"
)

const (
	emailSelector    = "input[name='email']"
	passwordSelector = "input[name='password']"
	submitSelector   = "button[type='submit']"

	hideWebdriverJS = `() => Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`
)

// BrowserOptions configures the headless login.
type BrowserOptions struct {
	BaseURL string

	// Bin is the browser executable. Empty lets the launcher locate or
	// download one.
	Bin       string
	Headless  bool
	UserAgent string

	InsecureSkipVerify bool

	// RedirectAttempts and RedirectInterval bound the wait for the
	// post-login redirect that carries the session id.
	RedirectAttempts int
	RedirectInterval time.Duration

	// ElementTimeout bounds the wait for the login form.
	ElementTimeout time.Duration

	Logger Logger
}

// BrowserAuthenticator logs in by driving a fresh Chromium per attempt.
type BrowserAuthenticator struct {
	opts   BrowserOptions
	logger Logger
}

// NewBrowserAuthenticator creates a rod-backed Authenticator.
func NewBrowserAuthenticator(opts BrowserOptions) *BrowserAuthenticator {
	if opts.RedirectAttempts <= 0 {
		opts.RedirectAttempts = 20
	}
	if opts.RedirectInterval <= 0 {
		opts.RedirectInterval = time.Second
	}
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = 10 * time.Second
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &BrowserAuthenticator{opts: opts, logger: logger}
}

// Login runs the portal's sign-in form and returns the session id and
// cookies from the final redirect.
func (b *BrowserAuthenticator) Login(ctx context.Context, creds session.Credentials) (session.Artifacts, error) {
	l := launcher.New().
		Context(ctx).
		Headless(b.opts.Headless).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("disable-dev-shm-usage"))
	if b.opts.Bin != "" {
		l = l.Bin(b.opts.Bin)
	}
	if b.opts.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), b.opts.UserAgent)
	}
	if b.opts.InsecureSkipVerify {
		l = l.Set(flags.Flag("ignore-certificate-errors"))
	}
	defer func() {
		l.Kill()
		l.Cleanup()
	}()

	controlURL, err := l.Launch()
	if err != nil {
		return session.Artifacts{}, fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return session.Artifacts{}, fmt.Errorf("connecting to browser: %w", err)
	}
	defer browser.Close() //nolint:errcheck // the launcher is killed regardless

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return session.Artifacts{}, fmt.Errorf("opening tab: %w", err)
	}
	if _, err := page.EvalOnNewDocument(hideWebdriverJS); err != nil {
		b.logger.Debug("could not hide webdriver flag", "error", err)
	}

	b.logger.Info("opening portal login page")
	if err := page.Navigate(LoginURL(b.opts.BaseURL)); err != nil {
		return session.Artifacts{}, fmt.Errorf("navigating to login page: %w", err)
	}

	if err := b.fillForm(page, creds); err != nil {
		return session.Artifacts{}, err
	}

	finalURL, err := b.awaitRedirect(ctx, page)
	if err != nil {
		return session.Artifacts{}, err
	}
	sid, err := ExtractSessionID(finalURL)
	if err != nil {
		return session.Artifacts{}, err
	}

	artifacts := session.Artifacts{SessionID: sid}
	res, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		b.logger.Warn("reading login cookies failed", "error", err)
		return artifacts, nil
	}
	for _, c := range res.Cookies {
		artifacts.Cookies = append(artifacts.Cookies, session.Cookie{Name: c.Name, Value: c.Value})
	}
	return artifacts, nil
}

func (b *BrowserAuthenticator) fillForm(page *rod.Page, creds session.Credentials) error {
	form := page.Timeout(b.opts.ElementTimeout)
	defer form.CancelTimeout()

	email, err := form.Element(emailSelector)
	if err != nil {
		return fmt.Errorf("login form not found: %w", err)
	}
	if err := email.Input(creds.Username); err != nil {
		return fmt.Errorf("filling email: %w", err)
	}

	password, err := form.Element(passwordSelector)
	if err != nil {
		return fmt.Errorf("password field not found: %w", err)
	}
	if err := password.Input(creds.Password); err != nil {
		return fmt.Errorf("filling password: %w", err)
	}

	submit, err := form.Element(submitSelector)
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submitting login form: %w", err)
	}
	return nil
}

// awaitRedirect polls the tab URL until it carries a session id.
func (b *BrowserAuthenticator) awaitRedirect(ctx context.Context, page *rod.Page) (string, error) {
	var last string
	for attempt := 1; attempt <= b.opts.RedirectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.opts.RedirectInterval):
		}

		info, err := page.Info()
		if err != nil {
			continue
		}
		last = info.URL
		if strings.Contains(last, "session_id=") {
			return last, nil
		}
		b.logger.Debug("waiting for login redirect", "attempt", attempt, "of", b.opts.RedirectAttempts)
	}
	return "", fmt.Errorf("%w: redirect timed out at %s", ErrNoSessionID, stripQuery(last))
}

func stripQuery(u string) string {
	base, _, _ := strings.Cut(u, "?")
	return base
}
