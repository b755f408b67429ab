// Package portaltest provides a synthetic portal for tests: an in-memory
// session.Portal and an httptest server speaking the same URL layout as the
// real portal.
package portaltest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/portal-bridge/internal/session"
)

// ErrBadCredentials is returned by Login when credentials don't match.
var ErrBadCredentials = errors.New("portaltest: bad credentials")

// Element describes one device tile on a page.
type Element struct {
	ID      string
	Index   int
	Name    string
	Classes []string
	Icon    string
	Active  bool
	Status  string
	Speeds  int
}

// RenderPage returns page markup containing elems.
func RenderPage(page int, elems ...Element) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"visu-page\">\n")
	for _, e := range elems {
		classes := append([]string{"visu-element"}, e.Classes...)
		fmt.Fprintf(&b, "<div class=%q id=%q data-index=\"%d\" data-page=\"%02d\">\n",
			strings.Join(classes, " "), e.ID, e.Index, page)
		if e.Name != "" {
			fmt.Fprintf(&b, "  <span class=\"visu-element-name\">%s</span>\n", html.EscapeString(e.Name))
		}
		icon := "visu-icon"
		if e.Icon != "" {
			icon += " " + e.Icon
		}
		if e.Active {
			icon += " btn-active"
		}
		fmt.Fprintf(&b, "  <i class=%q></i>\n", icon)
		if e.Status != "" {
			fmt.Fprintf(&b, "  <span class=\"visu-status-text\">%s</span>\n", html.EscapeString(e.Status))
		}
		for i := 1; i <= e.Speeds; i++ {
			fmt.Fprintf(&b, "  <button data-speed=\"%d\"></button>\n", i)
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div></body></html>\n")
	return b.String()
}

// Portal is an in-memory session.Portal. Pages without content render as
// empty pages. The zero value is not usable; call New.
type Portal struct {
	// Username and Password, when set, are required by Login.
	Username string
	Password string

	mu       sync.Mutex
	pages    map[int]string
	failures map[int]error
	sessions map[string]bool
	seq      int
	logins   int
	fetches  int
	sent     []string
	sendErr  error
	loginErr error
}

var _ session.Portal = (*Portal)(nil)

// New returns an empty synthetic portal.
func New() *Portal {
	return &Portal{
		pages:    make(map[int]string),
		failures: make(map[int]error),
		sessions: make(map[string]bool),
	}
}

// SetPage replaces the content of page with elems. No elements makes the
// page empty.
func (p *Portal) SetPage(page int, elems ...Element) {
	p.SetPageHTML(page, RenderPage(page, elems...))
}

// SetPageHTML replaces the raw markup of page.
func (p *Portal) SetPageHTML(page int, markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[page] = markup
}

// FailPage makes fetches of page return err. A nil err clears the failure.
func (p *Portal) FailPage(page int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, page)
		return
	}
	p.failures[page] = err
}

// FailSends makes every Send return err. A nil err clears the failure.
func (p *Portal) FailSends(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

// FailLogins makes every Login return err. A nil err clears the failure.
func (p *Portal) FailLogins(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginErr = err
}

// ExpireSessions revokes every issued session id.
func (p *Portal) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.sessions {
		p.sessions[k] = false
	}
}

// Login issues a new session id.
func (p *Portal) Login(ctx context.Context, creds session.Credentials) (session.Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return session.Artifacts{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins++
	if p.loginErr != nil {
		return session.Artifacts{}, p.loginErr
	}
	if p.Username != "" && (creds.Username != p.Username || creds.Password != p.Password) {
		return session.Artifacts{}, ErrBadCredentials
	}
	p.seq++
	sid := fmt.Sprintf("sess%04d", p.seq)
	p.sessions[sid] = true
	return session.Artifacts{
		SessionID: sid,
		Cookies:   []session.Cookie{{Name: "portal_sid", Value: sid}},
	}, nil
}

// Fetch returns the markup of page.
func (p *Portal) Fetch(ctx context.Context, a session.Artifacts, page int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if !p.sessions[a.SessionID] {
		return nil, session.ErrSessionExpired
	}
	if err := p.failures[page]; err != nil {
		return nil, err
	}
	markup, ok := p.pages[page]
	if !ok {
		markup = RenderPage(page)
	}
	return []byte(markup), nil
}

// Send records payload.
func (p *Portal) Send(ctx context.Context, a session.Artifacts, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sessions[a.SessionID] {
		return session.ErrSessionExpired
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, payload)
	return nil
}

// Sent returns every payload accepted so far.
func (p *Portal) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Logins returns the number of login attempts.
func (p *Portal) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

// Fetches returns the number of page fetches.
func (p *Portal) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Server exposes a Portal over HTTP with the real URL layout.
type Server struct {
	*httptest.Server
	Portal *Portal
}

// NewServer starts an HTTP server backed by p. Callers must Close it.
func NewServer(p *Portal) *Server {
	s := &Server{Portal: p}
	mux := http.NewServeMux()
	mux.HandleFunc("/visu/index.fcgi", s.handlePage)
	mux.HandleFunc("/visu/controlKNX", s.handleCommand)
	s.Server = httptest.NewServer(mux)
	return s
}

// splitQuery separates the leading positional value of a raw query from
// its key=value parameters.
func splitQuery(raw string) (string, url.Values) {
	head, rest, _ := strings.Cut(raw, "&")
	values, _ := url.ParseQuery(rest) //nolint:errcheck // best effort on test input
	return head, values
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	head, q := splitQuery(r.URL.RawQuery)
	page, err := strconv.Atoi(head)
	if err != nil {
		http.Error(w, "bad page", http.StatusBadRequest)
		return
	}
	body, err := s.Portal.Fetch(r.Context(), artifacts(r, q), page)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body) //nolint:errcheck // test server
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, q := splitQuery(r.URL.RawQuery)
	if err := s.Portal.Send(r.Context(), artifacts(r, q), payload); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func artifacts(r *http.Request, q url.Values) session.Artifacts {
	a := session.Artifacts{SessionID: q.Get("session_id")}
	for _, c := range r.Cookies() {
		a.Cookies = append(a.Cookies, session.Cookie{Name: c.Name, Value: c.Value})
	}
	return a
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionExpired) {
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
