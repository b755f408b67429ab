// Package portal talks to the building-automation web portal.
//
// Client implements session.Portal. Page fetches and command posts are
// plain HTTP requests carrying the session id in the query string; login
// is delegated to an Authenticator because the portal only issues a
// session after a JavaScript-driven sign-in. BrowserAuthenticator drives a
// headless Chromium through go-rod for that step.
//
// URL layout:
//
//	pages:    {base}/visu/index.fcgi?{NN}&session_id={id}&lang={lang}
//	commands: POST {base}/visu/controlKNX?{payload}&session_id={id}
//	login:    {base}/visu/index.fcgi?00
//
// A 401 on either request means the session was revoked and is reported as
// session.ErrSessionExpired.
package portal
