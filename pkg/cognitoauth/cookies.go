package cognitoauth

import (
	"net/http"
	"net/url"
	"time"

	"github.com/function61/edgeauth/pkg/cfevent"
)

// same layout the hosted UI's JavaScript SDKs use, so a SPA behind the edge can read them:
//
//	CognitoIdentityServiceProvider.<clientId>.LastAuthUser = <user>
//	CognitoIdentityServiceProvider.<clientId>.<user>.idToken = ...
const (
	cookiePrefix = "CognitoIdentityServiceProvider"

	nonceCookieName     = "edgeauth-nonce"
	nonceHmacCookieName = "edgeauth-nonce-hmac"
	pkceCookieName      = "edgeauth-pkce"

	handshakeCookieMaxAge = 10 * time.Minute
)

type requestCookies []*http.Cookie

// lenient parsing: one malformed cookie set by some other app on the domain must not
// log our user out
func parseCookies(headers cfevent.Headers) requestCookies {
	fakeReq := &http.Request{Header: http.Header{
		"Cookie": headers.Values("cookie"),
	}}

	return fakeReq.Cookies()
}

func (r requestCookies) value(name string) string {
	for _, cookie := range r {
		if cookie.Name == name {
			return cookie.Value
		}
	}

	return ""
}

func (a *Authenticator) lastAuthUserCookieName() string {
	return cookiePrefix + "." + a.conf.UserPoolAppId + ".LastAuthUser"
}

// username is escaped because e.g. "@" is not allowed in cookie names
func (a *Authenticator) tokenCookieName(username string, tokenKind string) string {
	return cookiePrefix + "." + a.conf.UserPoolAppId + "." + url.QueryEscape(username) + "." + tokenKind
}

func (a *Authenticator) sessionFromCookies(cookies requestCookies) sessionTokens {
	escapedUsername := cookies.value(a.lastAuthUserCookieName())
	if escapedUsername == "" {
		return sessionTokens{}
	}

	username, err := url.QueryUnescape(escapedUsername)
	if err != nil {
		return sessionTokens{}
	}

	return sessionTokens{
		username:     username,
		idToken:      cookies.value(a.tokenCookieName(username, "idToken")),
		accessToken:  cookies.value(a.tokenCookieName(username, "accessToken")),
		refreshToken: cookies.value(a.tokenCookieName(username, "refreshToken")),
	}
}

func (a *Authenticator) makeCookie(name string, value string, maxAge time.Duration) string {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     a.opts.CookiePath,
		Domain:   a.opts.CookieDomain,
		Secure:   true,
		HttpOnly: a.opts.HttpOnly,
		SameSite: a.sameSite,
	}

	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
	} else {
		cookie.MaxAge = -1 // delete
	}

	return cookie.String()
}

func (a *Authenticator) sessionCookies(tokens sessionTokens) []string {
	maxAge := time.Duration(a.opts.CookieExpirationDays) * 24 * time.Hour

	cookies := []string{
		a.makeCookie(a.lastAuthUserCookieName(), url.QueryEscape(tokens.username), maxAge),
		a.makeCookie(a.tokenCookieName(tokens.username, "idToken"), tokens.idToken, maxAge),
		a.makeCookie(a.tokenCookieName(tokens.username, "accessToken"), tokens.accessToken, maxAge),
	}

	if tokens.refreshToken != "" {
		cookies = append(cookies, a.makeCookie(a.tokenCookieName(tokens.username, "refreshToken"), tokens.refreshToken, maxAge))
	}

	return cookies
}

func (a *Authenticator) clearSessionCookies(username string) []string {
	cookies := []string{
		a.makeCookie(a.lastAuthUserCookieName(), "", 0),
	}

	if username == "" {
		return cookies
	}

	for _, tokenKind := range []string{"idToken", "accessToken", "refreshToken"} {
		cookies = append(cookies, a.makeCookie(a.tokenCookieName(username, tokenKind), "", 0))
	}

	return cookies
}

func (a *Authenticator) clearHandshakeCookies() []string {
	return []string{
		a.makeCookie(nonceCookieName, "", 0),
		a.makeCookie(nonceHmacCookieName, "", 0),
		a.makeCookie(pkceCookieName, "", 0),
	}
}
