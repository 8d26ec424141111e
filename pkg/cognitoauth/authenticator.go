// Authenticates edge requests against a hosted user pool using the authorization code grant.
// Session is kept in cookies carrying the pool-issued (and pool-signed) tokens.
package cognitoauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/function61/edgeauth/pkg/authenticator"
	"github.com/function61/edgeauth/pkg/cfevent"
	"github.com/function61/edgeauth/pkg/eaconfig"
	"github.com/function61/gokit/cryptorandombytes"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/mac"
	"golang.org/x/oauth2"
)

// for key fetches and token endpoint calls. edge functions have a hard deadline of their own.
const providerTimeout = 5 * time.Second

type Authenticator struct {
	conf       eaconfig.Configuration
	opts       eaconfig.AuthOptions
	sameSite   http.SameSite
	oauth      oauth2.Config // RedirectURL depends on request's host, so it's filled per request
	verifier   *tokenVerifier
	httpClient *http.Client
	logl       *logex.Leveled
}

var _ authenticator.Authenticator = (*Authenticator)(nil)

func New(conf eaconfig.Configuration, opts eaconfig.AuthOptions, logger *log.Logger) (*Authenticator, error) {
	httpClient := &http.Client{Timeout: providerTimeout}

	return newAuthenticator(conf, opts, newJwksKeySource(conf.JwksURL(), httpClient), httpClient, logger)
}

// for resolvers that produce configuration at runtime
func Factory(opts eaconfig.AuthOptions, logger *log.Logger) authenticator.Factory {
	return func(conf eaconfig.Configuration) (authenticator.Authenticator, error) {
		auth, err := New(conf, opts, logger)
		if err != nil {
			return nil, err
		}

		return auth, nil
	}
}

func newAuthenticator(
	conf eaconfig.Configuration,
	opts eaconfig.AuthOptions,
	keys keySource,
	httpClient *http.Client,
	logger *log.Logger,
) (*Authenticator, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("cognitoauth: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("cognitoauth: %w", err)
	}

	sameSite, err := opts.SameSiteMode()
	if err != nil {
		return nil, err
	}

	authStyle := oauth2.AuthStyleInParams // public client
	if opts.ClientSecret != "" {
		authStyle = oauth2.AuthStyleInHeader
	}

	return &Authenticator{
		conf:     conf,
		opts:     opts,
		sameSite: sameSite,
		oauth: oauth2.Config{
			ClientID:     conf.UserPoolAppId,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   conf.DomainURL() + "/oauth2/authorize",
				TokenURL:  conf.DomainURL() + "/oauth2/token",
				AuthStyle: authStyle,
			},
			Scopes: opts.Scopes,
		},
		verifier: &tokenVerifier{
			keys:     keys,
			issuer:   conf.Issuer(),
			clientId: conf.UserPoolAppId,
		},
		httpClient: httpClient,
		logl:       logex.Levels(logger),
	}, nil
}

func (a *Authenticator) Handle(ctx context.Context, req *cfevent.Request) (*cfevent.Result, error) {
	host := req.Headers.Get("host")
	if host == "" {
		return nil, errors.New("cognitoauth: request without Host header")
	}

	// must be registered as callback URL for the app client
	redirectURI := "https://" + host + a.opts.ParseAuthPath

	cookies := parseCookies(req.Headers)
	session := a.sessionFromCookies(cookies)

	if a.opts.LogoutPath != "" && req.URI == a.opts.LogoutPath {
		return a.logout(host, session), nil
	}

	if session.idToken != "" {
		_, err := a.verifier.verifyIdToken(ctx, session.idToken)
		switch {
		case err == nil:
			return cfevent.PassThrough(req), nil
		case errors.Is(err, errKeysUnavailable):
			return nil, fmt.Errorf("cognitoauth: %w", err)
		case errors.Is(err, errTokenExpired) && session.refreshToken != "":
			refreshed, err := a.refresh(ctx, host, redirectURI, requestPath(req), session)
			if err == nil {
				return refreshed, nil
			}

			a.logl.Info.Printf("refresh failed for %s: %v", session.username, err)
		default:
			a.logl.Debug.Printf("rejected session for %s: %v", session.username, err)
		}
	}

	query, err := url.ParseQuery(req.QueryString)
	if err != nil {
		query = url.Values{}
	}

	if code := query.Get("code"); code != "" && a.isCallback(req.URI) {
		return a.handleCallback(ctx, host, redirectURI, code, query.Get("state"), cookies)
	}

	return a.redirectToLogin(redirectURI, requestPath(req)), nil
}

func (a *Authenticator) isCallback(uri string) bool {
	return a.opts.ParseAuthPath == "" || uri == a.opts.ParseAuthPath
}

func (a *Authenticator) handleCallback(
	ctx context.Context,
	host string,
	redirectURI string,
	code string,
	stateEncoded string,
	cookies requestCookies,
) (*cfevent.Result, error) {
	state, err := decodeState(stateEncoded)
	if err != nil {
		return cfevent.Respond(a.unauthorized(err.Error(), nil)), nil
	}

	exchangeOpts := []oauth2.AuthCodeOption{}
	clearHandshake := []string{}

	if a.opts.CSRFProtection {
		clearHandshake = a.clearHandshakeCookies()

		if err := verifyNonce(a.opts.NonceSigningSecret, state.Nonce, cookies); err != nil {
			a.logl.Info.Printf("callback rejected: %v", err)
			return cfevent.Respond(a.unauthorized(err.Error(), clearHandshake)), nil
		}

		verifier := cookies.value(pkceCookieName)
		if verifier == "" {
			return cfevent.Respond(a.unauthorized("missing PKCE verifier", clearHandshake)), nil
		}

		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}

	tokens, err := a.oauthConfig(redirectURI).Exchange(a.clientCtx(ctx), code, exchangeOpts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) { // provider said no (e.g. code used already) => start over
			a.logl.Info.Printf("code exchange rejected: %v", err)
			return a.redirectToLogin(redirectURI, state.RedirectPath), nil
		}

		return nil, fmt.Errorf("cognitoauth: code exchange: %w", err)
	}

	session, err := a.sessionFor(ctx, tokens)
	if err != nil {
		if errors.Is(err, errKeysUnavailable) {
			return nil, fmt.Errorf("cognitoauth: %w", err)
		}

		return cfevent.Respond(a.unauthorized(err.Error(), clearHandshake)), nil
	}

	a.logl.Info.Printf("session established for %s", session.username)

	return cfevent.Respond(redirect(
		"https://"+host+safeRedirectPath(state.RedirectPath),
		append(a.sessionCookies(session), clearHandshake...))), nil
}

func (a *Authenticator) refresh(
	ctx context.Context,
	host string,
	redirectURI string,
	path string,
	previous sessionTokens,
) (*cfevent.Result, error) {
	// no access token => not valid => source refreshes
	tokenSource := a.oauthConfig(redirectURI).TokenSource(a.clientCtx(ctx), &oauth2.Token{
		RefreshToken: previous.refreshToken,
	})

	tokens, err := tokenSource.Token()
	if err != nil {
		return nil, err
	}

	session, err := a.sessionFor(ctx, tokens)
	if err != nil {
		return nil, err
	}

	// send the browser back to the same URL, now with fresh cookies
	return cfevent.Respond(redirect("https://"+host+path, a.sessionCookies(session))), nil
}

// verifies the freshly issued ID token, which also gives us the username
func (a *Authenticator) sessionFor(ctx context.Context, tokens *oauth2.Token) (sessionTokens, error) {
	session, err := sessionTokensFrom(tokens)
	if err != nil {
		return sessionTokens{}, err
	}

	claims, err := a.verifier.verifyIdToken(ctx, session.idToken)
	if err != nil {
		return sessionTokens{}, err
	}

	session.username = claims.username()

	return session, nil
}

func (a *Authenticator) redirectToLogin(redirectURI string, originalPath string) *cfevent.Result {
	state := authState{RedirectPath: safeRedirectPath(originalPath)}
	authCodeOpts := []oauth2.AuthCodeOption{}
	cookies := []string{}

	if a.opts.CSRFProtection {
		nonce := cryptorandombytes.Base64Url(32)
		verifier := oauth2.GenerateVerifier()

		state.Nonce = nonce
		authCodeOpts = append(authCodeOpts, oauth2.S256ChallengeOption(verifier))

		cookies = append(cookies,
			a.makeCookie(nonceCookieName, nonce, handshakeCookieMaxAge),
			a.makeCookie(nonceHmacCookieName, mac.New(a.opts.NonceSigningSecret, nonce).Sign(), handshakeCookieMaxAge),
			a.makeCookie(pkceCookieName, verifier, handshakeCookieMaxAge))
	}

	return cfevent.Respond(redirect(
		a.oauthConfig(redirectURI).AuthCodeURL(encodeState(state), authCodeOpts...),
		cookies))
}

func (a *Authenticator) logout(host string, session sessionTokens) *cfevent.Result {
	logoutURI := a.opts.LogoutRedirectURI
	if logoutURI == "" {
		logoutURI = "https://" + host + "/"
	}

	// https://docs.aws.amazon.com/cognito/latest/developerguide/logout-endpoint.html
	logoutQuery := url.Values{
		"client_id":  {a.conf.UserPoolAppId},
		"logout_uri": {logoutURI},
	}

	return cfevent.Respond(redirect(
		a.conf.DomainURL()+"/logout?"+logoutQuery.Encode(),
		a.clearSessionCookies(session.username)))
}

func (a *Authenticator) oauthConfig(redirectURI string) *oauth2.Config {
	conf := a.oauth
	conf.RedirectURL = redirectURI
	return &conf
}

func (a *Authenticator) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *Authenticator) unauthorized(reason string, cookies []string) *cfevent.Response {
	headers := noCacheHeaders()
	headers.Set("Content-Type", "text/plain; charset=utf-8")
	for _, cookie := range cookies {
		headers.Add("Set-Cookie", cookie)
	}

	return &cfevent.Response{
		Status:            "401",
		StatusDescription: "Unauthorized",
		Headers:           headers,
		Body:              "Unauthorized: " + reason,
		BodyEncoding:      "text",
	}
}

func redirect(location string, cookies []string) *cfevent.Response {
	headers := noCacheHeaders()
	headers.Set("Location", location)
	for _, cookie := range cookies {
		headers.Add("Set-Cookie", cookie)
	}

	return &cfevent.Response{
		Status:            "302",
		StatusDescription: "Found",
		Headers:           headers,
	}
}

// auth responses are per-user, so the CDN must not cache them
func noCacheHeaders() cfevent.Headers {
	headers := cfevent.Headers{}
	headers.Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	headers.Set("Pragma", "no-cache")
	return headers
}

// "/docs" + "?page=2"
func requestPath(req *cfevent.Request) string {
	if req.QueryString == "" {
		return req.URI
	}

	return req.URI + "?" + req.QueryString
}
