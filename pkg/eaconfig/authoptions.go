package eaconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultCookieExpirationDays = 365
)

// edge functions can't have ENV variables, so options can be baked in at link time as
// query-encoded ENV variables. ENV wins when it has the variable.
//
//	-ldflags "-X 'github.com/function61/edgeauth/pkg/eaconfig.DefaultOptionsEnv=PARSE_AUTH_PATH=/_auth&LOGOUT_PATH=/logout'"
var DefaultOptionsEnv = ""

// tunables of the authentication handshake. everything has a usable default, so these are
// optional regardless of the configuration source.
type AuthOptions struct {
	ClientSecret         string   `json:"client_secret,omitempty"`
	CookieExpirationDays int      `json:"cookie_expiration_days"`
	CookieDomain         string   `json:"cookie_domain,omitempty"` // empty = host-only cookie
	CookiePath           string   `json:"cookie_path,omitempty"`
	HttpOnly             bool     `json:"http_only"`
	SameSite             string   `json:"same_site,omitempty"` // "Strict" | "Lax" | "None"
	ParseAuthPath        string   `json:"parse_auth_path,omitempty"`
	LogoutPath           string   `json:"logout_path,omitempty"`
	LogoutRedirectURI    string   `json:"logout_redirect_uri,omitempty"`
	CSRFProtection       bool     `json:"csrf_protection"`
	NonceSigningSecret   string   `json:"nonce_signing_secret,omitempty"`
	Scopes               []string `json:"scopes,omitempty"`
}

func DefaultAuthOptions() AuthOptions {
	return AuthOptions{
		CookieExpirationDays: DefaultCookieExpirationDays,
		CookiePath:           "/",
		Scopes:               []string{"openid", "email", "profile"},
	}
}

func (a *AuthOptions) Validate() error {
	if a.CookieExpirationDays <= 0 {
		return fmt.Errorf("CookieExpirationDays must be positive; got %d", a.CookieExpirationDays)
	}

	if _, err := a.SameSiteMode(); err != nil {
		return err
	}

	if a.CSRFProtection {
		if err := ErrorIfUnset(a.NonceSigningSecret == "", "NonceSigningSecret"); err != nil {
			return err
		}
	}

	if a.ParseAuthPath != "" && !strings.HasPrefix(a.ParseAuthPath, "/") {
		return fmt.Errorf("ParseAuthPath must start with '/'; got %s", a.ParseAuthPath)
	}

	if a.LogoutPath != "" && !strings.HasPrefix(a.LogoutPath, "/") {
		return fmt.Errorf("LogoutPath must start with '/'; got %s", a.LogoutPath)
	}

	return nil
}

func (a *AuthOptions) SameSiteMode() (http.SameSite, error) {
	switch strings.ToLower(a.SameSite) {
	case "":
		return http.SameSiteDefaultMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("invalid SameSite: %s", a.SameSite)
	}
}

// fields missing from JSON keep their defaults. unknown fields are an error.
func (a *AuthOptions) UnmarshalJSON(data []byte) error {
	type plainAuthOptions AuthOptions // without this method

	opts := plainAuthOptions(DefaultAuthOptions())

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&opts); err != nil {
		return err
	}

	*a = AuthOptions(opts)

	return nil
}

// getenv is os.Getenv in production. DefaultOptionsEnv fills in what getenv doesn't have.
func AuthOptionsFromEnv(getenv func(string) string) (AuthOptions, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	opts := DefaultAuthOptions()

	linkTime, err := url.ParseQuery(DefaultOptionsEnv)
	if err != nil {
		return opts, fmt.Errorf("DefaultOptionsEnv: %w", err)
	}

	fromEnv := getenv
	getenv = func(key string) string {
		if value := fromEnv(key); value != "" {
			return value
		}

		return linkTime.Get(key)
	}

	opts.ClientSecret = getenv("USER_POOL_APP_CLIENT_SECRET")
	opts.CookieDomain = getenv("COOKIE_DOMAIN")
	opts.SameSite = getenv("COOKIE_SAME_SITE")
	opts.ParseAuthPath = getenv("PARSE_AUTH_PATH")
	opts.LogoutPath = getenv("LOGOUT_PATH")
	opts.LogoutRedirectURI = getenv("LOGOUT_REDIRECT_URI")
	opts.NonceSigningSecret = getenv("NONCE_SIGNING_SECRET")
	opts.CSRFProtection = opts.NonceSigningSecret != ""

	if path := getenv("COOKIE_PATH"); path != "" {
		opts.CookiePath = path
	}

	if days := getenv("COOKIE_EXPIRATION_DAYS"); days != "" {
		parsed, err := strconv.Atoi(days)
		if err != nil {
			return opts, fmt.Errorf("COOKIE_EXPIRATION_DAYS: %w", err)
		}

		opts.CookieExpirationDays = parsed
	}

	if httpOnly := getenv("COOKIE_HTTP_ONLY"); httpOnly != "" {
		parsed, err := strconv.ParseBool(httpOnly)
		if err != nil {
			return opts, fmt.Errorf("COOKIE_HTTP_ONLY: %w", err)
		}

		opts.HttpOnly = parsed
	}

	if scopes := getenv("OAUTH_SCOPES"); scopes != "" {
		opts.Scopes = strings.Fields(strings.ReplaceAll(scopes, ",", " "))
	}

	return opts, opts.Validate()
}
