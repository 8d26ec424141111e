package cognitoauth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/function61/gokit/mac"
)

// travels through the identity provider in the "state" parameter
type authState struct {
	RedirectPath string `json:"r"`
	Nonce        string `json:"n,omitempty"` // only with CSRF protection
}

func encodeState(state authState) string {
	asJSON, err := json.Marshal(state)
	if err != nil { // cannot happen with only string fields
		panic(err)
	}

	return base64.RawURLEncoding.EncodeToString(asJSON)
}

func decodeState(encoded string) (*authState, error) {
	if encoded == "" {
		return nil, errors.New("missing state")
	}

	asJSON, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("malformed state")
	}

	state := &authState{}
	if err := json.Unmarshal(asJSON, state); err != nil {
		return nil, errors.New("malformed state")
	}

	return state, nil
}

// state comes back from the outside world, so it must not be able to send the user
// to another site ("//evil.com" is protocol-relative)
func safeRedirectPath(path string) string {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return "/"
	}

	return path
}

// nonce in state must equal the nonce cookie, and the cookie must carry our signature
// (so a nonce planted by a sibling subdomain isn't accepted)
func verifyNonce(secret string, stateNonce string, cookies requestCookies) error {
	cookieNonce := cookies.value(nonceCookieName)
	cookieHmac := cookies.value(nonceHmacCookieName)

	switch {
	case stateNonce == "" || cookieNonce == "":
		return errors.New("missing nonce")
	case stateNonce != cookieNonce:
		return errors.New("nonce mismatch")
	case mac.New(secret, cookieNonce).Authenticate(cookieHmac) != nil:
		return errors.New("nonce signature mismatch")
	default:
		return nil
	}
}
