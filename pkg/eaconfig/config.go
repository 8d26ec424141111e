// Identity provider coordinates and authenticator options
package eaconfig

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/function61/edgeauth/pkg/cfevent"
)

// coordinates of the hosted user pool. immutable once resolved.
type Configuration struct {
	Region         string `json:"region"`
	UserPoolId     string `json:"user_pool_id"`
	UserPoolAppId  string `json:"user_pool_app_id"`
	UserPoolDomain string `json:"user_pool_domain"`
}

// all four fields must be set before an authenticator can be constructed
func (c *Configuration) Validate() error {
	return FirstError(
		ErrorIfUnset(c.Region == "", "Region"),
		ErrorIfUnset(c.UserPoolId == "", "UserPoolId"),
		ErrorIfUnset(c.UserPoolAppId == "", "UserPoolAppId"),
		ErrorIfUnset(c.UserPoolDomain == "", "UserPoolDomain"),
	)
}

// stable across processes. used for caching authenticators per configuration.
func (c Configuration) Digest() string {
	asJSON, err := json.Marshal(c)
	if err != nil { // cannot happen with only string fields
		panic(err)
	}

	return fmt.Sprintf("%x", sha256.Sum256(asJSON))
}

// "iss" claim of tokens the pool issues
func (c Configuration) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolId)
}

func (c Configuration) JwksURL() string {
	return c.Issuer() + "/.well-known/jwks.json"
}

// user pool domain can be given with or without scheme
func (c Configuration) DomainURL() string {
	if strings.HasPrefix(c.UserPoolDomain, "https://") || strings.HasPrefix(c.UserPoolDomain, "http://") {
		return strings.TrimRight(c.UserPoolDomain, "/")
	}

	return "https://" + strings.TrimRight(c.UserPoolDomain, "/")
}

func (c Configuration) Describe() string {
	return fmt.Sprintf("%s/%s (app=%s, domain=%s)", c.Region, c.UserPoolId, c.UserPoolAppId, c.UserPoolDomain)
}

// produces the configuration that applies to a request
type Resolver interface {
	Resolve(ctx context.Context, req *cfevent.Request) (Configuration, error)
}

type staticResolver struct {
	conf Configuration
}

// same configuration for every request, resolved once at process start
func Static(conf Configuration) Resolver {
	return &staticResolver{conf}
}

func (s *staticResolver) Resolve(_ context.Context, _ *cfevent.Request) (Configuration, error) {
	return s.conf, nil
}

func ErrorIfUnset(isUnset bool, fieldName string) error {
	if isUnset {
		return fmt.Errorf("'%s' is required but not set", fieldName)
	} else {
		return nil
	}
}

func FirstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}
