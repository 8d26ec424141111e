package eaconfig

import (
	"os"
)

const (
	EnvRegion         = "USER_POOL_REGION"
	EnvUserPoolId     = "USER_POOL_ID"
	EnvUserPoolAppId  = "USER_POOL_APP_CLIENT_ID"
	EnvUserPoolDomain = "USER_POOL_DOMAIN"
)

// reads the four coordinates from the environment. intentionally no validation here: missing
// values become empty fields and surface when the authenticator is constructed.
// getenv is os.Getenv in production.
func FromEnv(getenv func(string) string) Configuration {
	if getenv == nil {
		getenv = os.Getenv
	}

	return Configuration{
		Region:         getenv(EnvRegion),
		UserPoolId:     getenv(EnvUserPoolId),
		UserPoolAppId:  getenv(EnvUserPoolAppId),
		UserPoolDomain: getenv(EnvUserPoolDomain),
	}
}
