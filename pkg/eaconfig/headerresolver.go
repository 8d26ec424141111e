package eaconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/function61/edgeauth/pkg/cfevent"
)

const (
	HeaderRegion         = "x-user-pool-region"
	HeaderUserPoolId     = "x-user-pool-id"
	HeaderUserPoolAppId  = "x-user-pool-app-client-id"
	HeaderUserPoolDomain = "x-user-pool-domain"
)

var ErrMissingConfigField = errors.New("missing configuration field")

// names the origin custom header that was absent. matches ErrMissingConfigField with errors.Is()
type MissingFieldError struct {
	Header string
}

func (m *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: origin custom header '%s'", ErrMissingConfigField.Error(), m.Header)
}

func (m *MissingFieldError) Unwrap() error {
	return ErrMissingConfigField
}

type originHeadersResolver struct{}

// configuration travels with each request as custom headers of the distribution's S3 origin.
// there is no process-wide state.
func OriginHeaders() Resolver {
	return originHeadersResolver{}
}

func (originHeadersResolver) Resolve(_ context.Context, req *cfevent.Request) (Configuration, error) {
	if req == nil || req.Origin == nil || req.Origin.S3 == nil {
		return Configuration{}, fmt.Errorf("request has no S3 origin (needs origin-request trigger): %w", ErrMissingConfigField)
	}

	headers := req.Origin.S3.CustomHeaders

	// first value of each list. absent header (or empty list) is an error, never a default
	first := func(name string) (string, error) {
		values := headers[name]
		if len(values) == 0 {
			return "", &MissingFieldError{Header: name}
		}

		return values[0].Value, nil
	}

	region, err := first(HeaderRegion)
	if err != nil {
		return Configuration{}, err
	}

	userPoolId, err := first(HeaderUserPoolId)
	if err != nil {
		return Configuration{}, err
	}

	userPoolAppId, err := first(HeaderUserPoolAppId)
	if err != nil {
		return Configuration{}, err
	}

	userPoolDomain, err := first(HeaderUserPoolDomain)
	if err != nil {
		return Configuration{}, err
	}

	return Configuration{
		Region:         region,
		UserPoolId:     userPoolId,
		UserPoolAppId:  userPoolAppId,
		UserPoolDomain: userPoolDomain,
	}, nil
}
