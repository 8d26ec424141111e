package eaconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/function61/gokit/envvar"
)

// where the configuration comes from. explicit deployment-level choice.
type Source string

const (
	SourceEnv           Source = "env"
	SourceOriginHeaders Source = "origin_headers"
	SourceS3            Source = "s3"
)

const (
	sourceEnvName   = "EDGEAUTH_CONFIG_SOURCE"
	s3LocationEnv   = "EDGEAUTH_CONFIG_S3"
	defaultFallback = SourceEnv
)

// edge functions can't have ENV variables, so deployments bake the source in at link time:
//
//	-ldflags "-X github.com/function61/edgeauth/pkg/eaconfig.DefaultSource=origin_headers"
var DefaultSource = string(defaultFallback)

// same for the s3 source's object, as s3://region/bucket/key
var DefaultS3Location = ""

func ParseSource(source string) (Source, error) {
	switch Source(source) {
	case SourceEnv, SourceOriginHeaders, SourceS3:
		return Source(source), nil
	default:
		return "", fmt.Errorf("unknown configuration source: %s", source)
	}
}

func SourceFromEnv() (Source, error) {
	if fromEnv := os.Getenv(sourceEnvName); fromEnv != "" {
		return ParseSource(fromEnv)
	}

	return ParseSource(DefaultSource)
}

// resolver for the source, and the handshake options to use with it. environment and S3
// sources are read once here, origin headers are read per request.
func Setup(ctx context.Context, source Source) (Resolver, AuthOptions, error) {
	switch source {
	case SourceEnv, SourceOriginHeaders:
		opts, err := AuthOptionsFromEnv(os.Getenv)
		if err != nil {
			return nil, AuthOptions{}, err
		}

		if source == SourceOriginHeaders {
			return OriginHeaders(), opts, nil
		}

		return Static(FromEnv(os.Getenv)), opts, nil
	case SourceS3:
		location, err := s3LocationFromEnv()
		if err != nil {
			return nil, AuthOptions{}, err
		}

		client, err := NewS3Client(ctx, location.Region)
		if err != nil {
			return nil, AuthOptions{}, err
		}

		return fromS3(ctx, client, *location, os.Getenv)
	default:
		return nil, AuthOptions{}, fmt.Errorf("unknown configuration source: %s", source)
	}
}

func fromS3(
	ctx context.Context,
	client S3GetObjectAPI,
	location S3Location,
	getenv func(string) string,
) (Resolver, AuthOptions, error) {
	obj, err := FromS3Object(ctx, client, location)
	if err != nil {
		return nil, AuthOptions{}, err
	}

	opts, err := obj.AuthOptions(getenv)
	if err != nil {
		return nil, AuthOptions{}, fmt.Errorf("%s: auth: %w", location.String(), err)
	}

	return Static(obj.Configuration), opts, nil
}

func s3LocationFromEnv() (*S3Location, error) {
	if os.Getenv(s3LocationEnv) == "" && DefaultS3Location != "" {
		return ParseS3Location(DefaultS3Location)
	}

	locationSerialized, err := envvar.Required(s3LocationEnv)
	if err != nil {
		return nil, err
	}

	return ParseS3Location(locationSerialized)
}
