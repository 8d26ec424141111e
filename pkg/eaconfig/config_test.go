package eaconfig

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/function61/edgeauth/pkg/cfevent"
	"github.com/function61/gokit/assert"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestFromEnv(t *testing.T) {
	conf := FromEnv(envFrom(map[string]string{
		"USER_POOL_REGION":        "us-east-1",
		"USER_POOL_ID":            "pool123",
		"USER_POOL_APP_CLIENT_ID": "app456",
		"USER_POOL_DOMAIN":        "auth.example.com",
	}))

	assert.Assert(t, conf == Configuration{
		Region:         "us-east-1",
		UserPoolId:     "pool123",
		UserPoolAppId:  "app456",
		UserPoolDomain: "auth.example.com",
	})
	assert.Ok(t, conf.Validate())
}

func TestFromEnvDefersValidation(t *testing.T) {
	conf := FromEnv(envFrom(map[string]string{
		"USER_POOL_REGION": "us-east-1",
	}))

	assert.EqualString(t, conf.UserPoolId, "")
	assert.EqualString(t, conf.Validate().Error(), "'UserPoolId' is required but not set")
}

func TestStaticResolver(t *testing.T) {
	conf := Configuration{"eu-west-1", "p", "a", "d"}

	resolved, err := Static(conf).Resolve(context.Background(), nil)
	assert.Ok(t, err)
	assert.Assert(t, resolved == conf)
}

func TestDerivedURLs(t *testing.T) {
	conf := Configuration{
		Region:         "us-east-1",
		UserPoolId:     "us-east-1_pool123",
		UserPoolAppId:  "app456",
		UserPoolDomain: "auth.example.com",
	}

	assert.EqualString(t, conf.Issuer(), "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_pool123")
	assert.EqualString(t, conf.JwksURL(), "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_pool123/.well-known/jwks.json")
	assert.EqualString(t, conf.DomainURL(), "https://auth.example.com")

	conf.UserPoolDomain = "https://auth.example.com/"
	assert.EqualString(t, conf.DomainURL(), "https://auth.example.com")

	other := conf
	assert.EqualString(t, conf.Digest(), other.Digest())
	other.UserPoolAppId = "different"
	assert.Assert(t, conf.Digest() != other.Digest())
}

func TestParseSource(t *testing.T) {
	for _, valid := range []string{"env", "origin_headers", "s3"} {
		source, err := ParseSource(valid)
		assert.Ok(t, err)
		assert.EqualString(t, string(source), valid)
	}

	_, err := ParseSource("both")
	assert.EqualString(t, err.Error(), "unknown configuration source: both")
}

func TestParseS3Location(t *testing.T) {
	location, err := ParseS3Location("s3://eu-central-1/mybucket/edgeauth/prod.json")
	assert.Ok(t, err)
	assert.EqualString(t, location.Region, "eu-central-1")
	assert.EqualString(t, location.Bucket, "mybucket")
	assert.EqualString(t, location.Key, "edgeauth/prod.json")
	assert.EqualString(t, location.String(), "s3://eu-central-1/mybucket/edgeauth/prod.json")

	_, err = ParseS3Location("s3://eu-central-1/mybucket")
	assert.EqualString(t, err.Error(), "expecting s3://region/bucket/key; got s3://eu-central-1/mybucket")

	_, err = ParseS3Location("https://eu-central-1/mybucket/key")
	assert.EqualString(t, err.Error(), "unsupported scheme: https")
}

type fakeS3 struct {
	content string
	err     error
	put     *s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.put = params
	f.content = string(body)

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewBufferString(f.content)),
	}, nil
}

func TestFromS3Object(t *testing.T) {
	location := S3Location{Region: "us-east-1", Bucket: "b", Key: "conf.json"}

	obj, err := FromS3Object(context.Background(), &fakeS3{content: `{
  "region": "us-east-1",
  "user_pool_id": "pool123",
  "user_pool_app_id": "app456",
  "user_pool_domain": "auth.example.com"
}`}, location)
	assert.Ok(t, err)
	assert.Assert(t, obj.Configuration == Configuration{"us-east-1", "pool123", "app456", "auth.example.com"})
	assert.Assert(t, obj.Auth == nil)

	_, err = FromS3Object(context.Background(), &fakeS3{content: `{"region": "us-east-1", "typo": "x"}`}, location)
	assert.EqualString(t, err.Error(), `FromS3Object: s3://us-east-1/b/conf.json: JSON parsing failed: json: unknown field "typo"`)

	_, err = FromS3Object(context.Background(), &fakeS3{err: &smithy.GenericAPIError{Code: "NoSuchKey"}}, location)
	assert.Assert(t, errors.Is(err, ErrConfigObjectNotFound))
	assert.EqualString(t, err.Error(), "s3://us-east-1/b/conf.json: configuration object not found")
}

func TestS3ObjectWithAuthSection(t *testing.T) {
	location := S3Location{Region: "us-east-1", Bucket: "b", Key: "conf.json"}

	store := &fakeS3{content: `{
  "region": "us-east-1",
  "user_pool_id": "pool123",
  "user_pool_app_id": "app456",
  "user_pool_domain": "auth.example.com",
  "auth": {
    "client_secret": "hunter2",
    "parse_auth_path": "/_auth",
    "logout_path": "/logout",
    "csrf_protection": true,
    "nonce_signing_secret": "s3cr3t"
  }
}`}

	// ENV is not consulted when the object has options
	resolver, opts, err := fromS3(context.Background(), store, location, envFrom(map[string]string{
		"LOGOUT_PATH": "/from-env",
	}))
	assert.Ok(t, err)
	assert.EqualString(t, opts.ClientSecret, "hunter2")
	assert.EqualString(t, opts.ParseAuthPath, "/_auth")
	assert.EqualString(t, opts.LogoutPath, "/logout")
	assert.Assert(t, opts.CSRFProtection)
	// unmentioned fields keep defaults
	assert.Assert(t, opts.CookieExpirationDays == 365)
	assert.EqualString(t, opts.CookiePath, "/")
	assert.Assert(t, len(opts.Scopes) == 3)

	conf, err := resolver.Resolve(context.Background(), nil)
	assert.Ok(t, err)
	assert.EqualString(t, conf.UserPoolAppId, "app456")

	// without "auth" options come from ENV
	_, opts, err = fromS3(context.Background(), &fakeS3{content: `{"region": "us-east-1"}`}, location, envFrom(map[string]string{
		"LOGOUT_PATH": "/from-env",
	}))
	assert.Ok(t, err)
	assert.EqualString(t, opts.LogoutPath, "/from-env")

	_, _, err = fromS3(context.Background(), &fakeS3{content: `{"auth": {"logout_pth": "/logout"}}`}, location, envFrom(nil))
	assert.EqualString(t, err.Error(), `FromS3Object: s3://us-east-1/b/conf.json: JSON parsing failed: json: unknown field "logout_pth"`)

	_, _, err = fromS3(context.Background(), &fakeS3{content: `{"auth": {"csrf_protection": true}}`}, location, envFrom(nil))
	assert.EqualString(t, err.Error(), "s3://us-east-1/b/conf.json: auth: 'NonceSigningSecret' is required but not set")
}

func TestUploadToS3(t *testing.T) {
	location := S3Location{Region: "eu-west-1", Bucket: "configs", Key: "edgeauth/docs.json"}
	obj := ConfigObject{
		Configuration: Configuration{
			Region:         "eu-west-1",
			UserPoolId:     "pool123",
			UserPoolAppId:  "app456",
			UserPoolDomain: "auth.example.com",
		},
	}

	store := &fakeS3{}

	assert.Ok(t, UploadToS3(context.Background(), store, location, obj))
	assert.EqualString(t, *store.put.Bucket, "configs")
	assert.EqualString(t, *store.put.Key, "edgeauth/docs.json")
	assert.EqualString(t, *store.put.ContentType, "application/json")

	// what was stored reads back identically
	readBack, err := FromS3Object(context.Background(), store, location)
	assert.Ok(t, err)
	assert.Assert(t, readBack.Configuration == obj.Configuration)
	assert.Assert(t, readBack.Auth == nil)

	opts := DefaultAuthOptions()
	opts.LogoutPath = "/logout"
	obj.Auth = &opts

	assert.Ok(t, UploadToS3(context.Background(), store, location, obj))

	readBack, err = FromS3Object(context.Background(), store, location)
	assert.Ok(t, err)
	assert.EqualString(t, readBack.Auth.LogoutPath, "/logout")

	opts.LogoutPath = "logout"
	assert.EqualString(t, UploadToS3(context.Background(), &fakeS3{}, location, obj).Error(), "LogoutPath must start with '/'; got logout")

	obj.Auth = nil
	obj.UserPoolDomain = ""
	assert.EqualString(t, UploadToS3(context.Background(), &fakeS3{}, location, obj).Error(), "'UserPoolDomain' is required but not set")
}

func TestOriginHeaders(t *testing.T) {
	s3Origin := func(headers cfevent.Headers) *cfevent.Request {
		return &cfevent.Request{
			Headers: cfevent.Headers{},
			Origin: &cfevent.Origin{
				S3: &cfevent.S3Origin{CustomHeaders: headers},
			},
		}
	}

	allHeaders := func() cfevent.Headers {
		return cfevent.Headers{
			"x-user-pool-region":        {{Key: "X-User-Pool-Region", Value: "us-east-1"}, {Key: "X-User-Pool-Region", Value: "ignored"}},
			"x-user-pool-id":            {{Key: "X-User-Pool-Id", Value: "pool123"}},
			"x-user-pool-app-client-id": {{Key: "X-User-Pool-App-Client-Id", Value: "app456"}},
			"x-user-pool-domain":        {{Key: "X-User-Pool-Domain", Value: "auth.example.com"}},
		}
	}

	conf, err := OriginHeaders().Resolve(context.Background(), s3Origin(allHeaders()))
	assert.Ok(t, err)
	assert.Assert(t, conf == Configuration{"us-east-1", "pool123", "app456", "auth.example.com"})

	for _, missing := range []string{
		"x-user-pool-region",
		"x-user-pool-id",
		"x-user-pool-app-client-id",
		"x-user-pool-domain",
	} {
		t.Run(missing, func(t *testing.T) {
			headers := allHeaders()
			delete(headers, missing)

			_, err := OriginHeaders().Resolve(context.Background(), s3Origin(headers))
			assert.Assert(t, errors.Is(err, ErrMissingConfigField))

			var missingErr *MissingFieldError
			assert.Assert(t, errors.As(err, &missingErr))
			assert.EqualString(t, missingErr.Header, missing)
		})
	}

	emptyList := allHeaders()
	emptyList["x-user-pool-domain"] = []cfevent.Header{}
	_, err = OriginHeaders().Resolve(context.Background(), s3Origin(emptyList))
	assert.EqualString(t, err.Error(), "missing configuration field: origin custom header 'x-user-pool-domain'")

	_, err = OriginHeaders().Resolve(context.Background(), &cfevent.Request{})
	assert.EqualString(t, err.Error(), "request has no S3 origin (needs origin-request trigger): missing configuration field")
}

func TestAuthOptionsFromEnv(t *testing.T) {
	opts, err := AuthOptionsFromEnv(envFrom(map[string]string{}))
	assert.Ok(t, err)
	assert.Assert(t, opts.CookieExpirationDays == 365)
	assert.EqualString(t, opts.CookiePath, "/")
	assert.Assert(t, !opts.CSRFProtection)
	assert.Assert(t, len(opts.Scopes) == 3)

	opts, err = AuthOptionsFromEnv(envFrom(map[string]string{
		"COOKIE_EXPIRATION_DAYS": "30",
		"COOKIE_HTTP_ONLY":       "true",
		"COOKIE_SAME_SITE":       "Strict",
		"NONCE_SIGNING_SECRET":   "s3cr3t",
		"OAUTH_SCOPES":           "openid, email",
	}))
	assert.Ok(t, err)
	assert.Assert(t, opts.CookieExpirationDays == 30)
	assert.Assert(t, opts.HttpOnly)
	assert.Assert(t, opts.CSRFProtection)
	assert.Assert(t, len(opts.Scopes) == 2)
	assert.EqualString(t, opts.Scopes[1], "email")

	_, err = AuthOptionsFromEnv(envFrom(map[string]string{"COOKIE_SAME_SITE": "sometimes"}))
	assert.EqualString(t, err.Error(), "invalid SameSite: sometimes")

	_, err = AuthOptionsFromEnv(envFrom(map[string]string{"LOGOUT_PATH": "logout"}))
	assert.EqualString(t, err.Error(), "LogoutPath must start with '/'; got logout")

	_, err = AuthOptionsFromEnv(envFrom(map[string]string{"COOKIE_EXPIRATION_DAYS": "0"}))
	assert.EqualString(t, err.Error(), "CookieExpirationDays must be positive; got 0")
}

func TestAuthOptionsLinkTimeDefaults(t *testing.T) {
	defer func(prev string) { DefaultOptionsEnv = prev }(DefaultOptionsEnv)

	DefaultOptionsEnv = "PARSE_AUTH_PATH=/_auth&LOGOUT_PATH=/logout&NONCE_SIGNING_SECRET=s3cr3t"

	opts, err := AuthOptionsFromEnv(envFrom(map[string]string{
		"LOGOUT_PATH": "/signout", // ENV wins
	}))
	assert.Ok(t, err)
	assert.EqualString(t, opts.ParseAuthPath, "/_auth")
	assert.EqualString(t, opts.LogoutPath, "/signout")
	assert.Assert(t, opts.CSRFProtection)

	DefaultOptionsEnv = "PARSE_AUTH_PATH=%zz"

	_, err = AuthOptionsFromEnv(envFrom(nil))
	assert.EqualString(t, err.Error(), `DefaultOptionsEnv: invalid URL escape "%zz"`)
}

func TestS3LocationLinkTimeDefault(t *testing.T) {
	defer func(prev string) { DefaultS3Location = prev }(DefaultS3Location)

	t.Setenv(s3LocationEnv, "")

	_, err := s3LocationFromEnv()
	assert.EqualString(t, err.Error(), "ENV not defined: EDGEAUTH_CONFIG_S3")

	DefaultS3Location = "s3://eu-west-1/configs/edgeauth.json"

	location, err := s3LocationFromEnv()
	assert.Ok(t, err)
	assert.EqualString(t, location.String(), "s3://eu-west-1/configs/edgeauth.json")

	t.Setenv(s3LocationEnv, "s3://us-east-1/other/edgeauth.json")

	location, err = s3LocationFromEnv()
	assert.Ok(t, err)
	assert.EqualString(t, location.Bucket, "other")
}
