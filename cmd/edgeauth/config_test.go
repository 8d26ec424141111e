package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/function61/edgeauth/pkg/eaconfig"
	"github.com/function61/gokit/assert"
)

func TestConfigShow(t *testing.T) {
	t.Setenv("EDGEAUTH_CONFIG_SOURCE", "env")
	t.Setenv(eaconfig.EnvRegion, "eu-west-1")
	t.Setenv(eaconfig.EnvUserPoolId, "eu-west-1_pool123")
	t.Setenv(eaconfig.EnvUserPoolAppId, "app456")
	t.Setenv(eaconfig.EnvUserPoolDomain, "auth.example.com")
	t.Setenv("LOGOUT_PATH", "/logout")
	t.Setenv("PARSE_AUTH_PATH", "")
	t.Setenv("NONCE_SIGNING_SECRET", "")

	output := &bytes.Buffer{}
	assert.Ok(t, configShow(context.Background(), output))

	for _, expected := range []string{
		"eu-west-1_pool123",
		"app456",
		"https://auth.example.com",
		"https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_pool123/.well-known/jwks.json",
		"/logout",
		"false",
		"OK",
	} {
		assert.Assert(t, strings.Contains(output.String(), expected))
	}

	t.Setenv(eaconfig.EnvUserPoolDomain, "")

	output.Reset()
	assert.Ok(t, configShow(context.Background(), output))
	assert.Assert(t, strings.Contains(output.String(), "'UserPoolDomain' is required but not set"))
}

func TestConfigShowOriginHeaders(t *testing.T) {
	t.Setenv("EDGEAUTH_CONFIG_SOURCE", "origin_headers")

	err := configShow(context.Background(), io.Discard)
	assert.EqualString(t, err.Error(), "origin_headers configuration only exists in requests at the CDN edge")
}

type fakeS3Upload struct {
	region string
	bucket string
	key    string
	body   string
}

func (f *fakeS3Upload) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.bucket = *params.Bucket
	f.key = *params.Key
	f.body = string(body)

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3Upload) factory(_ context.Context, region string) (eaconfig.S3PutObjectAPI, error) {
	f.region = region
	return f, nil
}

func TestConfigUpload(t *testing.T) {
	store := &fakeS3Upload{}
	output := &bytes.Buffer{}

	assert.Ok(t, configUpload(context.Background(), "s3://eu-west-1/configs/edgeauth.json", strings.NewReader(`{
  "region": "eu-west-1",
  "user_pool_id": "eu-west-1_pool123",
  "user_pool_app_id": "app456",
  "user_pool_domain": "auth.example.com",
  "auth": {"logout_path": "/logout"}
}`), output, store.factory))

	assert.EqualString(t, output.String(), "uploaded s3://eu-west-1/configs/edgeauth.json\n")
	assert.EqualString(t, store.region, "eu-west-1")
	assert.EqualString(t, store.bucket, "configs")
	assert.EqualString(t, store.key, "edgeauth.json")
	assert.Assert(t, strings.Contains(store.body, `"user_pool_app_id": "app456"`))
	assert.Assert(t, strings.Contains(store.body, `"logout_path": "/logout"`))
}

func TestConfigUploadRejectsBadInput(t *testing.T) {
	upload := func(location string, content string) string {
		store := &fakeS3Upload{}

		err := configUpload(context.Background(), location, strings.NewReader(content), io.Discard, store.factory)
		assert.Assert(t, store.body == "")

		return err.Error()
	}

	assert.EqualString(t,
		upload("s3://eu-west-1/configs/edgeauth.json", `{"region": "eu-west-1", "typo": "x"}`),
		`JSON parsing failed: json: unknown field "typo"`)
	assert.EqualString(t,
		upload("s3://eu-west-1/configs/edgeauth.json", `{"region": "eu-west-1"}`),
		"'UserPoolId' is required but not set")
	assert.EqualString(t,
		upload("s3://eu-west-1/configs", `{}`),
		"expecting s3://region/bucket/key; got s3://eu-west-1/configs")
}

func TestConfigUploadClientError(t *testing.T) {
	err := configUpload(context.Background(), "s3://eu-west-1/configs/edgeauth.json", strings.NewReader(`{}`), io.Discard, func(_ context.Context, _ string) (eaconfig.S3PutObjectAPI, error) {
		return nil, errors.New("no credentials")
	})
	assert.EqualString(t, err.Error(), "no credentials")
}
