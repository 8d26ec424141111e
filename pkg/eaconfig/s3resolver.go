package eaconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/function61/gokit/jsonfile"
)

var ErrConfigObjectNotFound = errors.New("configuration object not found")

// s3://region/bucket/key
type S3Location struct {
	Region string
	Bucket string
	Key    string
}

func (s S3Location) String() string {
	return fmt.Sprintf("s3://%s/%s/%s", s.Region, s.Bucket, s.Key)
}

func ParseS3Location(location string) (*S3Location, error) {
	urlParts, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	if urlParts.Scheme != "s3" {
		return nil, fmt.Errorf("unsupported scheme: %s", urlParts.Scheme)
	}

	// "/bucket/path/to/config.json" => ["bucket", "path/to/config.json"]
	bucketAndKey := strings.SplitN(strings.TrimLeft(urlParts.Path, "/"), "/", 2)
	if len(bucketAndKey) != 2 || bucketAndKey[0] == "" || bucketAndKey[1] == "" {
		return nil, fmt.Errorf("expecting s3://region/bucket/key; got %s", location)
	}

	if urlParts.Host == "" {
		return nil, fmt.Errorf("region missing from %s", location)
	}

	return &S3Location{
		Region: urlParts.Host,
		Bucket: bucketAndKey[0],
		Key:    bucketAndKey[1],
	}, nil
}

// subset of *s3.Client we use
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	awsConf, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("NewS3Client: %w", err)
	}

	return s3.NewFromConfig(awsConf), nil
}

// document stored in S3. pool configuration at the top level, optionally with handshake options
// under "auth" (edge functions have no ENV to read them from).
type ConfigObject struct {
	Configuration
	Auth *AuthOptions `json:"auth,omitempty"`
}

func (c *ConfigObject) Validate() error {
	if err := c.Configuration.Validate(); err != nil {
		return err
	}

	if c.Auth != nil {
		return c.Auth.Validate()
	}

	return nil
}

// "auth" section if the object has one, otherwise from ENV (see AuthOptionsFromEnv)
func (c *ConfigObject) AuthOptions(getenv func(string) string) (AuthOptions, error) {
	if c.Auth == nil {
		return AuthOptionsFromEnv(getenv)
	}

	return *c.Auth, c.Auth.Validate()
}

// loads a JSON-serialized ConfigObject. pool configuration is not validated here, same as with
// the environment-sourced variant.
func FromS3Object(ctx context.Context, client S3GetObjectAPI, location S3Location) (*ConfigObject, error) {
	res, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(location.Bucket),
		Key:    aws.String(location.Key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", location.String(), ErrConfigObjectNotFound)
		}

		return nil, fmt.Errorf("FromS3Object: GetObject: %w", err)
	}
	defer res.Body.Close()

	obj := &ConfigObject{}
	if err := jsonfile.Unmarshal(res.Body, obj, true); err != nil {
		return nil, fmt.Errorf("FromS3Object: %s: %w", location.String(), err)
	}

	return obj, nil
}

// counterpart of FromS3Object. unlike reading, only valid configuration can be stored.
func UploadToS3(ctx context.Context, client S3PutObjectAPI, location S3Location, obj ConfigObject) error {
	if err := obj.Validate(); err != nil {
		return err
	}

	asJSON := &bytes.Buffer{}
	if err := jsonfile.Marshal(asJSON, obj); err != nil {
		return err
	}

	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(location.Bucket),
		Key:         aws.String(location.Key),
		Body:        bytes.NewReader(asJSON.Bytes()),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("UploadToS3: PutObject: %w", err)
	}

	return nil
}
