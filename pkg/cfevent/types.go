// CloudFront edge function event data structures (viewer/origin request triggers)
package cfevent

import (
	"encoding/json"
	"errors"
	"strings"
)

// aws-lambda-go/events has no types for edge triggers, so the wire format lives here.
// https://docs.aws.amazon.com/AmazonCloudFront/latest/DeveloperGuide/lambda-event-structure.html

type Event struct {
	Records []Record `json:"Records"`
}

type Record struct {
	CF CF `json:"cf"`
}

type CF struct {
	Config   Config    `json:"config"`
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
}

type Config struct {
	DistributionDomainName string `json:"distributionDomainName,omitempty"`
	DistributionID         string `json:"distributionId,omitempty"`
	EventType              string `json:"eventType,omitempty"`
	RequestID              string `json:"requestId,omitempty"`
}

type Request struct {
	ClientIP    string  `json:"clientIp,omitempty"`
	Headers     Headers `json:"headers"`
	Method      string  `json:"method"`
	QueryString string  `json:"querystring"`
	URI         string  `json:"uri"`
	Origin      *Origin `json:"origin,omitempty"`
	Body        *Body   `json:"body,omitempty"`
}

type Body struct {
	InputTruncated bool   `json:"inputTruncated"`
	Action         string `json:"action,omitempty"`
	Encoding       string `json:"encoding"`
	Data           string `json:"data"`
}

type Origin struct {
	S3     *S3Origin     `json:"s3,omitempty"`
	Custom *CustomOrigin `json:"custom,omitempty"`
}

type S3Origin struct {
	AuthMethod    string  `json:"authMethod,omitempty"`
	CustomHeaders Headers `json:"customHeaders"`
	DomainName    string  `json:"domainName"`
	Path          string  `json:"path"`
	Region        string  `json:"region,omitempty"`
}

type CustomOrigin struct {
	CustomHeaders    Headers  `json:"customHeaders"`
	DomainName       string   `json:"domainName"`
	KeepaliveTimeout int      `json:"keepaliveTimeout,omitempty"`
	Path             string   `json:"path"`
	Port             int      `json:"port,omitempty"`
	Protocol         string   `json:"protocol,omitempty"`
	ReadTimeout      int      `json:"readTimeout,omitempty"`
	SslProtocols     []string `json:"sslProtocols,omitempty"`
}

type Response struct {
	Status            string  `json:"status"`
	StatusDescription string  `json:"statusDescription,omitempty"`
	Headers           Headers `json:"headers,omitempty"`
	Body              string  `json:"body,omitempty"`
	BodyEncoding      string  `json:"bodyEncoding,omitempty"` // "text" | "base64"
}

// Header as CloudFront represents it: Key keeps the original casing, while the map key of
// Headers is always lowercase
type Header struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

type Headers map[string][]Header

// returns first value or "" if header not present
func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}

	return values[0].Value
}

func (h Headers) Values(name string) []string {
	values := []string{}
	for _, header := range h[strings.ToLower(name)] {
		values = append(values, header.Value)
	}

	return values
}

func (h Headers) Set(name string, value string) {
	h[strings.ToLower(name)] = []Header{{Key: name, Value: value}}
}

func (h Headers) Add(name string, value string) {
	lowercased := strings.ToLower(name)
	h[lowercased] = append(h[lowercased], Header{Key: name, Value: value})
}

// Result is what the edge function hands back to the platform: either the (maybe modified)
// request which continues towards the origin, or a response generated at the edge.
type Result struct {
	Request  *Request
	Response *Response
}

func PassThrough(req *Request) *Result {
	return &Result{Request: req}
}

func Respond(res *Response) *Result {
	return &Result{Response: res}
}

func (r *Result) IsPassThrough() bool {
	return r.Request != nil
}

// platform expects the bare request or response object, not a wrapper
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Response != nil:
		return json.Marshal(r.Response)
	case r.Request != nil:
		return json.Marshal(r.Request)
	default:
		return nil, errors.New("empty result")
	}
}

// edge triggers always carry exactly one record
func (e *Event) SingleRequest() (*Request, error) {
	if len(e.Records) != 1 {
		return nil, errors.New("expected exactly one record in event")
	}

	req := e.Records[0].CF.Request
	if req == nil {
		return nil, errors.New("record does not contain a request")
	}

	return req, nil
}
