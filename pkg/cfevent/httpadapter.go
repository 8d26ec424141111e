package cfevent

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// makes an edge request out of a regular HTTP request, so the same authenticator can
// run inside our own HTTP server
func FromHTTPRequest(r *http.Request) *Request {
	headers := Headers{}
	for key, values := range r.Header {
		for _, value := range values {
			headers.Add(key, value)
		}
	}

	// Go moves Host out of the header map
	if r.Host != "" {
		headers.Set("Host", r.Host)
	}

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}

	return &Request{
		ClientIP:    clientIP,
		Headers:     headers,
		Method:      r.Method,
		QueryString: r.URL.RawQuery,
		URI:         r.URL.Path,
	}
}

// copies edge request's headers back to HTTP request (authenticators are allowed to modify
// headers on pass-through)
func ApplyHeaders(req *Request, r *http.Request) {
	r.Header = http.Header{}

	for _, values := range req.Headers {
		for _, header := range values {
			key := header.Key
			if key == "" {
				continue
			}

			if http.CanonicalHeaderKey(key) == "Host" {
				r.Host = header.Value
				continue
			}

			r.Header.Add(key, header.Value)
		}
	}
}

func WriteResponse(w http.ResponseWriter, res *Response) error {
	status, err := strconv.Atoi(res.Status)
	if err != nil {
		return fmt.Errorf("WriteResponse: invalid status '%s': %w", res.Status, err)
	}

	for _, values := range res.Headers {
		for _, header := range values {
			w.Header().Add(header.Key, header.Value)
		}
	}

	body := []byte(res.Body)
	if res.BodyEncoding == "base64" {
		body, err = base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return fmt.Errorf("WriteResponse: %w", err)
		}
	}

	w.WriteHeader(status)

	if len(body) == 0 {
		return nil
	}

	_, err = w.Write(body)
	return err
}
