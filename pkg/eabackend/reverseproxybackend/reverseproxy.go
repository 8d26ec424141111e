// Reverse proxies authorized traffic to the protected origin(s)
package reverseproxybackend

import (
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"

	"github.com/cozy/httpcache"
	"github.com/cozy/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
)

// using fork of gregjones/httpcache because the original caches 304 responses

type Options struct {
	Origins        []string
	PassHostHeader bool // origin sees the hostname from browser's address bar
	// for origins behind TLS with names we don't control
	TlsServerName string
	// responses are cached on disk under CacheDir (respecting cache headers)
	Caching  bool
	CacheDir string
	// forced on every request to origin
	HeadersToOrigin map[string]string
}

const (
	DefaultCacheDir = "/var/cache/edgeauth"
)

func New(id string, opts Options) (http.Handler, error) {
	originUrls, err := parseOriginUrls(opts.Origins) // guarantees >= 1 items
	if err != nil {
		return nil, fmt.Errorf("reverseproxybackend: %w", err)
	}

	transport, err := maybeWrapWithCache(id, opts, func() http.RoundTripper {
		if opts.TlsServerName != "" {
			return &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					ServerName: opts.TlsServerName,
				},
			}
		} else {
			return http.DefaultTransport
		}
	}())
	if err != nil {
		return nil, err
	}

	return &httputil.ReverseProxy{
		Transport: transport,
		Director: func(req *http.Request) {
			//nolint:gosec // Cryptographical randomness not required here
			originUrl := originUrls[rand.Intn(len(originUrls))]

			req.URL.Scheme = originUrl.Scheme // "http" | "https"
			req.URL.Host = originUrl.Host

			if !opts.PassHostHeader {
				req.Host = originUrl.Host
			}

			// origin's Path is normally empty, but can be used to add a prefix
			req.URL.Path = originUrl.Path + req.URL.Path

			for forcedHeaderKey, value := range opts.HeadersToOrigin {
				req.Header.Set(forcedHeaderKey, value)
			}
		},
	}, nil
}

func maybeWrapWithCache(
	id string,
	opts Options,
	inner http.RoundTripper,
) (http.RoundTripper, error) {
	if !opts.Caching {
		return inner, nil
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}

	cacheLocation := filepath.Join(cacheDir, id)

	if err := os.MkdirAll(cacheLocation, 0700); err != nil {
		return nil, fmt.Errorf("reverseproxybackend: %w", err)
	}

	diskCache := diskcache.NewWithDiskv(diskv.New(diskv.Options{
		BasePath:     cacheLocation,
		CacheSizeMax: 0, // only use the disk cache
	}))

	cache := httpcache.NewTransport(diskCache)
	cache.Transport = inner
	cache.MarkCachedResponses = true // X-From-Cache header

	return cache, nil
}

func parseOriginUrls(originUrlStrs []string) ([]url.URL, error) {
	originUrls := []url.URL{}

	for _, originUrlStr := range originUrlStrs {
		originUrl, err := url.Parse(originUrlStr)
		if err != nil {
			return nil, err
		}

		if originUrl.Scheme == "" || originUrl.Host == "" {
			return nil, fmt.Errorf("origin must be absolute URL; got %s", originUrlStr)
		}

		originUrls = append(originUrls, *originUrl)
	}

	if len(originUrls) == 0 {
		return nil, errors.New("empty origin list")
	}

	return originUrls, nil
}
