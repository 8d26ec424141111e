package cognitoauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kataras/jwt"
	"golang.org/x/sync/singleflight"
)

const (
	jwksCacheTTL = 1 * time.Hour
	// unknown kid can refetch at most this often, so garbage tokens can't make us hammer the pool
	jwksMinRefreshInterval = 1 * time.Minute
)

var errKeysUnavailable = errors.New("signing keys unavailable")

// public keys the user pool signs its tokens with
type keySource interface {
	Keys(ctx context.Context) (jwt.Keys, error)
	// fetches again (if not fetched very recently). used when a token names a kid we don't know.
	Refresh(ctx context.Context) (jwt.Keys, error)
}

// pool rotates keys rarely, and every edge instance fetching keys on every request would be
// slow. fetches are collapsed so a cold instance under load does only one.
type jwksKeySource struct {
	url                string
	ttl                time.Duration
	minRefreshInterval time.Duration
	fetch              func(url string) (jwt.Keys, error)
	fetches            singleflight.Group
	mu                 sync.Mutex
	cached             jwt.Keys
	fetchedAt          time.Time
	attemptedAt        time.Time // last forced refetch
}

// client should have a timeout. a hung fetch would otherwise hold the collapsed flight forever.
func newJwksKeySource(url string, client *http.Client) *jwksKeySource {
	if client == nil {
		client = http.DefaultClient
	}

	return &jwksKeySource{
		url:                url,
		ttl:                jwksCacheTTL,
		minRefreshInterval: jwksMinRefreshInterval,
		fetch: func(url string) (jwt.Keys, error) {
			set, err := jwt.FetchJWKS(client, url)
			if err != nil {
				return nil, err
			}

			return set.PublicKeys(), nil
		},
	}
}

func (j *jwksKeySource) Keys(ctx context.Context) (jwt.Keys, error) {
	if keys := j.fromCache(); keys != nil {
		return keys, nil
	}

	return j.fetchCollapsed(ctx)
}

func (j *jwksKeySource) Refresh(ctx context.Context) (jwt.Keys, error) {
	j.mu.Lock()
	tooSoon := time.Since(j.attemptedAt) < j.minRefreshInterval
	if !tooSoon {
		j.attemptedAt = time.Now()
	}
	cached := j.cached
	j.mu.Unlock()

	if tooSoon {
		if cached != nil {
			return cached, nil
		}

		return j.Keys(ctx)
	}

	return j.fetchCollapsed(ctx)
}

func (j *jwksKeySource) fetchCollapsed(ctx context.Context) (jwt.Keys, error) {
	result := j.fetches.DoChan(j.url, func() (interface{}, error) {
		keys, err := j.fetch(j.url)
		if err != nil {
			return nil, err
		}

		j.mu.Lock()
		defer j.mu.Unlock()

		j.cached = keys
		j.fetchedAt = time.Now()

		return keys, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errKeysUnavailable, ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errKeysUnavailable, j.url, res.Err)
		}

		return res.Val.(jwt.Keys), nil
	}
}

func (j *jwksKeySource) fromCache() jwt.Keys {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cached == nil || time.Since(j.fetchedAt) > j.ttl {
		return nil
	}

	return j.cached
}

type staticKeySource struct {
	keys jwt.Keys
}

func (s *staticKeySource) Keys(_ context.Context) (jwt.Keys, error) {
	return s.keys, nil
}

func (s *staticKeySource) Refresh(ctx context.Context) (jwt.Keys, error) {
	return s.Keys(ctx)
}
