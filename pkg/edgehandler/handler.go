// Edge function entrypoint: resolves configuration and delegates the request to an authenticator
package edgehandler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/function61/edgeauth/pkg/authenticator"
	"github.com/function61/edgeauth/pkg/cfevent"
	"github.com/function61/edgeauth/pkg/cognitoauth"
	"github.com/function61/edgeauth/pkg/eaconfig"
	"github.com/function61/gokit/logex"
)

const (
	maxCachedAuthenticators = 16
)

var _ authenticator.Authenticator = (*Handler)(nil)

type Handler struct {
	resolver       eaconfig.Resolver
	factory        authenticator.Factory
	authenticators *authenticatorCache
	logl           *logex.Leveled
}

func New(resolver eaconfig.Resolver, factory authenticator.Factory, logger *log.Logger) *Handler {
	return &Handler{
		resolver:       resolver,
		factory:        factory,
		authenticators: newAuthenticatorCache(),
		logl:           logex.Levels(logger),
	}
}

// wires the configuration source, authenticator options and the user pool authenticator from ENV
func FromEnv(ctx context.Context, logger *log.Logger) (*Handler, error) {
	source, err := eaconfig.SourceFromEnv()
	if err != nil {
		return nil, err
	}

	resolver, opts, err := eaconfig.Setup(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("configuration source %s: %w", source, err)
	}

	logex.Levels(logger).Info.Printf("configuration source: %s", source)

	return New(resolver, cognitoauth.Factory(opts, logex.Prefix("cognitoauth", logger)), logger), nil
}

// one event in, one result out. the request reaches the authenticator unmodified and
// its result is returned as-is. all errors go to the platform.
func (h *Handler) Invoke(ctx context.Context, event cfevent.Event) (*cfevent.Result, error) {
	req, err := event.SingleRequest()
	if err != nil {
		return nil, err
	}

	return h.Handle(ctx, req)
}

// makes the handler usable as an authenticator outside of the edge (the HTTP gateway)
func (h *Handler) Handle(ctx context.Context, req *cfevent.Request) (*cfevent.Result, error) {
	conf, err := h.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolve configuration: %w", err)
	}

	auth, err := h.authenticatorFor(conf)
	if err != nil {
		return nil, err
	}

	return auth.Handle(ctx, req)
}

func (h *Handler) authenticatorFor(conf eaconfig.Configuration) (authenticator.Authenticator, error) {
	digest := conf.Digest()

	if cached := h.authenticators.Find(digest); cached != nil {
		return cached, nil
	}

	auth, err := h.factory(conf)
	if err != nil {
		return nil, fmt.Errorf("construct authenticator: %w", err)
	}

	h.logl.Debug.Printf("new authenticator for %s", conf.Describe())

	h.authenticators.Store(digest, auth)

	return auth, nil
}

// constructing an authenticator means fetching signing keys later on, so with per-request
// configuration we only make a new instance if configuration changed.
// platform may invoke concurrently within one process, hence locking.
type authenticatorCache struct {
	perDigest map[string]authenticator.Authenticator
	mu        sync.Mutex
}

func newAuthenticatorCache() *authenticatorCache {
	return &authenticatorCache{
		perDigest: map[string]authenticator.Authenticator{},
	}
}

func (a *authenticatorCache) Find(digest string) authenticator.Authenticator {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.perDigest[digest]
}

func (a *authenticatorCache) Store(digest string, auth authenticator.Authenticator) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// distributions rarely have more than a few configurations. dropping everything is fine.
	if len(a.perDigest) >= maxCachedAuthenticators {
		a.perDigest = map[string]authenticator.Authenticator{}
	}

	a.perDigest[digest] = auth
}
