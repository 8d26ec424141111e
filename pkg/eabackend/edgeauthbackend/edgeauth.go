// Runs an edge authenticator in front of a regular HTTP backend
package edgeauthbackend

import (
	"log"
	"net/http"

	"github.com/function61/edgeauth/pkg/authenticator"
	"github.com/function61/edgeauth/pkg/cfevent"
	"github.com/function61/gokit/httputils"
	"github.com/function61/gokit/logex"
)

type Outcome string

const (
	OutcomePassThrough Outcome = "pass"
	OutcomeResponded   Outcome = "respond"
	OutcomeError       Outcome = "error"
)

// observe is optional
func New(
	auth authenticator.Authenticator,
	authorizedBackend http.Handler,
	observe func(Outcome),
	logger *log.Logger,
) http.Handler {
	if observe == nil {
		observe = func(Outcome) {}
	}

	return &backend{
		auth:              auth,
		authorizedBackend: authorizedBackend,
		observe:           observe,
		logl:              logex.Levels(logger),
	}
}

type backend struct {
	auth              authenticator.Authenticator
	authorizedBackend http.Handler
	observe           func(Outcome)
	logl              *logex.Leveled
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := b.auth.Handle(r.Context(), cfevent.FromHTTPRequest(r))
	if err != nil {
		b.observe(OutcomeError)
		b.logl.Error.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		errorResponse(w, http.StatusBadGateway)
		return
	}

	if result == nil {
		result = &cfevent.Result{}
	}

	if result.IsPassThrough() {
		b.observe(OutcomePassThrough)

		// authenticator is allowed to modify headers on the way to origin
		cfevent.ApplyHeaders(result.Request, r)

		b.authorizedBackend.ServeHTTP(w, r)
		return
	}

	b.observe(OutcomeResponded)

	if result.Response == nil {
		b.logl.Error.Printf("%s %s: authenticator returned empty result", r.Method, r.URL.Path)
		errorResponse(w, http.StatusInternalServerError)
		return
	}

	if err := cfevent.WriteResponse(w, result.Response); err != nil {
		b.logl.Error.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		errorResponse(w, http.StatusInternalServerError)
	}
}

func errorResponse(w http.ResponseWriter, statusCode int) {
	httputils.NoCacheHeaders(w)
	httputils.Error(w, statusCode)
}
