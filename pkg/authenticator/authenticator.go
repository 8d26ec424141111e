// Authenticator decides, per edge request, whether to pass it to origin or answer at the edge
package authenticator

import (
	"context"

	"github.com/function61/edgeauth/pkg/cfevent"
	"github.com/function61/edgeauth/pkg/eaconfig"
)

// result is one of:
// - pass-through (caller holds a valid session)
// - redirect (to login, back from login, after refresh or logout)
// - rejection
//
// error means the request could not be processed at all, and is for the platform to handle.
type Authenticator interface {
	Handle(ctx context.Context, req *cfevent.Request) (*cfevent.Result, error)
}

// constructs an authenticator for resolved configuration
type Factory func(conf eaconfig.Configuration) (Authenticator, error)

// adapter to allow use of ordinary functions as authenticators
type Func func(ctx context.Context, req *cfevent.Request) (*cfevent.Result, error)

func (f Func) Handle(ctx context.Context, req *cfevent.Request) (*cfevent.Result, error) {
	return f(ctx, req)
}
