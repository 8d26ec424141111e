// Edge function that requires sign-in before a request reaches the origin.
//
// Attach as origin-request trigger when using the origin_headers configuration source: only
// origin-request events carry the origin's custom headers. With env or s3 sources baked in at
// link time (see eaconfig.DefaultSource) viewer-request works too, and also covers cache hits.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/function61/edgeauth/pkg/edgehandler"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
)

func main() {
	logger := logex.StandardLogger()

	handler, err := edgehandler.FromEnv(context.Background(), logger)
	osutil.ExitIfError(err)

	lambda.Start(handler.Invoke)
}
