package main

import (
	"context"
	"fmt"
	"os"

	"github.com/function61/edgeauth/pkg/ealambdacli"
	"github.com/function61/edgeauth/pkg/easerver"
	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/gokit/taskrunner"
	"github.com/spf13/cobra"
)

func main() {
	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Sign-in with a hosted user pool in front of your CDN or HTTP service",
		Version: dynversion.Version,
	}

	app.AddCommand(serveEntry())
	app.AddCommand(configEntry())
	app.AddCommand(ealambdacli.Entrypoint())

	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the authenticating HTTP gateway in front of UPSTREAM_URL",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()

			mainLogger := logex.Prefix("main", rootLogger)
			tasks := taskrunner.New(osutil.CancelOnInterruptOrTerminate(mainLogger), mainLogger)

			tasks.Start("server", func(ctx context.Context) error {
				return easerver.Serve(ctx, logex.Prefix("server", rootLogger))
			})

			if err := tasks.Wait(); err != nil {
				panic(err)
			}
		},
	}
}
