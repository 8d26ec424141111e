package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/function61/edgeauth/pkg/eaconfig"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/osutil"
	"github.com/scylladb/termtables"
	"github.com/spf13/cobra"
)

type s3ClientFactory func(ctx context.Context, region string) (eaconfig.S3PutObjectAPI, error)

func configShow(ctx context.Context, output io.Writer) error {
	source, err := eaconfig.SourceFromEnv()
	if err != nil {
		return err
	}

	if source == eaconfig.SourceOriginHeaders {
		return errors.New("origin_headers configuration only exists in requests at the CDN edge")
	}

	resolver, opts, err := eaconfig.Setup(ctx, source)
	if err != nil {
		return err
	}

	conf, err := resolver.Resolve(ctx, nil)
	if err != nil {
		return err
	}

	validity := "OK"
	if err := conf.Validate(); err != nil {
		validity = err.Error()
	}

	tbl := termtables.CreateTable()
	tbl.AddHeaders("Setting", "Value")

	tbl.AddRow("Source", string(source))
	tbl.AddRow("Region", conf.Region)
	tbl.AddRow("User pool", conf.UserPoolId)
	tbl.AddRow("App client", conf.UserPoolAppId)
	tbl.AddRow("Domain", conf.DomainURL())
	tbl.AddRow("Issuer", conf.Issuer())
	tbl.AddRow("JWKS", conf.JwksURL())
	tbl.AddRow("Callback path", orDash(opts.ParseAuthPath))
	tbl.AddRow("Logout path", orDash(opts.LogoutPath))
	tbl.AddRow("CSRF protection", fmt.Sprintf("%v", opts.CSRFProtection))
	tbl.AddRow("Validity", validity)

	_, err = fmt.Fprintln(output, tbl.Render())
	return err
}

func configUpload(
	ctx context.Context,
	location string,
	content io.Reader,
	output io.Writer,
	makeClient s3ClientFactory,
) error {
	s3Location, err := eaconfig.ParseS3Location(location)
	if err != nil {
		return err
	}

	obj := eaconfig.ConfigObject{}
	if err := jsonfile.Unmarshal(content, &obj, true); err != nil {
		return err
	}

	client, err := makeClient(ctx, s3Location.Region)
	if err != nil {
		return err
	}

	if err := eaconfig.UploadToS3(ctx, client, *s3Location, obj); err != nil {
		return err
	}

	_, err = fmt.Fprintf(output, "uploaded %s\n", s3Location.String())
	return err
}

func configEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration related commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Shows the configuration the authenticator would use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			osutil.ExitIfError(configShow(ctx, os.Stdout))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "upload [s3://region/bucket/key]",
		Short: "Uploads configuration (JSON from stdin) for the s3 configuration source",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			osutil.ExitIfError(configUpload(ctx, args[0], os.Stdin, os.Stdout, realS3Client))
		},
	})

	return cmd
}

func realS3Client(ctx context.Context, region string) (eaconfig.S3PutObjectAPI, error) {
	return eaconfig.NewS3Client(ctx, region)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}

	return value
}
