// CLI for publishing new versions of the edge function
package ealambdacli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/function61/gokit/osutil"
	"github.com/spf13/cobra"
)

// edge functions are replicated from this region only
const (
	edgeFunctionRegion = "us-east-1"
)

// subset of *lambda.Client we use
type UpdateFunctionCodeAPI interface {
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
}

func Entrypoint() *cobra.Command {
	app := &cobra.Command{
		Use:   "lambda",
		Short: "Edge function commands",
	}

	app.AddCommand(deployEntrypoint())

	return app
}

func deployEntrypoint() *cobra.Command {
	regionId := edgeFunctionRegion

	cmd := &cobra.Command{
		Use:   "deploy [functionName] [zipFile]",
		Short: "Uploads new code for the edge function and publishes it as a new version",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			osutil.ExitIfError(func() error {
				awsConf, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionId))
				if err != nil {
					return err
				}

				zipFile, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer zipFile.Close()

				return Deploy(ctx, lambda.NewFromConfig(awsConf), args[0], zipFile, os.Stdout)
			}())
		},
	}

	cmd.Flags().StringVarP(&regionId, "region", "r", regionId, "Region of the function")

	return cmd
}

// CDN distributions reference an exact version, so we always publish one
func Deploy(
	ctx context.Context,
	client UpdateFunctionCodeAPI,
	functionName string,
	zipFile io.Reader,
	output io.Writer,
) error {
	zipContent, err := io.ReadAll(zipFile)
	if err != nil {
		return err
	}

	if len(zipContent) == 0 {
		return errors.New("Deploy: empty zip file")
	}

	res, err := client.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(functionName),
		ZipFile:      zipContent,
		Publish:      true,
	})
	if err != nil {
		return fmt.Errorf("Deploy: UpdateFunctionCode: %w", err)
	}

	_, err = fmt.Fprintf(output, "published %s version %s\n%s\n",
		functionName,
		aws.ToString(res.Version),
		aws.ToString(res.FunctionArn))
	return err
}
