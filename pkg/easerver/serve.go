// HTTP gateway: runs the edge authenticator in front of an upstream, for deployments without the CDN
package easerver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/function61/edgeauth/pkg/authenticator"
	"github.com/function61/edgeauth/pkg/eabackend/edgeauthbackend"
	"github.com/function61/edgeauth/pkg/eabackend/reverseproxybackend"
	"github.com/function61/edgeauth/pkg/eaconfig"
	"github.com/function61/edgeauth/pkg/edgehandler"
	"github.com/function61/edgeauth/pkg/insecureredirector"
	"github.com/function61/gokit/envvar"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/taskrunner"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HealthPath = "/_edgeauth/health"

	// mitigates slowloris. same value as nginx.
	readHeaderTimeout = 60 * time.Second
)

type Config struct {
	UpstreamURL     string
	ListenAddr      string
	MetricsAddr     string // empty disables metrics server
	UpstreamCaching bool
	CacheDir        string
	// both or neither. with TLS, InsecureRedirectAddr (if set) redirects plain HTTP to HTTPS.
	TLSCertFile          string
	TLSKeyFile           string
	InsecureRedirectAddr string
}

func (c *Config) TLS() bool {
	return c.TLSCertFile != ""
}

func (c *Config) Validate() error {
	return eaconfig.FirstError(
		eaconfig.ErrorIfUnset(c.UpstreamURL == "", "UpstreamURL"),
		eaconfig.ErrorIfUnset(c.ListenAddr == "", "ListenAddr"),
		eaconfig.ErrorIfUnset(c.TLSCertFile != "" && c.TLSKeyFile == "", "TLSKeyFile"),
		eaconfig.ErrorIfUnset(c.TLSKeyFile != "" && c.TLSCertFile == "", "TLSCertFile"),
		func() error {
			if c.InsecureRedirectAddr != "" && !c.TLS() {
				return errors.New("InsecureRedirectAddr requires TLS")
			}
			return nil
		}(),
	)
}

func ConfigFromEnv() (*Config, error) {
	upstreamURL, err := envvar.Required("UPSTREAM_URL")
	if err != nil {
		return nil, err
	}

	caching := false
	if cachingStr := os.Getenv("UPSTREAM_CACHING"); cachingStr != "" {
		caching, err = strconv.ParseBool(cachingStr)
		if err != nil {
			return nil, fmt.Errorf("UPSTREAM_CACHING: %w", err)
		}
	}

	conf := &Config{
		UpstreamURL:     upstreamURL,
		ListenAddr:      envOrDefault("LISTEN_ADDR", ":80"),
		MetricsAddr:     envOrDefault("METRICS_ADDR", ":9090"),
		UpstreamCaching: caching,
		CacheDir:        os.Getenv("UPSTREAM_CACHE_DIR"),
		TLSCertFile:     os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:      os.Getenv("TLS_KEY_FILE"),
	}

	if conf.TLS() {
		conf.ListenAddr = envOrDefault("LISTEN_ADDR", ":443")
		conf.InsecureRedirectAddr = envOrDefault("INSECURE_REDIRECT_ADDR", ":80")
	}

	return conf, conf.Validate()
}

func Serve(ctx context.Context, logger *log.Logger) error {
	logl := logex.Levels(logger)

	conf, err := ConfigFromEnv()
	if err != nil {
		return err
	}

	source, err := eaconfig.SourceFromEnv()
	if err != nil {
		return err
	}

	if source == eaconfig.SourceOriginHeaders {
		return errors.New("configuration source origin_headers is only available at the CDN edge")
	}

	auth, err := edgehandler.FromEnv(ctx, logex.Prefix("edgehandler", logger))
	if err != nil {
		return err
	}

	logl.Info.Printf("protecting %s", conf.UpstreamURL)

	return serve(ctx, *conf, auth, prometheus.NewRegistry(), logger)
}

func serve(
	ctx context.Context,
	conf Config,
	auth authenticator.Authenticator,
	registry *prometheus.Registry,
	logger *log.Logger,
) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	handler, err := newHandler(conf, auth, initMetrics(registry), logger)
	if err != nil {
		return err
	}

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("listener "+conf.ListenAddr, func(ctx context.Context) error {
		srv := &http.Server{
			Addr:              conf.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		if conf.TLS() {
			return cancelableServer(ctx, srv, func() error {
				return srv.ListenAndServeTLS(conf.TLSCertFile, conf.TLSKeyFile)
			})
		}

		return cancelableServer(ctx, srv, srv.ListenAndServe)
	})

	if conf.InsecureRedirectAddr != "" {
		tasks.Start("insecureredirector "+conf.InsecureRedirectAddr, func(ctx context.Context) error {
			srv := &http.Server{
				Addr:              conf.InsecureRedirectAddr,
				Handler:           insecureredirector.Handler(),
				ReadHeaderTimeout: readHeaderTimeout,
			}

			return cancelableServer(ctx, srv, srv.ListenAndServe)
		})
	}

	if conf.MetricsAddr != "" {
		tasks.Start("metrics "+conf.MetricsAddr, func(ctx context.Context) error {
			return metricsServer(ctx, conf.MetricsAddr, registry)
		})
	}

	return tasks.Wait()
}

func newHandler(
	conf Config,
	auth authenticator.Authenticator,
	metrics *metricsStore,
	logger *log.Logger,
) (http.Handler, error) {
	upstream, err := reverseproxybackend.New("upstream", reverseproxybackend.Options{
		Origins:        []string{conf.UpstreamURL},
		PassHostHeader: true,
		Caching:        conf.UpstreamCaching,
		CacheDir:       conf.CacheDir,
	})
	if err != nil {
		return nil, err
	}

	protected := edgeauthbackend.New(
		auth,
		upstream,
		metrics.observeAuthOutcome,
		logex.Prefix("edgeauthbackend", logger))

	routes := mux.NewRouter()

	routes.Handle(HealthPath, withMetrics("health", metrics, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	}))).Methods(http.MethodGet, http.MethodHead)

	routes.PathPrefix("/").Handler(withMetrics("protected", metrics, protected))

	return routes, nil
}

func withMetrics(route string, metrics *metricsStore, inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// see https://github.com/felixge/httpsnoop
		// tl;dr: response snooping is hard without losing Websocket etc. support
		stats := httpsnoop.CaptureMetrics(inner, w, r)

		if stats.Code < 400 {
			incRouteCodeMethodCounter(metrics.requestsOk, route, strconv.Itoa(stats.Code), r.Method)
		} else {
			incRouteCodeMethodCounter(metrics.requestsFail, route, strconv.Itoa(stats.Code), r.Method)
		}

		metrics.requestDuration.WithLabelValues(route).Observe(stats.Duration.Seconds())
		metrics.requestDuration.WithLabelValues(allRouteKey).Observe(stats.Duration.Seconds())
	})
}

func metricsServer(ctx context.Context, addr string, registry *prometheus.Registry) error {
	routes := mux.NewRouter()
	routes.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           routes,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return cancelableServer(ctx, srv, srv.ListenAndServe)
}

func envOrDefault(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
