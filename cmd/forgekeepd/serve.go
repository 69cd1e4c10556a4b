package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modrinth/forgekeep/authn"
	"github.com/modrinth/forgekeep/cache"
	"github.com/modrinth/forgekeep/captcha"
	"github.com/modrinth/forgekeep/config"
	"github.com/modrinth/forgekeep/connector"
	"github.com/modrinth/forgekeep/connector/discord"
	"github.com/modrinth/forgekeep/connector/github"
	"github.com/modrinth/forgekeep/connector/gitlab"
	"github.com/modrinth/forgekeep/connector/google"
	"github.com/modrinth/forgekeep/connector/microsoft"
	"github.com/modrinth/forgekeep/connector/minecraft"
	"github.com/modrinth/forgekeep/connector/paypal"
	"github.com/modrinth/forgekeep/connector/steam"
	"github.com/modrinth/forgekeep/deferred"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/httpapi"
	"github.com/modrinth/forgekeep/mail"
	"github.com/modrinth/forgekeep/oauthserver"
	"github.com/modrinth/forgekeep/storage"
	"github.com/modrinth/forgekeep/storage/postgres"
)

type serveOptions struct {
	config string

	webHTTPAddr   string
	telemetryAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Run the forgekeep authentication service",
		Example: "forgekeepd serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			options.config = args[0]
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.webHTTPAddr, "web-http-addr", "", "HTTP address to listen on")
	flags.StringVar(&options.telemetryAddr, "telemetry-addr", "", "Telemetry (metrics/health) address to listen on")

	return cmd
}

func applyConfigOverrides(options serveOptions, c *config.Config) {
	if options.webHTTPAddr != "" {
		c.Web.HTTPAddr = options.webHTTPAddr
	}
	if options.telemetryAddr != "" {
		c.Telemetry.Addr = options.telemetryAddr
	}
}

// serverRunner pairs an *http.Server with the name it logs under and the
// graceful-shutdown behavior registered onto an oklog/run.Group.
type serverRunner struct {
	name string
	srv  *http.Server
	log  *logrus.Logger
}

func newServerRunner(name string, srv *http.Server, log *logrus.Logger) *serverRunner {
	return &serverRunner{name: name, srv: srv, log: log}
}

func (s *serverRunner) RunAndShutdownGracefully(gr *run.Group) error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %w", s.name, s.srv.Addr, err)
	}

	gr.Add(func() error {
		s.log.Infof("listening (%s) on %s", s.name, s.srv.Addr)
		return s.srv.Serve(listener)
	}, func(err error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		s.log.Debugf("starting graceful shutdown (%s)", s.name)
		if err := s.srv.Shutdown(ctx); err != nil {
			s.log.Errorf("graceful shutdown (%s): %v", s.name, err)
		}
	})
	return nil
}

func runServe(options serveOptions) error {
	c, err := config.Load(options.config)
	if err != nil {
		return err
	}
	applyConfigOverrides(options, &c)

	logger, err := newLogger(c.Logger.Level, c.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	pg, err := postgres.Open(c.Storage.DSN, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer pg.Close()

	var store storage.Store = cache.New(pg, c.CacheConfig())
	flows := flow.New(c.FlowConfig())
	deferredQueue := deferred.New(store)

	connectors := buildConnectors(c.Connectors)

	var minecraftClient *minecraft.Client
	if c.Connectors.Microsoft.ClientID != "" && c.Connectors.Microsoft.MinecraftRedirectURI != "" {
		minecraftClient = minecraft.New(minecraft.Config{
			ClientID:     c.Connectors.Microsoft.ClientID,
			ClientSecret: c.Connectors.Microsoft.ClientSecret,
			RedirectURI:  c.Connectors.Microsoft.MinecraftRedirectURI,
		})
	}

	var legacyGitHub connector.Connector
	if c.EnableLegacyGitHubAuth {
		legacyGitHub = connectors[storage.ProviderGitHub]
	}
	authenticator := authn.New(store, deferredQueue, legacyGitHub, c.EnableLegacyGitHubAuth)

	oauth := oauthserver.New(store, flows, authenticator).WithAccessTokenLifetime(c.AccessTokenLifetime)

	var mailer mail.Emailer
	if c.Mail.Host != "" {
		mailer, err = mail.New(c.MailConfig())
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger.Infof("config mail host: %s", c.Mail.Host)
	} else {
		mailer = &mail.NoopEmailer{}
		logger.Infof("config mail host not set, outgoing mail is discarded")
	}

	srv := &httpapi.Server{
		Store:      store,
		Flows:      flows,
		Authn:      authenticator,
		Deferred:   deferredQueue,
		Connectors: connectors,
		Mailer:     mailer,
		Templates:  mail.Templates{ProductName: "Forgekeep"},
		Captcha:    captcha.New(c.Captcha.TurnstileSecret),
		OAuth:      oauth,
		Sockets:    httpapi.NewSocketRegistry(),
		Minecraft:  minecraftClient,
		SiteURL:    c.Web.SiteURL,
		Log:        logger,
	}
	router := srv.NewRouter(c.Web.AllowedOrigins)

	prometheusRegistry := prometheus.NewRegistry()
	if err := prometheusRegistry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register Go runtime metrics: %w", err)
	}
	if err := prometheusRegistry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process metrics: %w", err)
	}

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "storage",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				return nil, pg.Ping(ctx)
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	telemetryRouter := http.NewServeMux()
	telemetryRouter.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))
	healthHandler := gosundheithttp.HandleHealthJSON(healthChecker)
	telemetryRouter.Handle("/healthz", healthHandler)
	telemetryRouter.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	telemetryRouter.Handle("/healthz/ready", healthHandler)

	var gr run.Group

	if c.Telemetry.Addr != "" {
		telemetrySrv := &http.Server{Addr: c.Telemetry.Addr, Handler: telemetryRouter}
		defer telemetrySrv.Close()
		if err := newServerRunner("telemetry", telemetrySrv, logger).RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	httpSrv := &http.Server{Addr: c.Web.HTTPAddr, Handler: router}
	defer httpSrv.Close()
	if err := newServerRunner("http", httpSrv, logger).RunAndShutdownGracefully(&gr); err != nil {
		return err
	}

	queueCtx, cancelQueue := context.WithCancel(context.Background())
	gr.Add(func() error {
		return deferredQueue.Run(queueCtx)
	}, func(error) {
		cancelQueue()
	})

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Infof("%v, shutdown now", err)
	}
	return nil
}

// buildConnectors instantiates every configured federated identity
// connector from its credentials, skipping providers whose client id is
// unset.
func buildConnectors(c config.Connectors) connector.Registry {
	reg := connector.Registry{}

	if c.GitHub.ClientID != "" {
		reg[storage.ProviderGitHub] = github.New(github.Config{
			ClientID:     c.GitHub.ClientID,
			ClientSecret: c.GitHub.ClientSecret,
			RedirectURI:  c.GitHub.RedirectURI,
		})
	}
	if c.Discord.ClientID != "" {
		reg[storage.ProviderDiscord] = discord.New(discord.Config{
			ClientID:     c.Discord.ClientID,
			ClientSecret: c.Discord.ClientSecret,
			RedirectURI:  c.Discord.RedirectURI,
		})
	}
	if c.GitLab.ClientID != "" {
		reg[storage.ProviderGitLab] = gitlab.New(gitlab.Config{
			ClientID:     c.GitLab.ClientID,
			ClientSecret: c.GitLab.ClientSecret,
			RedirectURI:  c.GitLab.RedirectURI,
			BaseURL:      c.GitLab.BaseURL,
		})
	}
	if c.Google.ClientID != "" {
		reg[storage.ProviderGoogle] = google.New(google.Config{
			ClientID:     c.Google.ClientID,
			ClientSecret: c.Google.ClientSecret,
			RedirectURI:  c.Google.RedirectURI,
		})
	}
	if c.Microsoft.ClientID != "" {
		reg[storage.ProviderMicrosoft] = microsoft.New(microsoft.Config{
			ClientID:     c.Microsoft.ClientID,
			ClientSecret: c.Microsoft.ClientSecret,
			RedirectURI:  c.Microsoft.RedirectURI,
			Tenant:       c.Microsoft.Tenant,
		})
	}
	if c.Steam.APIKey != "" {
		reg[storage.ProviderSteam] = steam.New(steam.Config{
			RedirectURI: c.Steam.RedirectURI,
			APIKey:      c.Steam.APIKey,
			RealmURI:    c.Steam.RealmURI,
		})
	}
	if c.PayPal.ClientID != "" {
		reg[storage.ProviderPayPal] = paypal.New(paypal.Config{
			ClientID:     c.PayPal.ClientID,
			ClientSecret: c.PayPal.ClientSecret,
			RedirectURI:  c.PayPal.RedirectURI,
			APIBaseURL:   c.PayPal.APIBaseURL,
			AuthBaseURL:  c.PayPal.AuthBaseURL,
		})
	}

	return reg
}
