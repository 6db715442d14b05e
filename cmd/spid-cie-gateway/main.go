package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/crewjam/saml"
	"github.com/go-chi/chi"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/protezionecivile/spid-cie-gateway/cie"
	"github.com/protezionecivile/spid-cie-gateway/registry"
	"github.com/protezionecivile/spid-cie-gateway/session"
	"github.com/protezionecivile/spid-cie-gateway/spid"
	"github.com/protezionecivile/spid-cie-gateway/web"
)

const sessionName = "spid-cie-gateway"

func main() {
	logger := logrus.New()

	root := &cobra.Command{
		Use:          "spid-cie-gateway",
		Short:        "SPID and CIE authentication gateway",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand(logger), metadataCommand())

	if err := root.Execute(); err != nil {
		logger.WithError(err).Fatal("command failed")
	}
}

func serveCommand(logger logrus.FieldLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(logger, cfg)
		},
	}
}

func serve(logger logrus.FieldLogger, cfg *config) error {
	if cfg.demoMode {
		logger.Warn("demo mode enabled, do not use in production")
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	keys, err := cfg.keyMaterial()
	if err != nil {
		return err
	}

	callbackURL := cfg.baseURL + "/acs"
	profile := spid.ProductionProfile(cfg.spidIssuer, callbackURL, keys)
	validatorProfile := spid.ValidatorProfile(cfg.spidIssuer, callbackURL, keys)

	// crewjam exposes clock skew as a package global only, so the standard
	// profile's tolerance applies to every response parsed in this process.
	saml.MaxClockSkew = profile.ClockSkewTolerance

	cieClient, err := cie.New(logger, cie.Config{
		IssuerURL:    cfg.cieIssuer,
		ClientID:     cfg.cieClientID,
		ClientSecret: cfg.cieClientSecret,
		RedirectURL:  cfg.baseURL + "/callback",
	})
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cieClient.Initialize(ctx); err != nil {
			logger.WithError(err).Error("CIE provider discovery failed, CIE login unavailable")
		}
	}()

	srv, err := web.New(logger, reg, profile, validatorProfile, cieClient)
	if err != nil {
		return err
	}

	secret := cfg.sessionSecret
	if secret == "" {
		secret = "demo-session-secret-not-for-production"
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode

	mux := chi.NewMux()
	mux.Use(web.RequestLogger(logger))
	mux.Use(session.Middleware(store, sessionName))
	srv.MountRoutes(mux)

	logger.WithField("addr", cfg.listenAddr).Info("gateway listening")
	return http.ListenAndServe(cfg.listenAddr, mux)
}

func metadataCommand() *cobra.Command {
	var validator bool
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Print the SP metadata document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keys, err := cfg.keyMaterial()
			if err != nil {
				return err
			}
			callbackURL := cfg.baseURL + "/acs"
			profile := spid.ProductionProfile(cfg.spidIssuer, callbackURL, keys)
			if validator {
				profile = spid.ValidatorProfile(cfg.spidIssuer, callbackURL, keys)
			}
			doc, err := spid.RenderMetadata(profile)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(doc))
			return nil
		},
	}
	cmd.Flags().BoolVar(&validator, "validator", false, "render the validator profile metadata")
	return cmd
}

func buildRegistry(cfg *config) (*registry.Registry, error) {
	if cfg.providersFile != "" {
		return registry.LoadFile(cfg.providersFile, registry.WithFallback("demo"))
	}
	return registry.Default(), nil
}
