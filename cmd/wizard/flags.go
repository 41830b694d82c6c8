package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/checkoutclient"
	"github.com/onlyusedtesla/checkout/internal/drafts"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/platform/observability"
	"github.com/onlyusedtesla/checkout/internal/services"
	"github.com/onlyusedtesla/checkout/internal/wizard"
)

var (
	draftDirFlag = &cli.StringFlag{
		Name:    "draft-dir",
		Usage:   "Directory holding the saved draft",
		Value:   ".checkout",
		EnvVars: []string{"WIZARD_DRAFT_DIR"},
	}
	redisAddrFlag = &cli.StringFlag{
		Name:    "redis-addr",
		Usage:   "Keep the draft in Redis instead of --draft-dir",
		EnvVars: []string{"WIZARD_REDIS_ADDR"},
	}
	apiURLFlag = &cli.StringFlag{
		Name:    "api-url",
		Usage:   "Checkout API base URL; without it payment is simulated",
		EnvVars: []string{"WIZARD_API_URL"},
	}
	catalogFlag = &cli.StringFlag{
		Name:    "catalog",
		Usage:   "YAML file overriding the add-on fees",
		EnvVars: []string{"WIZARD_CATALOG_FILE"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
		Value: "warn",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Print the view as JSON",
	}
)

func globalFlags() []cli.Flag {
	return []cli.Flag{draftDirFlag, redisAddrFlag, apiURLFlag, catalogFlag, logLevelFlag, jsonFlag}
}

// session is one restored controller plus the resources behind it.
type session struct {
	ctrl     *wizard.Controller
	registry *fields.Registry
	logger   *zap.Logger
	out      io.Writer
	closers  []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	_ = s.logger.Sync()
}

// openSession builds the controller from global flags and restores the draft with resume.
func openSession(c *cli.Context, resume wizard.Resume) (*session, wizard.View, error) {
	logger, err := observability.NewLogger(
		observability.WithLevel(c.String(logLevelFlag.Name)),
		observability.WithConsoleEncoding(),
		observability.WithOutputPaths("stderr"),
	)
	if err != nil {
		return nil, wizard.View{}, fmt.Errorf("init logger: %w", err)
	}
	s := &session{registry: fields.NewRegistry(), logger: logger, out: c.App.Writer}

	var backend drafts.Backend
	if addr := strings.TrimSpace(c.String(redisAddrFlag.Name)); addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		s.closers = append(s.closers, client.Close)
		backend = drafts.NewRedisBackend(client, "checkout:drafts", 0)
	} else {
		backend = drafts.NewFileBackend(c.String(draftDirFlag.Name))
	}
	store := drafts.NewStore(backend, drafts.WithLogger(logger.Named("drafts")))

	pricingDeps := services.PricingEngineDeps{Logger: observability.EventLogger(logger.Named("pricing"))}
	if path := strings.TrimSpace(c.String(catalogFlag.Name)); path != "" {
		catalog, err := services.LoadAddonCatalog(path)
		if err != nil {
			s.Close()
			return nil, wizard.View{}, err
		}
		pricingDeps.Catalog = &catalog
	}
	pricing, err := services.NewPricingEngine(pricingDeps)
	if err != nil {
		s.Close()
		return nil, wizard.View{}, err
	}

	deps := wizard.Deps{
		Drafts:  store,
		Pricing: pricing,
		Fields:  s.registry,
		Logger:  logger.Named("wizard"),
	}
	if apiURL := strings.TrimSpace(c.String(apiURLFlag.Name)); apiURL != "" {
		client, err := checkoutclient.New(apiURL, checkoutclient.WithLogger(logger.Named("client")))
		if err != nil {
			s.Close()
			return nil, wizard.View{}, err
		}
		deps.Payments = client
		deps.Verifier = client
	}

	s.ctrl = wizard.New(deps)
	view := s.ctrl.Start(c.Context, resume)
	return s, view, nil
}

// withSession runs fn against a restored controller and prints the resulting view, even
// when fn fails, so field errors stay visible.
func withSession(fn func(ctx context.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, _, err := openSession(c, wizard.Resume{})
		if err != nil {
			return err
		}
		defer s.Close()
		actionErr := fn(c.Context, s)
		if err := render(c, s.ctrl.View()); err != nil {
			return err
		}
		return actionErr
	}
}
