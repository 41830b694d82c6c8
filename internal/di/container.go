package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/handlers"
	"github.com/onlyusedtesla/checkout/internal/payments"
	"github.com/onlyusedtesla/checkout/internal/platform/config"
	"github.com/onlyusedtesla/checkout/internal/platform/idempotency"
	"github.com/onlyusedtesla/checkout/internal/platform/jobs"
	"github.com/onlyusedtesla/checkout/internal/platform/observability"
	"github.com/onlyusedtesla/checkout/internal/repositories"
	"github.com/onlyusedtesla/checkout/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Pricing      *services.PricingEngine
	Checkout     services.CheckoutService
	Verification services.VerificationService
	System       services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories *Repositories
	Services     Services
	Build        services.BuildInfo

	logger  *zap.Logger
	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger     *zap.Logger
	payments   *payments.Manager
	dispatcher services.CodeDispatcher
	build      services.BuildInfo
	clock      func() time.Time
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPaymentManager overrides the manager otherwise built from cfg.Payments.
func WithPaymentManager(manager *payments.Manager) Option {
	return func(o *containerOptions) {
		o.payments = manager
	}
}

// WithCodeDispatcher overrides the Pub/Sub dispatcher for verification codes.
func WithCodeDispatcher(dispatcher services.CodeDispatcher) Option {
	return func(o *containerOptions) {
		o.dispatcher = dispatcher
	}
}

func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of repos.
func NewContainer(ctx context.Context, cfg config.Config, repos *Repositories, opts ...Option) (*Container, error) {
	if repos == nil {
		return nil, errors.New("repositories are required")
	}
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{
		Config:       cfg,
		Repositories: repos,
		Build:        options.build,
		logger:       options.logger,
	}

	manager := options.payments
	if manager == nil {
		built, err := NewPaymentManager(cfg.Payments, options.logger.Named("payments"))
		if err != nil {
			return nil, err
		}
		manager = built
	}

	checks := append([]repositories.DependencyCheck(nil), repos.Checks...)
	dispatcher := options.dispatcher
	if dispatcher == nil && cfg.PubSub.Enabled() {
		topic, check, err := c.openVerificationTopic(ctx, cfg.PubSub)
		if err != nil {
			_ = c.closeOwned(ctx)
			return nil, err
		}
		pubsubDispatcher, err := jobs.NewPubSubCodeDispatcher(topic)
		if err != nil {
			_ = c.closeOwned(ctx)
			return nil, fmt.Errorf("build code dispatcher: %w", err)
		}
		dispatcher = pubsubDispatcher
		checks = append(checks, check)
	}

	svc, err := buildServices(cfg, repos, manager, dispatcher, checks, options)
	if err != nil {
		_ = c.closeOwned(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// NewPaymentManager builds the payment manager for the configured provider.
func NewPaymentManager(cfg config.PaymentsConfig, logger *zap.Logger) (*payments.Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "stripe":
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.StripeSecretKey,
			AccountID: cfg.StripeAccountID,
			Logger:    observability.EventLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		return payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider})
	case "", "sandbox":
		outcome := payments.Status(strings.ToLower(strings.TrimSpace(cfg.SandboxOutcome)))
		logger.Info("sandbox payments enabled", zap.String("outcome", string(outcome)))
		return payments.NewManager(map[string]payments.Provider{"sandbox": payments.NewSandboxProvider(outcome)})
	default:
		return nil, fmt.Errorf("unsupported payments provider %q", cfg.Provider)
	}
}

func (c *Container) openVerificationTopic(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Topic, repositories.DependencyCheck, error) {
	client, err := pubsub.NewClient(ctx, strings.TrimSpace(cfg.ProjectID))
	if err != nil {
		return nil, repositories.DependencyCheck{}, fmt.Errorf("dial pubsub: %w", err)
	}
	topic := client.Topic(strings.TrimSpace(cfg.VerificationTopic))
	topic.EnableMessageOrdering = true
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	check := repositories.DependencyCheck{
		Name: "pubsub",
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s not found", topic.ID())
			}
			return nil
		},
	}
	c.logger.Info("verification codes published to pubsub", zap.String("topic", topic.String()))
	return topic, check, nil
}

func buildServices(cfg config.Config, repos *Repositories, manager *payments.Manager, dispatcher services.CodeDispatcher, checks []repositories.DependencyCheck, options containerOptions) (Services, error) {
	logger := options.logger
	var svc Services

	catalog := services.DefaultAddonCatalog()
	if path := strings.TrimSpace(cfg.Pricing.CatalogFile); path != "" {
		loaded, err := services.LoadAddonCatalog(path)
		if err != nil {
			return Services{}, err
		}
		catalog = loaded
	} else if cur := strings.TrimSpace(cfg.Pricing.Currency); cur != "" {
		catalog.Currency = cur
	}
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Catalog: &catalog,
		Logger:  observability.EventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	verification, err := services.NewVerificationService(services.VerificationServiceDeps{
		Codes:       repos.Verification,
		Dispatcher:  dispatcher,
		CodeTTL:     cfg.Verification.CodeTTL,
		VerifiedTTL: cfg.Verification.VerifiedTTL,
		MaxAttempts: cfg.Verification.MaxAttempts,
		Clock:       options.clock,
		Logger:      observability.EventLogger(logger.Named("verification")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build verification service: %w", err)
	}
	svc.Verification = verification

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pricing:      pricing,
		Payments:     manager,
		Charges:      repos.Charges,
		Verification: verification,
		Provider:     cfg.Payments.Provider,
		Clock:        options.clock,
		Logger:       observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(options.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            options.clock,
		Build:            options.build,
		PaymentProvider:  cfg.Payments.Provider,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}

// Router assembles the HTTP surface. Charge endpoints require an idempotency key on POST;
// the unversioned aliases accept one but do not require it.
func (c *Container) Router(extra ...func(http.Handler) http.Handler) chi.Router {
	cfg := c.Config
	store := c.Repositories.Idempotency
	eventLogger := observability.EventLogger(c.logger.Named("idempotency"))
	idemOpts := []idempotency.MiddlewareOption{
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(eventLogger),
	}
	legacyIdemOpts := append(append([]idempotency.MiddlewareOption(nil), idemOpts...), idempotency.WithOptionalKey())

	checkoutHandlers := handlers.NewCheckoutHandlers(c.Services.Checkout,
		handlers.WithChargeMiddlewares(idempotency.Middleware(store, idemOpts...)),
	)
	verificationHandlers := handlers.NewVerificationHandlers(c.Services.Verification,
		handlers.WithSendRateLimit(cfg.Verification.SendPerWindow, cfg.Verification.SendWindow),
	)
	draftHandlers := handlers.NewDraftHandlers(c.Repositories.Drafts,
		handlers.WithDraftKeyPrefix(cfg.Drafts.KeyPrefix),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(c.Build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	httpLogger := c.logger.Named("http")
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		handlers.CORS(cfg.CORS.AllowedOrigins),
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(projectID),
		handlers.RateLimit(cfg.RateLimits.DefaultPerMinute, time.Minute),
	}
	middlewares = append(middlewares, extra...)

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithVerificationRoutes(verificationHandlers.Routes),
		handlers.WithDraftRoutes(draftHandlers.Routes),
		handlers.WithLegacyRoutes(checkoutHandlers.LegacyRoutes),
		handlers.WithLegacyMiddlewares(idempotency.Middleware(store, legacyIdemOpts...)),
	)
}

// RunJanitor removes expired idempotency records until ctx is done.
func (c *Container) RunJanitor(ctx context.Context) {
	cfg := c.Config.Idempotency
	idempotency.RunJanitor(ctx, c.Repositories.Idempotency, cfg.CleanupInterval, cfg.CleanupBatchSize,
		observability.EventLogger(c.logger.Named("idempotency")))
}

// Close releases container-owned clients, then the repositories.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return errors.Join(c.closeOwned(ctx), c.Repositories.Close(ctx))
}

func (c *Container) closeOwned(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
