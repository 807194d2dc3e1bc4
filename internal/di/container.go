package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/gateway"
	"github.com/formation-desk/api/internal/platform/config"
	pfirestore "github.com/formation-desk/api/internal/platform/firestore"
	"github.com/formation-desk/api/internal/platform/idempotency"
	"github.com/formation-desk/api/internal/platform/jobs"
	"github.com/formation-desk/api/internal/platform/observability"
	"github.com/formation-desk/api/internal/repositories"
	firestoreRepo "github.com/formation-desk/api/internal/repositories/firestore"
	"github.com/formation-desk/api/internal/repositories/memory"
	"github.com/formation-desk/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout services.CheckoutWizardService
	System   services.SystemService
}

// Infrastructure holds the backends selected by configuration.
type Infrastructure struct {
	Sessions       repositories.SessionRepository
	SessionCleaner repositories.SessionCleaner
	Idempotency    idempotency.Store
	Gateway        services.FormationGateway
	Events         services.OrderEventPublisher
	Checks         []repositories.DependencyCheck
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Catalog  *catalog.Catalog
	Infra    Infrastructure
	Services Services

	logger  *zap.Logger
	closers []func(context.Context) error
	wg      sync.WaitGroup
	stop    context.CancelFunc
}

type containerOptions struct {
	logger  *zap.Logger
	build   services.BuildInfo
	gateway services.FormationGateway
	events  services.OrderEventPublisher
	clock   func() time.Time
}

// Option customises container construction.
type Option func(*containerOptions)

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the metadata reported by the readiness endpoint.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithGateway replaces the HTTP formation backend client.
func WithGateway(gw services.FormationGateway) Option {
	return func(o *containerOptions) {
		o.gateway = gw
	}
}

// WithEventPublisher replaces the Pub/Sub order publisher.
func WithEventPublisher(events services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = events
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Session and idempotency
// storage follow cfg.Sessions.Store; order events are published only when a
// topic is configured.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	c := &Container{
		Config:  cfg,
		Catalog: cat,
		logger:  o.logger,
	}

	if err := c.buildInfrastructure(ctx, o); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	if err := c.buildServices(o); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) buildInfrastructure(ctx context.Context, o containerOptions) error {
	cfg := c.Config
	infra := &c.Infra

	infra.Gateway = o.gateway
	if infra.Gateway == nil {
		client, err := gateway.NewClient(cfg.Gateway.BaseURL,
			gateway.WithAPIToken(cfg.Gateway.APIToken),
			gateway.WithTimeout(cfg.Gateway.Timeout),
			gateway.WithLogger(c.logger.Named("gateway")),
		)
		if err != nil {
			return fmt.Errorf("build gateway client: %w", err)
		}
		infra.Gateway = client
	}
	gw := infra.Gateway
	infra.Checks = append(infra.Checks, repositories.DependencyCheck{
		Name:    "formationBackend",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			_, err := gw.FetchEntityTypes(ctx)
			return err
		},
	})

	switch strings.ToLower(strings.TrimSpace(cfg.Sessions.Store)) {
	case config.SessionStoreFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		sessions, err := firestoreRepo.NewSessionRepository(provider, cfg.Sessions.Collection)
		if err != nil {
			return fmt.Errorf("build session repository: %w", err)
		}
		store, err := idempotency.NewFirestoreStore(provider, "")
		if err != nil {
			return fmt.Errorf("build idempotency store: %w", err)
		}
		infra.Sessions, infra.SessionCleaner, infra.Idempotency = sessions, sessions, store
		infra.Checks = append(infra.Checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check:    provider.Ping,
		})
	default:
		sessions := memory.NewSessionRepository()
		infra.Sessions, infra.SessionCleaner, infra.Idempotency = sessions, sessions, idempotency.NewMemoryStore()
	}

	infra.Events = o.events
	if infra.Events == nil && strings.TrimSpace(cfg.PubSub.OrderTopic) != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("build pubsub client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		topic := client.Topic(cfg.PubSub.OrderTopic)
		publisher, err := jobs.NewPubSubOrderPublisher(topic)
		if err != nil {
			return fmt.Errorf("build order publisher: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error {
			publisher.Stop()
			return nil
		})
		infra.Events = publisher
		infra.Checks = append(infra.Checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
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
		})
	}
	return nil
}

func (c *Container) buildServices(o containerOptions) error {
	hook := observability.EventHook(c.logger.Named("checkout"))
	checkout, err := services.NewCheckoutWizardService(services.CheckoutWizardServiceDeps{
		Sessions:   c.Infra.Sessions,
		Gateway:    c.Infra.Gateway,
		Catalog:    c.Catalog,
		Events:     c.Infra.Events,
		Clock:      o.clock,
		Logger:     hook,
		SessionTTL: c.Config.Sessions.TTL,
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}
	c.Services.Checkout = checkout

	health, err := repositories.NewProbeHealthRepository(c.Infra.Checks, repositories.WithProbeClock(o.clock))
	if err != nil {
		return fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            o.clock,
		Build:            o.build,
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = system
	return nil
}

// StartCleanup runs the expiry sweeps for sessions and idempotency keys until
// ctx is cancelled or Close is called.
func (c *Container) StartCleanup(ctx context.Context) {
	ctx, c.stop = context.WithCancel(ctx)
	if cleaner := c.Infra.SessionCleaner; cleaner != nil {
		c.runPeriodically(ctx, "sessions", c.Config.Sessions.CleanupInterval, cleaner.CleanupExpired)
	}
	if store := c.Infra.Idempotency; store != nil {
		c.runPeriodically(ctx, "idempotency", c.Config.Idempotency.CleanupInterval, store.CleanupExpired)
	}
}

func (c *Container) runPeriodically(ctx context.Context, name string, interval time.Duration, sweep func(context.Context, time.Time) (int, error)) {
	if interval <= 0 {
		return
	}
	logger := c.logger.Named("cleanup").With(zap.String("target", name))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := sweep(ctx, time.Now().UTC())
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Warn("cleanup failed", zap.Error(err))
					}
					continue
				}
				if removed > 0 {
					logger.Info("expired entries removed", zap.Int("count", removed))
				}
			}
		}
	}()
}

// Close stops background sweeps, waiting for them until ctx is done, and
// releases clients in reverse creation order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.stop != nil {
		c.stop()
	}
	stopped := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(stopped)
	}()
	var errs []error
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("di: waiting for cleanup: %w", ctx.Err()))
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
