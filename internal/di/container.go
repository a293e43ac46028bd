package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwesox/menuvo-platform-sub005/internal/payments"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/config"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// ContainerDeps carries the infrastructure collaborators the container wires
// into services. Tests can supply in-memory registries and stub publishers.
type ContainerDeps struct {
	Registry  repositories.Registry
	Providers *payments.Manager
	Events    services.OrderEventPublisher
	Health    repositories.HealthRepository
	Build     services.BuildInfo
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, _ config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	reg := deps.Registry
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	pricing, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Stores:        reg.Stores(),
		ServicePoints: reg.ServicePoints(),
		Catalog:       reg.Catalog(),
		Counters:      reg.Counters(),
		Pricing:       pricing,
		UnitOfWork:    reg,
		Clock:         clock,
		Events:        deps.Events,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Providers != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:     reg.Orders(),
			Stores:     reg.Stores(),
			Providers:  deps.Providers,
			UnitOfWork: reg,
			Clock:      clock,
			Events:     deps.Events,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if deps.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
