package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/di"
	"github.com/mwesox/menuvo-platform-sub005/internal/handlers"
	"github.com/mwesox/menuvo-platform-sub005/internal/payments"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/auth"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/config"
	pfirestore "github.com/mwesox/menuvo-platform-sub005/internal/platform/firestore"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/idempotency"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/jobs"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/observability"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/secrets"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
	firestoreRepo "github.com/mwesox/menuvo-platform-sub005/internal/repositories/firestore"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	orderEventsTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	defer orderEventsTopic.Stop()
	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(orderEventsTopic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	providerManager, err := newPaymentManager(logger.Named("payments"), cfg.PSP)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreClient, orderEventsTopic)
	if err != nil {
		logger.Warn("health: dependency checks init failed", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.ContainerDeps{
		Registry:  registry,
		Providers: providerManager,
		Events:    eventPublisher,
		Health:    healthRepo,
		Build:     buildInfo,
		Logger:    zapEventLogger(logger.Named("services")),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, container.Services.Payments)
	storeOrderHandlers := handlers.NewStoreOrderHandlers(authenticator, container.Services.Orders, container.Services.Payments)
	webhookHandlers := handlers.NewWebhookHandlers(handlers.WebhookHandlersConfig{
		Payments:            container.Services.Payments,
		StripeWebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:              zapEventLogger(logger.Named("webhooks")),
	})
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithStoreOrderRoutes(storeOrderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if rateLimit := handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, time.Minute); rateLimit != nil {
		opts = append(opts, handlers.WithOrderMiddlewares(rateLimit))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("menuvo ordering api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := container.Close(closeCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newPaymentManager(logger *zap.Logger, psp config.PSPConfig) (*payments.Manager, error) {
	providers := make(map[domain.PaymentProviderKind]payments.Provider)

	if key := strings.TrimSpace(psp.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: zapEventLogger(logger.Named("stripe")),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[domain.ProviderStripe] = stripeProvider
	}

	if id := strings.TrimSpace(psp.PayPalClientID); id != "" {
		paypalProvider, err := payments.NewPayPalProvider(payments.PayPalProviderConfig{
			ClientID:  id,
			Secret:    psp.PayPalSecret,
			Live:      psp.PayPalLive,
			BrandName: psp.PayPalBrandName,
			Logger:    zapEventLogger(logger.Named("paypal")),
		})
		if err != nil {
			return nil, fmt.Errorf("paypal provider: %w", err)
		}
		providers[domain.ProviderPayPal] = paypalProvider
	}

	if token := strings.TrimSpace(psp.MollieAPIToken); token != "" {
		mollieProvider, err := payments.NewMollieProvider(payments.MollieProviderConfig{
			APIToken:   token,
			TestMode:   psp.MollieTestMode,
			WebhookURL: psp.MollieWebhookURL,
			Logger:     zapEventLogger(logger.Named("mollie")),
		})
		if err != nil {
			return nil, fmt.Errorf("mollie provider: %w", err)
		}
		providers[domain.ProviderMollie] = mollieProvider
	}

	if len(providers) == 0 {
		return nil, errors.New("no payment provider credentials configured")
	}
	return payments.NewManager(providers)
}

func newHealthRepository(client *firestore.Client, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				ok, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"PSP.StripeAPIKey",
		"PSP.StripeWebhookSecret",
	}
	if env != nil {
		if secret := strings.TrimSpace(env["API_PSP_PAYPAL_SECRET"]); secret != "" {
			required = append(required, "PSP.PayPalSecret")
		}
		if token := strings.TrimSpace(env["API_PSP_MOLLIE_API_TOKEN"]); token != "" {
			required = append(required, "PSP.MollieAPIToken")
		}
	}
	return uniqueStrings(required)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	raw = strings.TrimSpace(raw)
	pins := make(map[string]string)
	if raw == "" {
		return pins
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[0])
		version := strings.TrimSpace(parts[1])
		if ref == "" || version == "" {
			continue
		}
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		ref = prefix + ref
		pins[ref] = version
	}
	return pins
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
