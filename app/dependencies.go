package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/internal/observability"
	"github.com/upb/activity-sync/keycloak"
	"github.com/upb/activity-sync/middleware"
	"github.com/upb/activity-sync/repositories"
	"github.com/upb/activity-sync/repositories/postgres"
	"github.com/upb/activity-sync/services/activity"
	"github.com/upb/activity-sync/services/contacts"
	"github.com/upb/activity-sync/services/crm"
	"github.com/upb/activity-sync/services/identity"
	"github.com/upb/activity-sync/services/leads"
	"github.com/upb/activity-sync/services/subscription"
)

// ledgerPurgeInterval is how often processed deliveries past retention are removed
const ledgerPurgeInterval = time.Hour

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Delivery ledger, nil when no database is configured
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	Ledger      repositories.DeliveryLedger

	// Remote systems
	CRM      crm.RPC
	Identity *identity.Client // nil when the identity provider is not configured

	// Services
	Contacts          *contacts.Resolver
	SubscriptionCache *subscription.Cache
	Tiers             *subscription.TierResolver
	Subscriptions     *subscription.Service
	Offers            *subscription.OfferEngine
	Catalog           *subscription.Catalog
	Leads             *leads.Service
	Activity          *activity.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	stopWorkers chan struct{}
	workers     sync.WaitGroup
	closeOnce   sync.Once
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if !cfg.OdooConfigured() {
		logger.Warn("odoo not configured, CRM calls will fail")
	}
	return NewDependenciesWithCRM(ctx, cfg, crm.NewClient(cfg.Odoo, logger), logger)
}

// NewDependenciesWithCRM wires the application around an existing CRM
// transport. Used by NewDependencies and by tests with an in-memory CRM.
func NewDependenciesWithCRM(ctx context.Context, cfg *config.Config, rpc crm.RPC, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     observability.NewMetrics(),
		CRM:         rpc,
		stopWorkers: make(chan struct{}),
	}

	// Initialize the delivery ledger
	if err := deps.initLedger(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize delivery ledger: %w", err)
	}

	// Initialize the identity provider client
	deps.initIdentity(cfg)

	// Initialize CRM-backed services
	deps.initServices(cfg)

	// Initialize auth (Keycloak bearer tokens)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Bool("ledger", deps.Ledger != nil),
		zap.Bool("identity_provider", deps.Identity != nil))
	return deps, nil
}

// initLedger connects to the ledger database when one is configured
func (d *Dependencies) initLedger(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Warn("no database configured, webhook deduplication disabled")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(ctx, *cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Ledger = factory.NewRepositories().Ledger

	d.Logger.Info("delivery ledger initialized",
		zap.String("connection", cfg.Database.LogString()),
		zap.Duration("retention", cfg.Database.LedgerRetention))
	return nil
}

func (d *Dependencies) initIdentity(cfg *config.Config) {
	if !cfg.KeycloakConfigured() || cfg.Keycloak.ClientID == "" {
		d.Logger.Warn("keycloak service account not configured, incomplete events cannot be backfilled")
		return
	}
	d.Identity = identity.NewClient(cfg.Keycloak, d.Logger)
}

func (d *Dependencies) initServices(cfg *config.Config) {
	d.Contacts = contacts.NewResolver(d.CRM, d.Logger)

	d.SubscriptionCache = subscription.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	d.Tiers = subscription.NewTierResolver(d.CRM, cfg.Catalog, d.Logger)
	d.Subscriptions = subscription.NewService(d.SubscriptionCache, d.Contacts, d.Tiers, d.Logger)
	d.Offers = subscription.NewOfferEngine(d.Subscriptions, d.Contacts, d.CRM, cfg.Catalog, cfg.Promotion, cfg.Cache.TTL, d.Logger)
	d.Catalog = subscription.NewCatalog(d.CRM, cfg.Catalog, d.Logger)

	d.Leads = leads.NewService(d.CRM, d.Logger)

	opts := []activity.Option{
		activity.WithSubscriptions(d.Subscriptions),
		activity.WithRecorder(d.Metrics),
	}
	if d.Ledger != nil {
		opts = append(opts, activity.WithLedger(d.Ledger))
	}
	if d.Identity != nil {
		opts = append(opts, activity.WithIdentityProvider(d.Identity))
	}
	d.Activity = activity.NewService(d.Contacts, d.Logger, opts...)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.KeycloakConfigured() {
		d.Logger.Warn("keycloak not configured, authenticated endpoints disabled")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	validator := keycloak.NewValidator(cfg.Keycloak)
	d.AuthMiddleware = middleware.NewAuthMiddleware(&keycloakTokenValidatorAdapter{validator: validator}, d.Logger)
	d.Logger.Info("keycloak token validation enabled",
		zap.String("issuer", cfg.Keycloak.IssuerURL()),
		zap.Strings("clients", cfg.Keycloak.Audience))
}

// StartWorkers runs the cache cleanup and ledger purge loops until Close
func (d *Dependencies) StartWorkers() {
	if d.Config.Cache.CleanupInterval > 0 {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			d.SubscriptionCache.StartCleanupWorker(d.Config.Cache.CleanupInterval, d.stopWorkers)
		}()
	}

	if d.Ledger != nil && d.Config.Database.LedgerRetention > 0 {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			d.purgeLedger(ledgerPurgeInterval)
		}()
	}
}

func (d *Dependencies) purgeLedger(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			removed, err := d.PurgeLedger(ctx, d.Config.Database.LedgerRetention)
			cancel()
			if err != nil {
				d.Logger.Error("ledger purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				d.Logger.Info("ledger purged", zap.Int64("removed", removed))
			}
		case <-d.stopWorkers:
			return
		}
	}
}

// PurgeLedger removes processed deliveries older than retention
func (d *Dependencies) PurgeLedger(ctx context.Context, retention time.Duration) (int64, error) {
	if d.Ledger == nil {
		return 0, errors.New("no delivery ledger configured")
	}
	return d.Ledger.Purge(ctx, time.Now().UTC().Add(-retention))
}

// keycloakTokenValidatorAdapter adapts keycloak.Validator to middleware.TokenValidator
type keycloakTokenValidatorAdapter struct {
	validator *keycloak.Validator
}

func (a *keycloakTokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	claims := &middleware.Claims{
		Sub:      parsed.Subject,
		Email:    parsed.Email,
		Azp:      parsed.AuthorizedParty,
		Username: parsed.PreferredUsername,
		Iss:      parsed.Issuer,
	}
	if parsed.ExpiresAt != nil {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	if parsed.IssuedAt != nil {
		claims.Iat = parsed.IssuedAt.Unix()
	}
	return claims, nil
}

// rejectAllValidator rejects all tokens (used when Keycloak is not configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error
	d.closeOnce.Do(func() {
		close(d.stopWorkers)

		done := make(chan struct{})
		go func() {
			d.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
		}

		// Close database connection
		if d.RepoFactory != nil {
			if err := d.RepoFactory.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			} else {
				d.Logger.Info("database connection closed")
			}
		}

		// Sync logger
		if d.Logger != nil {
			_ = d.Logger.Sync()
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
