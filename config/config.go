package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DateLayout is the calendar date format used for promotion windows.
const DateLayout = "2006-01-02"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: delivery ledger. When nil, webhook deduplication is disabled.
	Keycloak      KeycloakConfig
	Odoo          OdooConfig
	Catalog       CatalogConfig
	Promotion     PromotionConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration // Upper bound for one webhook or subscription call, remote calls included
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	LedgerRetention  time.Duration // Processed deliveries older than this are purged
}

// KeycloakConfig holds identity provider settings. The service account
// (ClientID/ClientSecret) reads users through the admin API; Audience lists
// the clients whose bearer tokens are accepted on user-facing endpoints.
type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
	JWKSCacheTTL time.Duration
	Audience     []string
}

// OdooConfig holds CRM JSON-RPC settings
type OdooConfig struct {
	URL            string
	Database       string
	Username       string
	APIKey         string
	RequestTimeout time.Duration
}

// CatalogConfig names the CRM products that map to subscription tiers
type CatalogConfig struct {
	FreeProduct      string
	FreePriceProduct string // Product whose prices are shown for the free tier
	PlusProduct      string
	ProProduct       string
	PlanID           int     // Recurrence plan used when creating subscription orders
	MonthlyPlanID    int     // Pricing plans shown as monthly and yearly prices
	YearlyPlanID     int
	TaxRate          float64 // Flat tax applied to displayed prices
}

// PromotionConfig holds the Plus offer window. Before Cutoff the offer
// expires on FixedExpiry; afterwards it lasts one calendar month.
type PromotionConfig struct {
	Cutoff      time.Time
	FixedExpiry time.Time
	Discount    float64
}

// CacheConfig holds subscription cache settings
type CacheConfig struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cutoff, err := getEnvAsDate("PROMO_CUTOFF", "2025-01-01")
	if err != nil {
		return nil, err
	}
	fixedExpiry, err := getEnvAsDate("PROMO_FIXED_EXPIRY", "2025-02-01")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 45*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
		Database: loadDatabaseConfig(),
		Keycloak: KeycloakConfig{
			BaseURL:      strings.TrimSuffix(getEnv("KEYCLOAK_BASE_URL", ""), "/"),
			Realm:        getEnv("KEYCLOAK_REALM", ""),
			ClientID:     getEnv("KEYCLOAK_CLIENT_ID", ""),
			ClientSecret: getEnv("KEYCLOAK_CLIENT_SECRET", ""),
			HTTPTimeout:  getEnvAsDuration("KEYCLOAK_TIMEOUT", 10*time.Second),
			JWKSCacheTTL: getEnvAsDuration("KEYCLOAK_JWKS_CACHE_TTL", time.Hour),
			Audience:     getEnvAsList("KEYCLOAK_AUDIENCE", []string{"pictime", "pictalk"}),
		},
		Odoo: OdooConfig{
			URL:            strings.TrimSuffix(getEnv("ODOO_URL", ""), "/"),
			Database:       getEnv("ODOO_DB", ""),
			Username:       getEnv("ODOO_USER", ""),
			APIKey:         getEnv("ODOO_API", ""),
			RequestTimeout: getEnvAsDuration("ODOO_TIMEOUT", 15*time.Second),
		},
		Catalog: CatalogConfig{
			FreeProduct:      getEnv("CATALOG_FREE_PRODUCT", "Agenda Free"),
			FreePriceProduct: getEnv("CATALOG_FREE_PRICE_PRODUCT", "Agenda basic (free)"),
			PlusProduct:      getEnv("CATALOG_PLUS_PRODUCT", "Agenda Plus"),
			ProProduct:       getEnv("CATALOG_PRO_PRODUCT", "Agenda Pro"),
			PlanID:           getEnvAsInt("CATALOG_PLAN_ID", 1),
			MonthlyPlanID:    getEnvAsInt("CATALOG_MONTHLY_PLAN_ID", 1),
			YearlyPlanID:     getEnvAsInt("CATALOG_YEARLY_PLAN_ID", 2),
			TaxRate:          getEnvAsFloat("CATALOG_TAX_RATE", 0.2),
		},
		Promotion: PromotionConfig{
			Cutoff:      cutoff,
			FixedExpiry: fixedExpiry,
			Discount:    getEnvAsFloat("PROMO_DISCOUNT", 100),
		},
		Cache: CacheConfig{
			TTL:             getEnvAsDuration("SUBSCRIPTION_CACHE_TTL", 24*time.Hour),
			MaxEntries:      getEnvAsInt("SUBSCRIPTION_CACHE_MAX_ENTRIES", 10000),
			CleanupInterval: getEnvAsDuration("SUBSCRIPTION_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	// CRM and identity provider are required in production
	if c.IsProduction() {
		if c.Odoo.URL == "" || c.Odoo.Database == "" || c.Odoo.Username == "" || c.Odoo.APIKey == "" {
			return fmt.Errorf("odoo URL, database, user and API key are required in production")
		}
		if c.Keycloak.BaseURL == "" || c.Keycloak.Realm == "" {
			return fmt.Errorf("keycloak base URL and realm are required in production")
		}
		if c.Keycloak.ClientID == "" || c.Keycloak.ClientSecret == "" {
			return fmt.Errorf("keycloak service account credentials are required in production")
		}
	}

	if c.Odoo.URL != "" {
		if _, err := url.ParseRequestURI(c.Odoo.URL); err != nil {
			return fmt.Errorf("invalid ODOO_URL: %w", err)
		}
	}

	if c.Catalog.PlusProduct == "" {
		return fmt.Errorf("plus product name is required")
	}

	if c.Promotion.Discount < 0 || c.Promotion.Discount > 100 {
		return fmt.Errorf("promotion discount must be between 0 and 100, got %v", c.Promotion.Discount)
	}
	if !c.Promotion.FixedExpiry.After(c.Promotion.Cutoff) {
		return fmt.Errorf("promotion fixed expiry must be after the cutoff")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("subscription cache TTL must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// OdooConfigured reports whether enough is set to reach the CRM
func (c *Config) OdooConfigured() bool {
	return c.Odoo.URL != "" && c.Odoo.Database != ""
}

// KeycloakConfigured reports whether the identity provider can be reached
func (c *Config) KeycloakConfigured() bool {
	return c.Keycloak.BaseURL != "" && c.Keycloak.Realm != ""
}

// IssuerURL returns the realm issuer used in access tokens
func (c *KeycloakConfig) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", c.BaseURL, c.Realm)
}

// TokenURL returns the OpenID Connect token endpoint for the realm
func (c *KeycloakConfig) TokenURL() string {
	return c.IssuerURL() + "/protocol/openid-connect/token"
}

// JWKSURL returns the realm signing keys endpoint
func (c *KeycloakConfig) JWKSURL() string {
	return c.IssuerURL() + "/protocol/openid-connect/certs"
}

// AdminUsersURL returns the admin API users collection for the realm
func (c *KeycloakConfig) AdminUsersURL() string {
	return fmt.Sprintf("%s/admin/realms/%s/users", c.BaseURL, c.Realm)
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads the ledger database from DATABASE_URL or DB_HOST.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		LedgerRetention: getEnvAsDuration("LEDGER_RETENTION", 7*24*time.Hour),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	host := getEnv("DB_HOST", "")
	if host == "" {
		return nil
	}
	pool.Host = host
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "sync")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "activity_sync")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return &pool
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 3000)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 3000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsDate parses a YYYY-MM-DD value in UTC. A malformed value is an
// error, not a fallback to the default.
func getEnvAsDate(key, defaultValue string) (time.Time, error) {
	valueStr := getEnv(key, defaultValue)
	value, err := time.ParseInLocation(DateLayout, valueStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: expected %s", key, valueStr, DateLayout)
	}
	return value, nil
}
