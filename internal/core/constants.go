// Package core provides shared constants, configuration and date helpers for txcache.
package core

// Plaid API configuration
const (
	PlaidVersion    = "2020-09-14"
	PlaidClientName = "Black Wall Street"
	PlaidLanguage   = "en"
	PlaidCountry    = "US"
	PlaidProduct    = "transactions"
)

// PlaidEnvironments maps PLAID_ENV values to API base URLs.
var PlaidEnvironments = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Environment variable names
const (
	EnvPlaidClientID      = "PLAID_CLIENT_ID"
	EnvPlaidSecret        = "PLAID_SECRET"
	EnvPlaidEnv           = "PLAID_ENV"
	EnvPlaidRedirectURI   = "PLAID_SANDBOX_REDIRECT_URI"
	EnvPlaidVersion       = "PLAID_VERSION"
	EnvPlaidClientName    = "PLAID_CLIENT_NAME"
	EnvPort               = "PORT"
	EnvTimezone           = "TXCACHE_TIMEZONE"
	EnvStore              = "TXCACHE_STORE"
	EnvStorePath          = "TXCACHE_STORE_PATH"
	EnvFirestoreProject   = "GOOGLE_CLOUD_PROJECT"
	EnvMaxParallelFetches = "TXCACHE_MAX_PARALLEL_FETCHES"
	EnvSerializePerUser   = "TXCACHE_SERIALIZE_PER_USER"
	EnvStaticDir          = "TXCACHE_STATIC_DIR"
	EnvLogFormat          = "TXCACHE_LOG_FORMAT"
)

// Store kinds
const (
	StoreMemory     = "memory"
	StoreFilesystem = "filesystem"
	StoreSQLite     = "sqlite"
	StoreFirestore  = "firestore"
)

// Defaults
const (
	DefaultPlaidEnv           = "sandbox"
	DefaultPort               = "8080"
	DefaultTZ                 = "UTC"
	DefaultStore              = StoreFilesystem
	DefaultStaticDir          = "public"
	DefaultWindowDays         = 30
	DefaultMaxParallelFetches = 8
	DefaultLogFormat          = "text"
)

// Date formats
const (
	APIDateFmt = "2006-01-02"
)

// Pagination
const (
	TransactionsPageSize = 500
)

// Version is the current txcache version.
const Version = "0.3.0"
