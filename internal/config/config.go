package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	API struct {
		BaseURL        string        `mapstructure:"baseURL"`        // Remote CRM backend base URL
		SessionCookie  string        `mapstructure:"sessionCookie"`  // Cookie value for the authenticated session
		RequestTimeout time.Duration `mapstructure:"requestTimeout"` // Per-request timeout
	} `mapstructure:"api"`
	Store struct {
		Path      string `mapstructure:"path"`      // SQLite file path; ":memory:" for tests
		Namespace string `mapstructure:"namespace"` // Key prefix for snapshot rows
	} `mapstructure:"store"`
	Contacts struct {
		PlaceholderName     string `mapstructure:"placeholderName"`     // Fallback display name for nameless contacts
		UsernameHistorySize int    `mapstructure:"usernameHistorySize"` // Max retained previous usernames
	} `mapstructure:"contacts"`
	Bootstrap struct {
		SeedDemoData bool   `mapstructure:"seedDemoData"` // Seed example conversations when the store is empty
		OwnerName    string `mapstructure:"ownerName"`    // Display name for the canonical first owner
	} `mapstructure:"bootstrap"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Reconcile ReconcileWorkerPoolConfig `mapstructure:"reconcile"`
	} `mapstructure:"workerPools"`
	SyncFlush FlushConfig `mapstructure:"syncFlush"`
}

// ReconcileWorkerPoolConfig holds configuration for the reconcile worker pool
type ReconcileWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// FlushConfig holds configuration for the pending-sync flusher
type FlushConfig struct {
	Interval   time.Duration `mapstructure:"interval"`   // Scan interval for pending records
	MaxRetries int           `mapstructure:"maxRetries"` // Attempts before a record is marked failed
	BaseDelay  time.Duration `mapstructure:"baseDelay"`  // Base delay for per-record exponential backoff
	MaxDelay   time.Duration `mapstructure:"maxDelay"`   // Cap for per-record exponential backoff
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// Create new viper instance
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("api.requestTimeout", 10*time.Second)

	v.SetDefault("store.path", "tg-crm-sync.db")
	v.SetDefault("store.namespace", "tg_crm")

	v.SetDefault("contacts.placeholderName", "Unknown contact")
	v.SetDefault("contacts.usernameHistorySize", 20)

	v.SetDefault("bootstrap.seedDemoData", false)
	v.SetDefault("bootstrap.ownerName", "Primary account")

	// WorkerPools Defaults
	v.SetDefault("workerPools.reconcile.poolSize", 10)
	v.SetDefault("workerPools.reconcile.queueSize", 10000)
	v.SetDefault("workerPools.reconcile.maxBlock", time.Second)
	v.SetDefault("workerPools.reconcile.expiryTime", time.Minute)

	// Pending-sync flusher defaults
	v.SetDefault("syncFlush.interval", 30*time.Second)
	v.SetDefault("syncFlush.maxRetries", 5)
	v.SetDefault("syncFlush.baseDelay", time.Minute)
	v.SetDefault("syncFlush.maxDelay", 15*time.Minute)

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-tg-crm-sync")
	v.AddConfigPath("/etc/daisi-tg-crm-sync")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if baseURL := os.Getenv("API_BASE_URL"); baseURL != "" {
		v.Set("api.baseURL", baseURL)
	}
	if cookie := os.Getenv("SESSION_COOKIE"); cookie != "" {
		v.Set("api.sessionCookie", cookie)
	}
	if storePath := os.Getenv("STORE_PATH"); storePath != "" {
		v.Set("store.path", storePath)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
