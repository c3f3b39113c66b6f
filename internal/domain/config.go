package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Profile selects the default backends: "standalone" or "distributed".
	Profile Profile `koanf:"profile" validate:"oneof=standalone distributed"`

	// Component configurations
	Ledger     LedgerConfig     `koanf:"ledger"`
	Analytics  AnalyticsConfig  `koanf:"analytics"`
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
	Worker     WorkerConfig     `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// Profile determines which backends are used by default.
type Profile string

const (
	// ProfileStandalone runs on SQLite, in-process channels and an LRU cache.
	ProfileStandalone Profile = "standalone"

	// ProfileDistributed runs on PostgreSQL, NATS and Redis.
	ProfileDistributed Profile = "distributed"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  int      `koanf:"read_timeout"`  // seconds
	WriteTimeout int      `koanf:"write_timeout"` // seconds
	CORSOrigins  []string `koanf:"cors_origins"`
	RateLimit    int      `koanf:"rate_limit"` // requests per minute per IP, 0 disables
}

// LedgerConfig controls where transaction lines come from and how long a
// loaded snapshot is reused.
type LedgerConfig struct {
	// Sources lists loader strategies in fallback order: "csv", "repository".
	Sources []string `koanf:"sources"`

	// CSVDir holds one <dataset>.csv file per dataset.
	CSVDir string `koanf:"csv_dir"`

	SnapshotTTL time.Duration `koanf:"snapshot_ttl"`

	// ServeStale returns the previous snapshot while a refresh runs.
	ServeStale bool `koanf:"serve_stale"`

	// BreakerFailures opens the repository loader breaker after this many
	// consecutive failures.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// AnalyticsConfig holds the tunable constants of the analytic engines.
type AnalyticsConfig struct {
	// RFM
	MinCustomers int `koanf:"min_customers" validate:"min=1"`

	// Basket and mining
	VocabularySize    int     `koanf:"vocabulary_size" validate:"min=2"`
	MaxBasketInvoices int     `koanf:"max_basket_invoices"`
	MaxMatrixCells    int     `koanf:"max_matrix_cells"`
	MaxCandidates     int     `koanf:"max_candidates"`
	DefaultMinSupport float64 `koanf:"default_min_support" validate:"gt=0,lt=1"`
	DefaultMinConf    float64 `koanf:"default_min_confidence" validate:"gte=0,lte=1"`
	DefaultMaxLength  int     `koanf:"default_max_length"`
	DefaultTopN       int     `koanf:"default_top_n"`
	RecommendMinSupp  float64 `koanf:"recommend_min_support" validate:"gt=0,lt=1"`
	RecommendVocab    int     `koanf:"recommend_vocabulary_size" validate:"min=2"`
	RecommendInvoices int     `koanf:"recommend_max_invoices"`

	// Risk scoring
	Risk RiskConfig `koanf:"risk"`

	// Policy optimization
	Policy PolicyConfig `koanf:"policy"`
}

// RiskConfig holds the risk scorer weights and defaults.
type RiskConfig struct {
	CustomerWeight  float64 `koanf:"customer_weight"`
	ProductWeight   float64 `koanf:"product_weight"`
	QuantityWeight  float64 `koanf:"quantity_weight"`
	ValueWeight     float64 `koanf:"value_weight"`
	DefaultCustomer float64 `koanf:"default_customer_rate" validate:"gte=0,lte=100"`
	DefaultProduct  float64 `koanf:"default_product_rate" validate:"gte=0,lte=100"`
	NeutralScore    float64 `koanf:"neutral_score" validate:"gte=0,lte=100"`
}

// PolicyConfig holds the policy optimizer defaults and budgets.
type PolicyConfig struct {
	CostRatio        float64 `koanf:"cost_ratio" validate:"gte=0,lt=1"`
	GridStep         float64 `koanf:"grid_step" validate:"gt=0,lte=100"`
	MaxEvaluations   int     `koanf:"max_evaluations"`
	Workers          int     `koanf:"workers"`
	RefineLevels     int     `koanf:"refine_levels"`
	SampleSize       int     `koanf:"sample_size" validate:"min=1"`
	MaxSampleSize    int     `koanf:"max_sample_size"`
	SampleSeed       uint64  `koanf:"sample_seed"`
	ReturnCost       float64 `koanf:"return_cost"`
	ConversionImpact float64 `koanf:"conversion_impact" validate:"gte=0,lte=1"`
}

// WorkerConfig controls the asynchronous analysis worker.
type WorkerConfig struct {
	Enabled bool `koanf:"enabled"`

	// Datasets the worker consumes requests for.
	Datasets    []string `koanf:"datasets"`
	Concurrency int      `koanf:"concurrency" validate:"min=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	ExporterType string `koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `koanf:"endpoint"`
}

// DefaultAnalyticsConfig returns the analytic constants used when nothing
// else is configured.
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		MinCustomers:      5,
		VocabularySize:    100,
		MaxBasketInvoices: 50000,
		MaxMatrixCells:    20_000_000,
		MaxCandidates:     250_000,
		DefaultMinSupport: 0.01,
		DefaultMinConf:    0.3,
		DefaultMaxLength:  2,
		DefaultTopN:       20,
		RecommendMinSupp:  0.005,
		RecommendVocab:    50,
		RecommendInvoices: 10000,
		Risk: RiskConfig{
			CustomerWeight:  0.4,
			ProductWeight:   0.3,
			QuantityWeight:  0.2,
			ValueWeight:     0.1,
			DefaultCustomer: 30,
			DefaultProduct:  20,
			NeutralScore:    50,
		},
		Policy: PolicyConfig{
			CostRatio:        0.3,
			GridStep:         5,
			MaxEvaluations:   10000,
			Workers:          8,
			RefineLevels:     2,
			SampleSize:       1000,
			MaxSampleSize:    100000,
			SampleSeed:       42,
			ReturnCost:       15,
			ConversionImpact: 0.1,
		},
	}
}

// DefaultConfig returns a default configuration for the standalone profile.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			CORSOrigins:  []string{"*"},
			RateLimit:    600,
		},
		Profile: ProfileStandalone,
		Ledger: LedgerConfig{
			Sources:         []string{"csv", "repository"},
			CSVDir:          "./data",
			SnapshotTTL:     time.Hour,
			ServeStale:      true,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Analytics: DefaultAnalyticsConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:     true,
			Datasets:    []string{"default"},
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration backed by PostgreSQL, Redis
// and NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDistributed
	cfg.Ledger.Sources = []string{"repository", "csv"}
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ResultTTL:      15 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
