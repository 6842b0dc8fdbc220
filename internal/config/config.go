package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	AI        AIConfig        `mapstructure:"ai"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Search    SearchConfig    `mapstructure:"search"`
	Issuer    IssuerConfig    `mapstructure:"issuer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Converter ConverterConfig `mapstructure:"converter"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the bookkeeping database connection
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GmailConfig holds mailbox access configuration
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPMailbox  string `mapstructure:"imap_mailbox"`
	MarkRead     bool   `mapstructure:"mark_read"`
}

// AIConfig holds the model endpoint and call policy
type AIConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	APIKey           string        `mapstructure:"api_key"`
	Temperature      float64       `mapstructure:"temperature"`
	MaxRetries       int           `mapstructure:"max_retries"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	ExtractionBudget time.Duration `mapstructure:"extraction_budget"`
	MaxCallsPerMin   int           `mapstructure:"max_calls_per_minute"`
	RateLimitMaxWait time.Duration `mapstructure:"rate_limit_max_wait"`
	MaxTextChars     int           `mapstructure:"max_text_chars"`
	InlineMaxBytes   int64         `mapstructure:"inline_max_bytes"`
	PromptTemplate   string        `mapstructure:"prompt_template"`
}

// BudgetConfig holds the nested time budgets
type BudgetConfig struct {
	Run              time.Duration `mapstructure:"run"`
	Message          time.Duration `mapstructure:"message"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
}

// SchedulerConfig holds trigger and batching configuration
type SchedulerConfig struct {
	IntervalMinutes   int           `mapstructure:"interval_minutes"`
	MaxThreadsPerRun  int           `mapstructure:"max_threads_per_run"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchPause        time.Duration `mapstructure:"batch_pause"`
	ContinuationDelay time.Duration `mapstructure:"continuation_delay"`
	MaxContinuations  int           `mapstructure:"max_continuations"`
	AutoStart         bool          `mapstructure:"auto_start"`
}

// SearchConfig holds the mailbox query strategies
type SearchConfig struct {
	Keywords        []string      `mapstructure:"keywords"`
	Label           string        `mapstructure:"label"`
	InitialLookback time.Duration `mapstructure:"initial_lookback"`
	Overlap         time.Duration `mapstructure:"overlap"`
	MaxResults      int           `mapstructure:"max_results"`
}

// IssuerConfig is the one list of our own entity names and filter keywords
type IssuerConfig struct {
	Aliases            []string `mapstructure:"aliases"`
	MarketingKeywords  []string `mapstructure:"marketing_keywords"`
	NonInvoicePatterns []string `mapstructure:"non_invoice_patterns"`
	InvoiceKeywords    []string `mapstructure:"invoice_keywords"`
}

// StorageConfig selects where invoice files are kept
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalRoot   string `mapstructure:"local_root"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Prefix    string `mapstructure:"s3_prefix"`
}

// LedgerConfig holds the spreadsheet ledger location
type LedgerConfig struct {
	Path        string `mapstructure:"path"`
	Sheet       string `mapstructure:"sheet"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

// ConverterConfig holds the document conversion service endpoint
type ConverterConfig struct {
	ExtractURL string        `mapstructure:"extract_url"`
	RenderURL  string        `mapstructure:"render_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and config.yaml
func LoadConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/harvester.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("gmail.use_imap", false)
	v.SetDefault("gmail.imap_host", "imap.gmail.com")
	v.SetDefault("gmail.imap_port", 993)
	v.SetDefault("gmail.imap_mailbox", "INBOX")
	v.SetDefault("gmail.mark_read", true)

	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("ai.call_timeout", "25s")
	v.SetDefault("ai.extraction_budget", "40s")
	v.SetDefault("ai.max_calls_per_minute", 10)
	v.SetDefault("ai.rate_limit_max_wait", "30s")
	v.SetDefault("ai.max_text_chars", 30000)
	v.SetDefault("ai.inline_max_bytes", 4<<20)

	v.SetDefault("budget.run", "5m30s")
	v.SetDefault("budget.message", "45s")
	v.SetDefault("budget.breaker_threshold", 2)

	v.SetDefault("scheduler.interval_minutes", 60)
	v.SetDefault("scheduler.max_threads_per_run", 50)
	v.SetDefault("scheduler.batch_size", 5)
	v.SetDefault("scheduler.batch_pause", "2s")
	v.SetDefault("scheduler.continuation_delay", "1m")
	v.SetDefault("scheduler.max_continuations", 10)
	v.SetDefault("scheduler.auto_start", true)

	v.SetDefault("search.keywords", []string{"factura", "invoice", "recibo", "receipt"})
	v.SetDefault("search.initial_lookback", "2160h")
	v.SetDefault("search.overlap", "24h")
	v.SetDefault("search.max_results", 500)

	v.SetDefault("issuer.non_invoice_patterns", []string{
		`pedido (confirmado|enviado|en camino)`,
		`(your )?order (has )?(shipped|confirmed)`,
		`newsletter`,
		`seguimiento de (tu|su) envío`,
	})

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_root", "data/invoices")
	v.SetDefault("storage.s3_region", "eu-west-1")

	v.SetDefault("ledger.path", "data/ledger.xlsx")
	v.SetDefault("ledger.sheet", "Facturas")
	v.SetDefault("ledger.recent_limit", 500)

	v.SetDefault("converter.timeout", "20s")
	v.SetDefault("converter.max_retries", 2)

	v.SetDefault("log.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Gmail
	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	v.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	v.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")

	// AI
	v.BindEnv("ai.endpoint", "AI_ENDPOINT")
	v.BindEnv("ai.api_key", "AI_API_KEY")

	// Storage
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.s3_bucket", "S3_BUCKET")
	v.BindEnv("storage.s3_access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.s3_secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.s3_endpoint", "S3_ENDPOINT")

	// Converter
	v.BindEnv("converter.extract_url", "CONVERTER_EXTRACT_URL")
	v.BindEnv("converter.render_url", "CONVERTER_RENDER_URL")

	v.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	} else {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.AI.Endpoint == "" {
		return fmt.Errorf("ai endpoint is required")
	}
	if c.AI.CallTimeout <= 0 || c.Budget.Message <= 0 || c.Budget.Run <= 0 {
		return fmt.Errorf("ai call timeout and message and run budgets must be positive")
	}
	if c.AI.CallTimeout >= c.Budget.Message {
		return fmt.Errorf("ai call timeout (%s) must be shorter than the message budget (%s)", c.AI.CallTimeout, c.Budget.Message)
	}
	if c.Budget.Message >= c.Budget.Run {
		return fmt.Errorf("message budget (%s) must be shorter than the run budget (%s)", c.Budget.Message, c.Budget.Run)
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}
	if c.Scheduler.MaxThreadsPerRun <= 0 || c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler max_threads_per_run and batch_size must be greater than 0")
	}

	if len(c.Issuer.Aliases) == 0 {
		return fmt.Errorf("at least one issuer alias is required")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("storage local_root is required")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage s3_bucket is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	return nil
}
