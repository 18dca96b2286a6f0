package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Captcha      CaptchaConfig      `mapstructure:"captcha"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Journal      JournalConfig      `mapstructure:"journal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// SubmitRatePerHour caps submissions per client IP; 0 disables the
	// limiter (development).
	SubmitRatePerHour int `mapstructure:"submit_rate_per_hour"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LedgerConfig locates the shared workbooks, one per form kind.
type LedgerConfig struct {
	ReimbursementPath  string `mapstructure:"reimbursement_path"`
	ReimbursementSheet string `mapstructure:"reimbursement_sheet"`
	PurchasePath       string `mapstructure:"purchase_path"`
	PurchaseSheet      string `mapstructure:"purchase_sheet"`
}

// StorageConfig holds object store settings.
type StorageConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	AccessKey           string `mapstructure:"access_key"`
	SecretKey           string `mapstructure:"secret_key"`
	UseSSL              bool   `mapstructure:"use_ssl"`
	Bucket              string `mapstructure:"bucket"`
	LinkBase            string `mapstructure:"link_base"`
	ReimbursementFolder string `mapstructure:"reimbursement_folder"`
	PurchaseFolder      string `mapstructure:"purchase_folder"`
}

// CaptchaConfig holds captcha verification settings.
type CaptchaConfig struct {
	Secret    string        `mapstructure:"secret"`
	VerifyURL string        `mapstructure:"verify_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	LarkAppID              string `mapstructure:"lark_app_id"`
	LarkAppSecret          string `mapstructure:"lark_app_secret"`
	LarkChatID             string `mapstructure:"lark_chat_id"`
	SMTPHost               string `mapstructure:"smtp_host"`
	SMTPPort               int    `mapstructure:"smtp_port"`
	SMTPUsername           string `mapstructure:"smtp_username"`
	SMTPPassword           string `mapstructure:"smtp_password"`
	EmailFrom              string `mapstructure:"email_from"`
	ReimbursementRecipient string `mapstructure:"reimbursement_recipient"`
	PurchaseRecipient      string `mapstructure:"purchase_recipient"`
}

// OrchestratorConfig holds the fixed retry policy.
type OrchestratorConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// JournalConfig holds the local attempt journal settings.
type JournalConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.request_timeout", 5*time.Minute)
	viper.SetDefault("server.submit_rate_per_hour", 10)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")

	viper.SetDefault("ledger.reimbursement_sheet", "Sheet1")
	viper.SetDefault("ledger.purchase_sheet", "Sheet1")

	viper.SetDefault("storage.use_ssl", true)
	viper.SetDefault("storage.reimbursement_folder", "reimbursement-requests")
	viper.SetDefault("storage.purchase_folder", "purchase-approvals")

	viper.SetDefault("captcha.timeout", 5*time.Second)

	viper.SetDefault("notify.smtp_host", "smtp.gmail.com")
	viper.SetDefault("notify.smtp_port", 587)

	viper.SetDefault("orchestrator.max_attempts", 5)
	viper.SetDefault("orchestrator.base_delay", 2*time.Second)
	viper.SetDefault("orchestrator.max_delay", 60*time.Second)

	viper.SetDefault("journal.path", "data/journal.db")
	viper.SetDefault("journal.max_open_conns", 25)
	viper.SetDefault("journal.max_idle_conns", 5)
	viper.SetDefault("journal.conn_max_lifetime", 5*time.Minute)
}

func bindEnvVars() {
	viper.BindEnv("captcha.secret", "CAPTCHA_SECRET")
	viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	viper.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	viper.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	viper.BindEnv("ledger.reimbursement_path", "RR_LEDGER_PATH")
	viper.BindEnv("ledger.purchase_path", "PA_LEDGER_PATH")
	viper.BindEnv("notify.lark_app_id", "LARK_APP_ID")
	viper.BindEnv("notify.lark_app_secret", "LARK_APP_SECRET")
	viper.BindEnv("notify.lark_chat_id", "LARK_CHAT_ID")
	viper.BindEnv("notify.smtp_username", "EMAIL_ADDRESS")
	viper.BindEnv("notify.smtp_password", "EMAIL_PASSWORD")
	viper.BindEnv("notify.email_from", "EMAIL_ADDRESS")
	viper.BindEnv("notify.reimbursement_recipient", "RR_RECIPIENT_EMAIL")
	viper.BindEnv("notify.purchase_recipient", "PA_RECIPIENT_EMAIL")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Captcha.Secret == "" {
		return fmt.Errorf("captcha.secret is required")
	}
	if c.Ledger.ReimbursementPath == "" {
		return fmt.Errorf("ledger.reimbursement_path is required")
	}
	if c.Ledger.PurchasePath == "" {
		return fmt.Errorf("ledger.purchase_path is required")
	}
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage.endpoint is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Storage.LinkBase == "" {
		return fmt.Errorf("storage.link_base is required")
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		return fmt.Errorf("orchestrator.max_attempts must be positive")
	}
	return nil
}
