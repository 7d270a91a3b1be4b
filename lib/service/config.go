package service

type Config struct {
	DatabaseUri             string  `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns        int     `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int     `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int     `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN               string  `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath             string  `envconfig:"LOG_FILE_PATH"`
	AdminToken              string  `envconfig:"ADMIN_TOKEN"`
	Host                    string  `envconfig:"HOST" default:"localhost:3000"`
	Port                    int     `envconfig:"PORT" default:"3000"`
	EnablePrometheus        bool    `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int     `envconfig:"PROMETHEUS_PORT" default:"9092"`
	DefaultRateLimit        int     `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit         int     `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit          int     `envconfig:"BURST_RATE_LIMIT" default:"1"`

	// Master seed for deposit address derivation. Exactly one of the two
	// must be set. Held in memory only, never logged.
	SeedMnemonic string `envconfig:"SEED_MNEMONIC"`
	SeedHex      string `envconfig:"SEED_HEX"`

	// Native (EVM) family
	EVMRpcUrl          string `envconfig:"EVM_RPC_URL"`
	EVMChainID         int64  `envconfig:"EVM_CHAIN_ID" default:"1"`
	EVMTreasuryAddress string `envconfig:"EVM_TREASURY_ADDRESS"`
	EVMOperatorKeyHex  string `envconfig:"EVM_OPERATOR_KEY_HEX"`

	// Token (Solana) family
	SolanaRpcUrl          string `envconfig:"SOLANA_RPC_URL"`
	SolanaTreasuryAddress string `envconfig:"SOLANA_TREASURY_ADDRESS"`
	SolanaOperatorKey     string `envconfig:"SOLANA_OPERATOR_KEY"`

	// Payment detection runs on a coarse cadence; sweeps are rare and
	// bounded by a confirmation wait per chain call.
	WatchIntervalSeconds  int `envconfig:"WATCH_INTERVAL_SECONDS" default:"60"`
	ConfirmTimeoutSeconds int `envconfig:"CONFIRM_TIMEOUT_SECONDS" default:"120"`

	WebhookUrl string `envconfig:"WEBHOOK_URL"`

	RabbitMQUri                    string `envconfig:"RABBITMQ_URI"`
	RabbitMQInvoiceExchange        string `envconfig:"RABBITMQ_INVOICE_EXCHANGE" default:"sweephub_invoice"`
	RabbitMQSweepConsumerQueueName string `envconfig:"RABBITMQ_SWEEP_CONSUMER_QUEUE_NAME" default:"sweephub_sweep_consumer"`
}
