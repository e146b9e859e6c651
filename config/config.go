package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the application's full environment-driven configuration.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	IngestionQueueURL       string `mapstructure:"INGESTION_QUEUE_URL"`
	AWSRegion               string `mapstructure:"AWS_REGION"`
	MaxBatchSize            int    `mapstructure:"MAX_BATCH_SIZE"`
	VisibilityTimeoutBuffer int    `mapstructure:"VISIBILITY_TIMEOUT_BUFFER"`
	WaitTimeSeconds         int    `mapstructure:"WAIT_TIME_SECONDS"`
	PollIntervalSeconds     int    `mapstructure:"POLL_INTERVAL_SECONDS"`
	MaxBatches              int    `mapstructure:"MAX_BATCHES"`
	DispatchJobID           string `mapstructure:"DISPATCH_JOB_ID"`
	WorkerTaskParameters    string `mapstructure:"WORKER_TASK_PARAMETERS"`
	MetadataTable           string `mapstructure:"METADATA_TABLE"`
	RoutingMetadataTable    string `mapstructure:"ROUTING_METADATA_TABLE"`

	CategoryThresholds    string `mapstructure:"CATEGORY_THRESHOLDS"`
	DefaultStrategyMap    string `mapstructure:"DEFAULT_STRATEGY_MAP"`
	ParserStrategyOverrides string `mapstructure:"PARSER_STRATEGY_OVERRIDES"`
	RequestOverrideFlag   string `mapstructure:"REQUEST_OVERRIDE_FLAG"`
	RoutingMode           string `mapstructure:"ROUTING_MODE"`
	StaticRoutingStrategy string `mapstructure:"STATIC_ROUTING_STRATEGY"`

	DeltaOverrideTable     string `mapstructure:"DELTA_OVERRIDE_TABLE"`
	StrategySecretsScope   string `mapstructure:"STRATEGY_SECRETS_SCOPE"`
	StrategyOverrideSecret string `mapstructure:"STRATEGY_OVERRIDE_SECRET"`

	LayoutModelEndpoint         string        `mapstructure:"LAYOUT_MODEL_ENDPOINT"`
	LayoutModelSecretScope      string        `mapstructure:"LAYOUT_MODEL_SECRET_SCOPE"`
	LayoutModelSecretKey        string        `mapstructure:"LAYOUT_MODEL_SECRET_KEY"`
	LayoutModelTimeoutSeconds   time.Duration `mapstructure:"LAYOUT_MODEL_TIMEOUT_SECONDS"`

	VendorMaxRetries          int     `mapstructure:"VENDOR_MAX_RETRIES"`
	VendorRetryBackoffSeconds float64 `mapstructure:"VENDOR_RETRY_BACKOFF_SECONDS"`

	SummarizationLLMHost  string `mapstructure:"SUMMARIZATION_LLM_HOST"`
	SummarizationLLMModel string `mapstructure:"SUMMARIZATION_LLM_MODEL"`
}

// Load reads the environment (and an optional config file) into a Config.
func Load(logger *zap.Logger) *Config {
	var config Config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("MAX_BATCH_SIZE", 50)
	viper.SetDefault("VISIBILITY_TIMEOUT_BUFFER", 30)
	viper.SetDefault("WAIT_TIME_SECONDS", 20)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 5)
	viper.SetDefault("MAX_BATCHES", 0)
	viper.SetDefault("METADATA_TABLE", "raw_ingestion_metadata")
	viper.SetDefault("ROUTING_METADATA_TABLE", "raw_ingestion_metadata_routing")
	viper.SetDefault("REQUEST_OVERRIDE_FLAG", "parser_override")
	viper.SetDefault("ROUTING_MODE", "hybrid")
	viper.SetDefault("LAYOUT_MODEL_TIMEOUT_SECONDS", 30)
	viper.SetDefault("VENDOR_MAX_RETRIES", 3)
	viper.SetDefault("VENDOR_RETRY_BACKOFF_SECONDS", 5.0)
	viper.SetDefault("WORKER_TASK_PARAMETERS", "{}")

	if err := viper.ReadInConfig(); err != nil {
		if logger != nil {
			logger.Warn("could not read config file, using defaults/env vars", zap.Error(err))
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		if logger != nil {
			logger.Fatal("unable to decode config into struct", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: unable to decode config into struct: %v\n", err)
			os.Exit(1)
		}
	}

	config.LayoutModelTimeoutSeconds = config.LayoutModelTimeoutSeconds * time.Second

	return &config
}

// ParsedWorkerTaskParameters decodes WorkerTaskParameters as a JSON
// object, defaulting to empty on a blank or malformed value.
func (c *Config) ParsedWorkerTaskParameters() map[string]any {
	return parseJSONObject(c.WorkerTaskParameters)
}

// ParsedCategoryThresholds decodes CategoryThresholds as a JSON object.
func (c *Config) ParsedCategoryThresholds() map[string]any {
	return parseJSONObject(c.CategoryThresholds)
}

// ParsedDefaultStrategyMap decodes DefaultStrategyMap as a JSON object.
func (c *Config) ParsedDefaultStrategyMap() map[string]any {
	return parseJSONObject(c.DefaultStrategyMap)
}

// ParsedParserStrategyOverrides decodes ParserStrategyOverrides as a JSON object.
func (c *Config) ParsedParserStrategyOverrides() map[string]any {
	return parseJSONObject(c.ParserStrategyOverrides)
}

func parseJSONObject(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}
