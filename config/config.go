package config

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type AppConfig struct {
	Market    BinanceMarketConfig
	Database  DatabaseConfig
	Ingestion IngestionConfig
	Backfill  BackfillConfig
	Feature   FeatureConfig
	Training  TrainingConfig
	Retrain   RetrainConfig
	Promotion PromotionConfig
	Artifact  ArtifactConfig
	Notify    NotifyConfig
}

type AwsSecretData struct {
	DBHost           string `json:"DB_HOST"`
	DBPassword       string `json:"DB_PASSWORD"`
	BinanceApiKey    string `json:"BINANCE_API_KEY"`
	BinanceApiSecret string `json:"BINANCE_SECRET_KEY"`
	S3AccessKey      string `json:"ARTIFACT_S3_ACCESS_KEY"`
	S3SecretKey      string `json:"ARTIFACT_S3_SECRET_KEY"`
}

type BinanceMarketConfig struct {
	ApiKey    string
	ApiSecret string
}

type DatabaseConfig struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	SSLMode    string
}

// DSN builds the libpq/pgx connection string used by both the pgx pool
// (hot-path candle/gap/inference/sentiment stores) and the gorm driver
// (registry/audit stores).
func (d DatabaseConfig) DSN() string {
	return "host=" + d.DBHost +
		" port=" + strconv.Itoa(d.DBPort) +
		" user=" + d.DBUser +
		" password=" + d.DBPassword +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

type IngestionConfig struct {
	Symbols           []string
	Intervals         []string
	BufferFlushEvery  time.Duration
	BufferMaxSize     int
	LateFillMaxBars   int
	GapMinBars        int
}

type BackfillConfig struct {
	MaxBatch           int
	PollInterval       time.Duration
	MaxConcurrent      int
	CompletenessWindow time.Duration
	CompletenessTick   time.Duration
}

type FeatureConfig struct {
	ScheduleInterval     time.Duration
	SentimentWindowMin   int
	EMAHalfLifeMin       float64
	SentimentProviderURL string
	SentimentPollInterval time.Duration
}

type TrainingConfig struct {
	Lookahead          int
	DrawdownPct        float64
	ReboundPct         float64
	MinSamples         int
	CVFolds            int
	InferenceThreshold float64
	ValFrac            float64
}

type RetrainConfig struct {
	LockKey                       int64
	MinInterval                   time.Duration
	DriftAggregation              string // "max_abs" | "mean_top3"
	DriftZThreshold               float64
	RequiredConsecutiveDrifts     int
	CVDegradationRatio            float64
	CalibrationRetrainMinInterval time.Duration
}

type PromotionConfig struct {
	Enabled                     bool
	MinInterval                 time.Duration
	MinSampleGrowth             float64
	MinAUCImprove               float64
	MaxBrierDegradation         float64
	MaxECEDegradation           float64
	RequireNonWorseCalibration  bool
	ModelName                   string
}

type ArtifactConfig struct {
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

type NotifyConfig struct {
	WebhookURL string
}

func LoadConfig() *AppConfig {
	cfg := &AppConfig{
		Market: BinanceMarketConfig{
			ApiKey:    getEnv("BINANCE_API_KEY", ""),
			ApiSecret: getEnv("BINANCE_API_SECRET", ""),
		},
		Database: DatabaseConfig{
			DBHost:     getEnv("DB_HOST", ""),
			DBPort:     getEnvAsInt("DB_PORT", 5432),
			DBUser:     getEnv("DB_USER", ""),
			DBPassword: getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", ""),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
		},
		Ingestion: IngestionConfig{
			Symbols:          getEnvAsList("INGEST_SYMBOLS", []string{"BTCUSDT"}),
			Intervals:        getEnvAsList("INGEST_INTERVALS", []string{"1m"}),
			BufferFlushEvery: getEnvAsDuration("INGEST_FLUSH_INTERVAL", 5*time.Second),
			BufferMaxSize:    getEnvAsInt("INGEST_BUFFER_MAX", 200),
			LateFillMaxBars:  getEnvAsInt("INGEST_LATE_FILL_MAX_BARS", 50),
			GapMinBars:       getEnvAsInt("INGEST_GAP_MIN_BARS", 1),
		},
		Backfill: BackfillConfig{
			MaxBatch:           getEnvAsInt("BACKFILL_MAX_BATCH", 1000),
			PollInterval:       getEnvAsDuration("BACKFILL_POLL_INTERVAL", 10*time.Second),
			MaxConcurrent:      getEnvAsInt("BACKFILL_MAX_CONCURRENT", 4),
			CompletenessWindow: getEnvAsDuration("BACKFILL_COMPLETENESS_WINDOW", 24*time.Hour),
			CompletenessTick:   getEnvAsDuration("BACKFILL_COMPLETENESS_TICK", 5*time.Minute),
		},
		Feature: FeatureConfig{
			ScheduleInterval:      getEnvAsDuration("FEATURE_SCHED_INTERVAL", time.Minute),
			SentimentWindowMin:    getEnvAsInt("FEATURE_SENTIMENT_WINDOW_MIN", 60),
			EMAHalfLifeMin:        getEnvAsFloat("FEATURE_SENTIMENT_EMA_HALFLIFE_MIN", 30),
			SentimentProviderURL:  getEnv("SENTIMENT_PROVIDER_URL", ""),
			SentimentPollInterval: getEnvAsDuration("FEATURE_SENTIMENT_POLL_INTERVAL", 5*time.Minute),
		},
		Training: TrainingConfig{
			Lookahead:          getEnvAsInt("LABEL_LOOKAHEAD_BARS", 20),
			DrawdownPct:        getEnvAsFloat("LABEL_DRAWDOWN_PCT", 0.01),
			ReboundPct:         getEnvAsFloat("LABEL_REBOUND_PCT", 0.015),
			MinSamples:         getEnvAsInt("TRAINING_MIN_SAMPLES", 200),
			CVFolds:            getEnvAsInt("TRAINING_CV_FOLDS", 5),
			InferenceThreshold: getEnvAsFloat("INFERENCE_PROB_THRESHOLD", 0.5),
			ValFrac:            getEnvAsFloat("TRAINING_VALIDATION_FRACTION", 0.2),
		},
		Retrain: RetrainConfig{
			LockKey:                       int64(getEnvAsInt("AUTO_RETRAIN_LOCK_KEY", 874512)),
			MinInterval:                   getEnvAsDuration("AUTO_RETRAIN_MIN_INTERVAL", 6*time.Hour),
			DriftAggregation:              getEnv("AUTO_RETRAIN_DRIFT_AGGREGATION", "mean_top3"),
			DriftZThreshold:               getEnvAsFloat("AUTO_RETRAIN_DRIFT_Z_THRESHOLD", 2.5),
			RequiredConsecutiveDrifts:     getEnvAsInt("AUTO_RETRAIN_REQUIRED_CONSECUTIVE_DRIFTS", 3),
			CVDegradationRatio:            getEnvAsFloat("AUTO_RETRAIN_CV_DEGRADATION_RATIO", 0.95),
			CalibrationRetrainMinInterval: getEnvAsDuration("CALIBRATION_RETRAIN_MIN_INTERVAL", 12*time.Hour),
		},
		Promotion: PromotionConfig{
			Enabled:                    getEnvAsBool("AUTO_PROMOTE_ENABLED", true),
			MinInterval:                getEnvAsDuration("AUTO_PROMOTE_MIN_INTERVAL", time.Hour),
			MinSampleGrowth:            getEnvAsFloat("AUTO_PROMOTE_MIN_SAMPLE_GROWTH", 1.05),
			MinAUCImprove:              getEnvAsFloat("AUTO_PROMOTE_MIN_AUC_IMPROVE", 0.01),
			MaxBrierDegradation:        getEnvAsFloat("PROMOTION_MAX_BRIER_DEGRADATION", 0.01),
			MaxECEDegradation:          getEnvAsFloat("PROMOTION_MAX_ECE_DEGRADATION", 0.01),
			RequireNonWorseCalibration: getEnvAsBool("PROMOTION_REQUIRE_NON_WORSE_CALIBRATION", false),
			ModelName:                  getEnv("AUTO_PROMOTE_MODEL_NAME", "bottom_predictor"),
		},
		Artifact: ArtifactConfig{
			S3Bucket: getEnv("ARTIFACT_S3_BUCKET", ""),
			S3Prefix: getEnv("ARTIFACT_S3_PREFIX", "models"),
			S3Region: getEnv("ARTIFACT_S3_REGION", "us-east-1"),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	secretName := os.Getenv("AWS_SECRET_NAME")
	if secretName != "" {
		secrets := fetchAwsSecrets(secretName)
		if secrets.DBHost != "" {
			cfg.Database.DBHost = secrets.DBHost
		}
		if secrets.DBPassword != "" {
			cfg.Database.DBPassword = secrets.DBPassword
		}
		if secrets.BinanceApiKey != "" {
			cfg.Market.ApiKey = secrets.BinanceApiKey
		}
		if secrets.BinanceApiSecret != "" {
			cfg.Market.ApiSecret = secrets.BinanceApiSecret
		}
		if secrets.S3AccessKey != "" {
			cfg.Artifact.S3AccessKey = secrets.S3AccessKey
		}
		if secrets.S3SecretKey != "" {
			cfg.Artifact.S3SecretKey = secrets.S3SecretKey
		}
	} else {
		log.Println("Warning: AWS_SECRET_NAME not set. Using environment variables only.")
	}

	return cfg
}

func fetchAwsSecrets(secretName string) AwsSecretData {
	awsCfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("Unable to load SDK config: %v", err)
	}

	svc := secretsmanager.NewFromConfig(awsCfg)

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	}

	result, err := svc.GetSecretValue(context.TODO(), input)
	if err != nil {
		log.Fatalf("Failed to retrieve secret '%s': %v", secretName, err)
	}

	var secretData AwsSecretData
	if result.SecretString != nil {
		if err := json.Unmarshal([]byte(*result.SecretString), &secretData); err != nil {
			log.Fatalf("Failed to unmarshal secret JSON: %v", err)
		}
	}

	return secretData
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	if valueStr, exists := os.LookupEnv(key); exists && valueStr != "" {
		parts := strings.Split(valueStr, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
