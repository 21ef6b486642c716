package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Redis       RedisConfig
	Postgres    PostgresConfig
	Store       StoreConfig
	Queue       QueueConfig
	Storage     StorageConfig
	OpenAI      OpenAIConfig
	Translation TranslationConfig
	TTS         TTSConfig
	Audio       AudioConfig
	R2          R2Config
	RateLimit   RateLimitConfig
	Gateway     GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
	// TestMode enables the failure-injection endpoint.
	TestMode bool
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	URL string
}

type StoreConfig struct {
	Backend        string // memory, redis or postgres
	RetentionHours int    // redis only, 0 keeps jobs forever
}

type QueueConfig struct {
	Backend            string // local or asynq
	Concurrency        int
	TaskTimeoutMinutes int
}

type StorageConfig struct {
	OutputsDir  string
	MaxUploadMB int
}

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	Temperature        float64
	TranscriptionModel string
	SpeechModel        string
}

type TranslationConfig struct {
	ChunkWidth            int
	MaxRetries            int
	RetryDelaySeconds     float64
	RateLimitDelaySeconds float64
}

type TTSConfig struct {
	SpeakingRate      float64
	SafeLength        int
	Attempts          int
	RetryBase         float64
	RequestsPerMinute int
	SilenceSeconds    float64
	GapMs             int
	Bitrate           string
	VoicesFile        string
}

type AudioConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type RateLimitConfig struct {
	UploadPerHour     int
	RetryPerHour      int
	RegeneratePerHour int
}

type GatewayConfig struct {
	Enabled bool
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c TranslationConfig) RetryDelay() time.Duration { return seconds(c.RetryDelaySeconds) }

func (c TranslationConfig) RateLimitDelay() time.Duration { return seconds(c.RateLimitDelaySeconds) }

// RequestInterval spaces engine calls to stay under RequestsPerMinute.
func (c TTSConfig) RequestInterval() time.Duration {
	if c.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.RequestsPerMinute)
}

func (c TTSConfig) Silence() time.Duration { return seconds(c.SilenceSeconds) }

func (c TTSConfig) Gap() time.Duration { return time.Duration(c.GapMs) * time.Millisecond }

func (c QueueConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMinutes) * time.Minute
}

func (c StoreConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("server.test_mode", "TEST_MODE")
	_ = viper.BindEnv("log.file", "LOG_FILE")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.url", "DATABASE_URL")
	_ = viper.BindEnv("store.backend", "STORE_BACKEND")
	_ = viper.BindEnv("store.retention_hours", "STORE_RETENTION_HOURS")
	_ = viper.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = viper.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	_ = viper.BindEnv("storage.outputs_dir", "OUTPUTS_DIR")
	_ = viper.BindEnv("storage.max_upload_mb", "MAX_UPLOAD_MB")
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("openai.chat_model", "OPENAI_CHAT_MODEL")
	_ = viper.BindEnv("openai.transcription_model", "OPENAI_TRANSCRIPTION_MODEL")
	_ = viper.BindEnv("openai.speech_model", "OPENAI_SPEECH_MODEL")
	_ = viper.BindEnv("translation.chunk_width", "TRANSLATION_CHUNK_WIDTH")
	_ = viper.BindEnv("tts.speaking_rate", "TTS_SPEAKING_RATE")
	_ = viper.BindEnv("tts.voices_file", "TTS_VOICES_FILE")
	_ = viper.BindEnv("audio.service_url", "AUDIO_SERVICE_URL")
	_ = viper.BindEnv("audio.timeout", "AUDIO_SERVICE_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.test_mode", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.url", "")
	viper.SetDefault("store.backend", "redis")
	viper.SetDefault("store.retention_hours", 0)
	viper.SetDefault("queue.backend", "asynq")
	viper.SetDefault("queue.concurrency", 4)
	viper.SetDefault("queue.task_timeout_minutes", 180)
	viper.SetDefault("storage.outputs_dir", "./outputs")
	viper.SetDefault("storage.max_upload_mb", 500)

	// OpenAI defaults
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.chat_model", "gpt-4")
	viper.SetDefault("openai.temperature", 0.3)
	viper.SetDefault("openai.transcription_model", "whisper-1")
	viper.SetDefault("openai.speech_model", "tts-1")

	// Translation defaults
	viper.SetDefault("translation.chunk_width", 3000)
	viper.SetDefault("translation.max_retries", 3)
	viper.SetDefault("translation.retry_delay_seconds", 5)
	viper.SetDefault("translation.rate_limit_delay_seconds", 1)

	// Speech synthesis defaults
	viper.SetDefault("tts.speaking_rate", 1.0)
	viper.SetDefault("tts.safe_length", 4000)
	viper.SetDefault("tts.attempts", 3)
	viper.SetDefault("tts.retry_base", 2)
	viper.SetDefault("tts.requests_per_minute", 300)
	viper.SetDefault("tts.silence_seconds", 2.0)
	viper.SetDefault("tts.gap_ms", 500)
	viper.SetDefault("tts.bitrate", "192k")
	viper.SetDefault("tts.voices_file", "")

	// Audio service defaults
	viper.SetDefault("audio.service_url", "http://localhost:8084")
	viper.SetDefault("audio.timeout", 600)

	viper.SetDefault("ratelimit.upload_per_hour", 20)
	viper.SetDefault("ratelimit.retry_per_hour", 30)
	viper.SetDefault("ratelimit.regenerate_per_hour", 20)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
			TestMode:  viper.GetBool("server.test_mode"),
		},
		Log: LogConfig{
			File:       viper.GetString("log.file"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
			Compress:   viper.GetBool("log.compress"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			URL: viper.GetString("postgres.url"),
		},
		Store: StoreConfig{
			Backend:        strings.ToLower(viper.GetString("store.backend")),
			RetentionHours: viper.GetInt("store.retention_hours"),
		},
		Queue: QueueConfig{
			Backend:            strings.ToLower(viper.GetString("queue.backend")),
			Concurrency:        viper.GetInt("queue.concurrency"),
			TaskTimeoutMinutes: viper.GetInt("queue.task_timeout_minutes"),
		},
		Storage: StorageConfig{
			OutputsDir:  viper.GetString("storage.outputs_dir"),
			MaxUploadMB: viper.GetInt("storage.max_upload_mb"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             viper.GetString("openai.api_key"),
			BaseURL:            viper.GetString("openai.base_url"),
			ChatModel:          viper.GetString("openai.chat_model"),
			Temperature:        viper.GetFloat64("openai.temperature"),
			TranscriptionModel: viper.GetString("openai.transcription_model"),
			SpeechModel:        viper.GetString("openai.speech_model"),
		},
		Translation: TranslationConfig{
			ChunkWidth:            viper.GetInt("translation.chunk_width"),
			MaxRetries:            viper.GetInt("translation.max_retries"),
			RetryDelaySeconds:     viper.GetFloat64("translation.retry_delay_seconds"),
			RateLimitDelaySeconds: viper.GetFloat64("translation.rate_limit_delay_seconds"),
		},
		TTS: TTSConfig{
			SpeakingRate:      viper.GetFloat64("tts.speaking_rate"),
			SafeLength:        viper.GetInt("tts.safe_length"),
			Attempts:          viper.GetInt("tts.attempts"),
			RetryBase:         viper.GetFloat64("tts.retry_base"),
			RequestsPerMinute: viper.GetInt("tts.requests_per_minute"),
			SilenceSeconds:    viper.GetFloat64("tts.silence_seconds"),
			GapMs:             viper.GetInt("tts.gap_ms"),
			Bitrate:           viper.GetString("tts.bitrate"),
			VoicesFile:        viper.GetString("tts.voices_file"),
		},
		Audio: AudioConfig{
			ServiceURL: viper.GetString("audio.service_url"),
			Timeout:    viper.GetInt("audio.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour:     viper.GetInt("ratelimit.upload_per_hour"),
			RetryPerHour:      viper.GetInt("ratelimit.retry_per_hour"),
			RegeneratePerHour: viper.GetInt("ratelimit.regenerate_per_hour"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
