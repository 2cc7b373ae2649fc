package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChaceN89/library/pkg/pagination"
)

// ConfigPath is the file Load reads when given an empty path.
var ConfigPath = envOr("LIBRARY_CONFIG", "config.yaml")

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	BlobBackendMinio  = "minio"
	BlobBackendS3     = "s3"
	BlobBackendMemory = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port         string `yaml:"port"`
	LogLevel     string `yaml:"logLevel"`
	StoreBackend string `yaml:"storeBackend"`
	DatabaseURL  string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	BlobBackend   string `yaml:"blobBackend"`
	PublicBaseURL string `yaml:"publicBaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	S3Region       string `yaml:"s3Region"`
	S3Bucket       string `yaml:"s3Bucket"`
	S3AccessKey    string `yaml:"s3AccessKey"`
	S3SecretKey    string `yaml:"s3SecretKey"`
	S3Endpoint     string `yaml:"s3Endpoint"`
	S3UsePathStyle bool   `yaml:"s3UsePathStyle"`

	JWTPrivateKeyPath string            `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath  string            `yaml:"jwtPublicKeyPath"`
	JWTKeyID          string            `yaml:"jwtKeyId"`
	JWTVerifyKeys     map[string]string `yaml:"jwtVerifyKeys"`
	JWTIssuer         string            `yaml:"jwtIssuer"`
	JWTAudience       string            `yaml:"jwtAudience"`
	SessionTTLSeconds int               `yaml:"sessionTTLSeconds"`

	DefaultAvatarURL   string   `yaml:"defaultAvatarURL"`
	MaxUploadBytes     int64    `yaml:"maxUploadBytes"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCIDRs"`

	RateLimitWritesPerMinute int `yaml:"rateLimitWritesPerMinute"`
	RateLimitLoginsPerMinute int `yaml:"rateLimitLoginsPerMinute"`

	OrphanStream       string `yaml:"orphanStream"`
	SweeperConcurrency int    `yaml:"sweeperConcurrency"`
	SweeperMaxRetries  int    `yaml:"sweeperMaxRetries"`
	SweeperMetricsPort string `yaml:"sweeperMetricsPort"`

	Pagination pagination.Config `yaml:"pagination"`
}

// Load reads config from path (defaults to ConfigPath). A .env file in the
// working directory is loaded first when present; the environment then
// overrides YAML values.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Pagination.Finalize(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.StoreBackend, "LIBRARY_STORE_BACKEND")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.BlobBackend, "BLOB_BACKEND")
	setString(&cfg.PublicBaseURL, "BLOB_PUBLIC_BASE_URL")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	setString(&cfg.S3Region, "S3_REGION")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	setString(&cfg.S3SecretKey, "S3_SECRET_KEY")
	setString(&cfg.S3Endpoint, "S3_ENDPOINT")
	setBool(&cfg.S3UsePathStyle, "S3_USE_PATH_STYLE")
	setString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	setString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	setString(&cfg.JWTKeyID, "JWT_KEY_ID")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setInt(&cfg.SessionTTLSeconds, "LIBRARY_SESSION_TTL_SECONDS")
	setString(&cfg.DefaultAvatarURL, "LIBRARY_DEFAULT_AVATAR_URL")
	if v := os.Getenv("LIBRARY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LIBRARY_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("LIBRARY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt(&cfg.RateLimitWritesPerMinute, "LIBRARY_RATE_LIMIT_WRITES_PER_MINUTE")
	setInt(&cfg.RateLimitLoginsPerMinute, "LIBRARY_RATE_LIMIT_LOGINS_PER_MINUTE")
	setString(&cfg.OrphanStream, "LIBRARY_ORPHAN_STREAM")
	setInt(&cfg.SweeperConcurrency, "SWEEPER_CONCURRENCY")
	setInt(&cfg.SweeperMaxRetries, "SWEEPER_MAX_RETRIES")
	setString(&cfg.SweeperMetricsPort, "SWEEPER_METRICS_PORT")
}

func applyDefaults(cfg *FileConfig) {
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreBackendPostgres
	}
	cfg.BlobBackend = strings.ToLower(strings.TrimSpace(cfg.BlobBackend))
	if cfg.BlobBackend == "" {
		cfg.BlobBackend = BlobBackendMinio
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.SessionTTLSeconds <= 0 {
		cfg.SessionTTLSeconds = 24 * 60 * 60
	}
	if cfg.OrphanStream == "" {
		cfg.OrphanStream = "library:orphans"
	}
	if cfg.SweeperConcurrency <= 0 {
		cfg.SweeperConcurrency = 2
	}
	if cfg.SweeperMaxRetries <= 0 {
		cfg.SweeperMaxRetries = 5
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("config: storeBackend %q is not one of postgres, memory", cfg.StoreBackend)
	}
	switch cfg.BlobBackend {
	case BlobBackendMinio:
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required (set in config.yaml)")
		}
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required (set in config.yaml)")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required (set in config.yaml)")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required (set in config.yaml)")
		}
		if cfg.PublicBaseURL == "" {
			return errors.New("config: publicBaseURL is required for the minio backend (set in config.yaml)")
		}
	case BlobBackendS3:
		if cfg.S3Region == "" {
			return errors.New("config: s3Region is required (set in config.yaml)")
		}
		if cfg.S3Bucket == "" {
			return errors.New("config: s3Bucket is required (set in config.yaml)")
		}
	case BlobBackendMemory:
	default:
		return fmt.Errorf("config: blobBackend %q is not one of minio, s3, memory", cfg.BlobBackend)
	}
	if (cfg.JWTPrivateKeyPath == "") != (cfg.JWTPublicKeyPath == "") {
		return errors.New("config: jwtPrivateKeyPath and jwtPublicKeyPath must be set together")
	}
	if cfg.RateLimitWritesPerMinute < 0 || cfg.RateLimitLoginsPerMinute < 0 {
		return errors.New("config: rate limits cannot be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
