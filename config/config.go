package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

type Config struct {
	Env           string
	LogLevel      string
	ServerPort    int
	StoreBackend  string
	Database      DatabaseConfig
	Mongo         MongoConfig
	Session       SessionConfig
	Admin         AdminConfig
	MQ            MQConfig
	ObjectStorage ObjectStorageConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	UseSSL         bool
	MigrationsPath string
}

type MongoConfig struct {
	URI      string
	Database string
}

type SessionConfig struct {
	Secret       string
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
}

// AdminConfig holds the bootstrap admin credentials. Both fields must be set
// for the bootstrap to run.
type AdminConfig struct {
	Phone    string
	Password string
}

type MQConfig struct {
	Backend  string
	Channel  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type ObjectStorageConfig struct {
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

// IsDev reports whether the process runs in the local development environment.
func (c Config) IsDev() bool {
	return strings.EqualFold(c.Env, "dev")
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	env := v.GetString("ENV")

	return Config{
		Env:          env,
		LogLevel:     v.GetString("LOG_LEVEL"),
		ServerPort:   v.GetInt("SERVER_PORT"),
		StoreBackend: strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		Database: DatabaseConfig{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetInt("DB_PORT"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			DBName:         v.GetString("DB_NAME"),
			UseSSL:         v.GetBool("DB_USE_SSL"),
			MigrationsPath: v.GetString("MIGRATIONS_PATH"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("MONGO_URI"),
			Database: v.GetString("MONGO_DATABASE"),
		},
		Session: SessionConfig{
			Secret:       strings.TrimSpace(v.GetString("JWT_SECRET")),
			TTL:          time.Duration(v.GetInt("SESSION_TTL_HOURS")) * time.Hour,
			CookieName:   v.GetString("SESSION_COOKIE"),
			SecureCookie: !strings.EqualFold(env, "dev"),
		},
		Admin: AdminConfig{
			Phone:    strings.TrimSpace(v.GetString("ADMIN_PHONE")),
			Password: v.GetString("ADMIN_PASS"),
		},
		MQ: MQConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("MQ_BACKEND"))),
			Channel: v.GetString("MQ_CHANNEL"),
			RabbitMQ: RabbitMQConfig{
				URL:             v.GetString("RABBITMQ_URL"),
				QueueDurable:    v.GetBool("RABBITMQ_QUEUE_DURABLE"),
				QueueAutoDelete: v.GetBool("RABBITMQ_QUEUE_AUTO_DELETE"),
				PrefetchCount:   v.GetInt("RABBITMQ_PREFETCH_COUNT"),
			},
			PubSub: PubSubConfig{
				ProjectID:          v.GetString("PUBSUB_PROJECT_ID"),
				CredentialsFile:    v.GetString("PUBSUB_CREDENTIALS_FILE"),
				SubscriptionSuffix: v.GetString("PUBSUB_SUBSCRIPTION_SUFFIX"),
			},
		},
		ObjectStorage: ObjectStorageConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("OBJECT_STORAGE_BACKEND"))),
			Minio: MinioConfig{
				Endpoint:  v.GetString("MINIO_ENDPOINT"),
				AccessKey: v.GetString("MINIO_ACCESS_KEY"),
				SecretKey: v.GetString("MINIO_SECRET_KEY"),
				Bucket:    v.GetString("MINIO_BUCKET"),
				UseSSL:    v.GetBool("MINIO_USE_SSL"),
			},
			GCS: GCSConfig{
				Bucket:          v.GetString("GCS_BUCKET"),
				ProjectID:       v.GetString("GCS_PROJECT_ID"),
				CredentialsFile: v.GetString("GCS_CREDENTIALS_FILE"),
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "prod")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("STORE_BACKEND", StorePostgres)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "makemny")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "makemny_db")
	v.SetDefault("DB_USE_SSL", false)
	v.SetDefault("MIGRATIONS_PATH", "internal/db/migrations")

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "makemny")

	v.SetDefault("SESSION_TTL_HOURS", 7*24)
	v.SetDefault("SESSION_COOKIE", "sid")

	v.SetDefault("MQ_CHANNEL", "deposit-events")
	v.SetDefault("RABBITMQ_QUEUE_DURABLE", true)
	v.SetDefault("RABBITMQ_PREFETCH_COUNT", 10)
	v.SetDefault("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub")
}
