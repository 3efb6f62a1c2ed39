package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	AppName  string `env:"APP_NAME,default=dmchat"`
	Env      string `env:"APP_ENV,default=development"`
	Host     string `env:"HTTP_HOST,default=0.0.0.0"`
	Port     int    `env:"HTTP_PORT,default=8000" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`

	StoreDriver string `env:"STORE_DRIVER,default=sqlite" validate:"oneof=sqlite postgres badger mongo memory"`
	SQLiteDSN   string `env:"SQLITE_DSN,default=dmchat.db"`

	PostgresHost     string `env:"POSTGRES_HOST,default=localhost"`
	PostgresPort     string `env:"POSTGRES_PORT,default=5432"`
	PostgresUser     string `env:"POSTGRES_USER,default=postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=postgres"`
	PostgresDB       string `env:"POSTGRES_DB,default=dmchat"`

	BadgerPath    string `env:"BADGER_PATH,default=data/badger"`
	MongoURI      string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE,default=dmchat"`

	JWTSecret          string `env:"JWT_SECRET" validate:"required"`
	AccessTokenMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES,default=1440" validate:"min=1"`
	EncryptKey         string `env:"ENCRYPTION_KEY"`
	LegacyEncryptKeys  string `env:"LEGACY_ENCRYPTION_KEYS"`

	UploadDir        string `env:"UPLOAD_DIR,default=uploads"`
	MaxUploadBytes   int    `env:"MAX_UPLOAD_BYTES,default=10485760" validate:"min=1"`
	CORSOriginsRaw   string `env:"CORS_ORIGINS,default=http://localhost:5173"`
	MaxMessageLength int    `env:"MAX_MESSAGE_LENGTH,default=5000" validate:"min=1"`
	WSSendBuffer     int    `env:"WS_SEND_BUFFER,default=256" validate:"min=1"`
	Debug            bool   `env:"DEBUG,default=false"`

	CORSOrigins []string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOriginsRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.IsProduction() && slices.Contains(c.CORSOrigins, "*") {
		return errors.New("invalid config: CORS_ORIGINS must list explicit origins in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoggerLevel is the level name handed to the logger. DEBUG=true overrides LOG_LEVEL.
func (c *Config) LoggerLevel() string {
	if c.Debug {
		return "DEBUG"
	}
	return strings.ToUpper(c.LogLevel)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresURL builds the pgx connection string from the POSTGRES_* settings.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%s", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// LegacyKeys returns the configured Fernet keys still accepted for decryption.
func (c *Config) LegacyKeys() []string {
	return splitList(c.LegacyEncryptKeys)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
