// Package config loads service settings from the environment and secrets from the secret resolver.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jun/erpdrive/internal/auth"
	"github.com/jun/erpdrive/internal/crypto"
	"github.com/jun/erpdrive/internal/documents"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/secret"
)

// Drive backends.
const (
	BackendGoogle = "google"
	BackendMemory = "memory"
)

type Config struct {
	DevMode     bool
	Port        string
	FrontendURL string
	LogLevel    string

	DatabaseURL    string
	MigrateOnStart bool

	DriveBackend        string
	ServiceAccountEmail string
	PrivateKey          string
	PrivateKeyEncrypted bool
	Subject             string
	TokenURL            string
	SharedDriveID       string
	// RootFolderID defaults to SharedDriveID.
	RootFolderID     string
	PermissionDomain string
	PermissionRole   string
	UsersFolderName  string
	MaxFileSize      int64

	// FolderClaimsTable enables cross-instance folder creation claims when set.
	FolderClaimsTable string

	SSMPrefix  string
	KMSKeyID   string
	SecretKeys SecretKeys

	JWTSecret        string
	APIGatewaySecret string
}

// SecretKeys are the resolver names of each secret.
type SecretKeys struct {
	PrivateKey       string
	JWTSecret        string
	APIGatewaySecret string
}

// LoadDotEnv reads .env files into the environment. Missing files are ignored.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// FromEnv reads every non-secret setting.
func FromEnv() *Config {
	c := &Config{
		DevMode:     getEnvAsBool("DEV_MODE", false),
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrateOnStart: getEnvAsBool("MIGRATE_ON_START", false),

		DriveBackend:        strings.ToLower(getEnv("DRIVE_BACKEND", BackendGoogle)),
		ServiceAccountEmail: getEnv("DRIVE_SERVICE_ACCOUNT_EMAIL", ""),
		PrivateKeyEncrypted: getEnvAsBool("DRIVE_PRIVATE_KEY_ENCRYPTED", false),
		Subject:             getEnv("DRIVE_SUBJECT", ""),
		TokenURL:            getEnv("DRIVE_TOKEN_URL", auth.DefaultTokenURL),
		SharedDriveID:       getEnv("DRIVE_SHARED_DRIVE_ID", ""),
		RootFolderID:        getEnv("DRIVE_ROOT_FOLDER_ID", ""),
		PermissionDomain:    getEnv("DRIVE_PERMISSION_DOMAIN", ""),
		PermissionRole:      getEnv("DRIVE_PERMISSION_ROLE", documents.DefaultPermissionRole),
		UsersFolderName:     getEnv("DRIVE_USERS_FOLDER", documents.DefaultUsersFolderName),
		MaxFileSize:         getEnvAsInt64("MAX_FILE_SIZE", documents.DefaultMaxFileSize),

		FolderClaimsTable: getEnv("FOLDER_CLAIMS_TABLE", ""),

		SSMPrefix: getEnv("SSM_PREFIX", secret.DefaultPrefix),
		KMSKeyID:  getEnv("KMS_KEY_ID", "alias/erpdrive-drive-key"),
		SecretKeys: SecretKeys{
			PrivateKey:       getEnv("DRIVE_PRIVATE_KEY_PARAM", secret.DrivePrivateKey),
			JWTSecret:        getEnv("JWT_SECRET_PARAM", secret.JWTSecret),
			APIGatewaySecret: getEnv("API_GATEWAY_SECRET_PARAM", secret.APIGatewaySecret),
		},
	}
	if c.RootFolderID == "" {
		c.RootFolderID = c.SharedDriveID
	}
	return c
}

// Load reads the environment, resolves secrets and validates the result.
func Load(ctx context.Context, res secret.Resolver, dec crypto.Decryptor) (*Config, error) {
	c := FromEnv()
	if err := c.ResolveSecrets(ctx, res, dec); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveSecrets fills the secret fields. Secrets that do not exist are left empty for Validate to report.
func (c *Config) ResolveSecrets(ctx context.Context, res secret.Resolver, dec crypto.Decryptor) error {
	get := func(name string) (string, error) {
		v, err := res.GetSecret(ctx, name)
		if errors.Is(err, errs.ErrConfiguration) {
			return "", nil
		}
		return v, err
	}

	var err error
	if c.DriveBackend == BackendGoogle {
		if c.PrivateKey, err = get(c.SecretKeys.PrivateKey); err != nil {
			return fmt.Errorf("resolve drive private key: %w", err)
		}
		if c.PrivateKey != "" && c.PrivateKeyEncrypted {
			if c.PrivateKey, err = dec.Decrypt(ctx, c.PrivateKey); err != nil {
				return fmt.Errorf("decrypt drive private key: %w", err)
			}
		}
	}
	if c.JWTSecret, err = get(c.SecretKeys.JWTSecret); err != nil {
		return fmt.Errorf("resolve jwt secret: %w", err)
	}
	if c.APIGatewaySecret, err = get(c.SecretKeys.APIGatewaySecret); err != nil {
		return fmt.Errorf("resolve api gateway secret: %w", err)
	}

	if c.JWTSecret == "" && c.DevMode {
		c.JWTSecret = "default-dev-secret"
	}
	return nil
}

// Validate reports every missing required setting in one ErrConfiguration.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}

	switch c.DriveBackend {
	case BackendGoogle:
		require("DRIVE_SERVICE_ACCOUNT_EMAIL", c.ServiceAccountEmail)
		require("DRIVE_PRIVATE_KEY", c.PrivateKey)
		require("DRIVE_SHARED_DRIVE_ID", c.SharedDriveID)
	case BackendMemory:
		if !c.DevMode {
			return fmt.Errorf("%w: DRIVE_BACKEND=memory requires DEV_MODE", errs.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown DRIVE_BACKEND %q", errs.ErrConfiguration, c.DriveBackend)
	}
	require("DRIVE_PERMISSION_DOMAIN", c.PermissionDomain)

	if !c.DevMode {
		require("DATABASE_URL", c.DatabaseURL)
		require("JWT_SECRET", c.JWTSecret)
		require("API_GATEWAY_SECRET", c.APIGatewaySecret)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", errs.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// ServiceAccount returns the token provider settings.
func (c *Config) ServiceAccount() auth.ServiceAccountConfig {
	return auth.ServiceAccountConfig{
		Email:         c.ServiceAccountEmail,
		PrivateKeyPEM: c.PrivateKey,
		Scope:         auth.DriveScope,
		TokenURL:      c.TokenURL,
		Subject:       c.Subject,
	}
}

// Documents returns the lifecycle settings shared by user and session documents.
func (c *Config) Documents() documents.Config {
	return documents.Config{
		RootFolderID:     c.RootFolderID,
		PermissionDomain: c.PermissionDomain,
		PermissionRole:   c.PermissionRole,
		MaxFileSize:      c.MaxFileSize,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
