// Package config resolves the environment variables the core consumes
// (spec.md §6) into a single struct, generalizing the teacher's
// flag-then-env resolution in cmd/dvom/main.go to non-CLI callers.
package config

import (
	"os"

	"github.com/fleetdock/fleetdock/internal/storage"
)

const defaultTelegramAPIRoot = "https://api.telegram.org"

// UploadConfig holds the Telegram upload destination settings.
type UploadConfig struct {
	TelegramToken   string
	ChatID          string
	TelegramAPIRoot string
}

// Enabled reports whether Telegram upload is configured.
func (c UploadConfig) Enabled() bool {
	return c.TelegramToken != "" && c.ChatID != ""
}

// LoadUploadConfig reads TELEGRAM_TOKEN, CHAT_ID and TELEGRAM_API_ROOT
// from the process environment.
func LoadUploadConfig() UploadConfig {
	root := os.Getenv("TELEGRAM_API_ROOT")
	if root == "" {
		root = defaultTelegramAPIRoot
	}
	return UploadConfig{
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		ChatID:          os.Getenv("CHAT_ID"),
		TelegramAPIRoot: root,
	}
}

// LoadStorageConfig reads ARCHIVE_STORE_TYPE and its backend-specific
// variables from the process environment, mirroring the teacher's
// buildStorageConfig() flag resolution in cmd/dvom/main.go. An empty
// ARCHIVE_STORE_TYPE means "unconfigured"; callers should treat a nil
// return as permission to keep the artifact on the plain local backend
// rather than an error.
func LoadStorageConfig(defaultLocalPath string) *storage.Config {
	switch os.Getenv("ARCHIVE_STORE_TYPE") {
	case "s3":
		return &storage.Config{
			Type: "s3",
			S3: &storage.S3Config{
				Bucket:    os.Getenv("ARCHIVE_S3_BUCKET"),
				Region:    os.Getenv("ARCHIVE_S3_REGION"),
				Endpoint:  os.Getenv("ARCHIVE_S3_ENDPOINT"),
				AccessKey: os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("ARCHIVE_S3_SECRET_KEY"),
			},
		}
	case "gcs":
		return &storage.Config{
			Type: "gcs",
			GCS: &storage.GCSConfig{
				Bucket:      os.Getenv("ARCHIVE_GCS_BUCKET"),
				ProjectID:   os.Getenv("ARCHIVE_GCS_PROJECT_ID"),
				Credentials: os.Getenv("ARCHIVE_GCS_CREDENTIALS"),
			},
		}
	case "local":
		path := os.Getenv("ARCHIVE_LOCAL_PATH")
		if path == "" {
			path = defaultLocalPath
		}
		return &storage.Config{Type: "local", Local: &storage.LocalConfig{BasePath: path}}
	default:
		return nil
	}
}

// ResolvePlaceholder implements the ${VAR} / ${VAR:-default} resolution
// rule used during SQL replay and credential sync (spec.md §4.8): the
// provided envMap takes precedence, then the process environment, then
// the declared default. Unresolved names become empty strings.
func ResolvePlaceholder(name, defaultValue string, envMap map[string]string) string {
	if v, ok := envMap[name]; ok {
		return v
	}
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return defaultValue
}
