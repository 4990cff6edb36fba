package provider

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dunamismax/imageship/internal/config"
)

var ErrNoProviderConfigured = errors.New("no storage provider configured")

// Detect resolves the provider type from configuration. "auto" picks from
// whichever credentials are present; when both are configured Cloudinary is
// preferred.
func Detect(cfg config.Config) (string, error) {
	providerType := strings.ToLower(strings.TrimSpace(cfg.Provider.Type))
	switch providerType {
	case "s3", "cloudfront":
		return "s3", nil
	case "cloudinary":
		return "cloudinary", nil
	case "", "auto":
		switch {
		case cfg.Cloudinary.Configured():
			return "cloudinary", nil
		case cfg.S3.Configured():
			return "s3", nil
		default:
			return "", ErrNoProviderConfigured
		}
	default:
		return "", fmt.Errorf("unknown provider type: %s", cfg.Provider.Type)
	}
}

// New builds the configured provider.
func New(cfg config.Config, logger *log.Logger) (Provider, error) {
	providerType, err := Detect(cfg)
	if err != nil {
		return nil, err
	}

	switch providerType {
	case "cloudinary":
		return NewCloudinaryProvider(cfg.Cloudinary, logger)
	default:
		return NewS3Provider(cfg.S3, logger)
	}
}
