package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// DefaultFolder is used when no folder is configured.
const DefaultFolder = "certificates"

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Service uploads rendered certificate documents to Cloudinary.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}

	return &Service{
		client: cld,
		folder: folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Upload stores the document as a raw asset and returns its secure URL.
// Uploading the same name twice replaces the previous asset.
func (s *Service) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	publicID, err := buildPublicID(name)
	if err != nil {
		return "", err
	}

	params := uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     publicID,
		ResourceType: "raw",
		Overwrite:    api.Bool(true),
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload certificate document: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected certificate document: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("certificate document uploaded")

	return result.SecureURL, nil
}

// buildPublicID keeps the extension since raw assets are served by public id.
func buildPublicID(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		return "", fmt.Errorf("document name %q has no usable characters", name)
	}

	return base + ext, nil
}
