package provider

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/dunamismax/imageship/internal/config"
)

// CloudinaryProvider uploads through the Cloudinary API. Cloudinary derives
// its own delivery formats, so uploads go in as-is and the secure URL from
// the response is the public address.
type CloudinaryProvider struct {
	cld    *cloudinary.Cloudinary
	folder string
	logger *log.Logger
}

func NewCloudinaryProvider(cfg config.CloudinaryConfig, logger *log.Logger) (*CloudinaryProvider, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("cloudinary credentials are incomplete")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("create cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	folder := strings.TrimSpace(cfg.Folder)
	if folder == "" {
		folder = "images"
	}

	return &CloudinaryProvider{
		cld:    cld,
		folder: folder,
		logger: logger,
	}, nil
}

func (p *CloudinaryProvider) Name() string {
	return "cloudinary"
}

func (p *CloudinaryProvider) TestConnection(ctx context.Context) error {
	resp, err := p.cld.Admin.Ping(ctx)
	if err != nil {
		return fmt.Errorf("cloudinary ping: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("cloudinary ping returned status %q", resp.Status)
	}
	return nil
}

func (p *CloudinaryProvider) Upload(ctx context.Context, localPath, fileName string, opts UploadOptions) (UploadResult, error) {
	publicID := p.publicID(fileName, opts.AddTimestamp)

	resp, err := p.cld.Upload.Upload(ctx, localPath, uploader.UploadParams{
		PublicID:     publicID,
		Folder:       p.folder,
		ResourceType: "image",
		Invalidate:   api.Bool(true),
		Overwrite:    api.Bool(false),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary upload %s: %w", fileName, err)
	}
	if resp.Error.Message != "" {
		return UploadResult{}, fmt.Errorf("cloudinary upload %s: %s", fileName, resp.Error.Message)
	}
	if resp.SecureURL == "" {
		return UploadResult{}, fmt.Errorf("cloudinary upload %s: no url returned", fileName)
	}

	p.logger.Printf("uploaded public_id=%s folder=%s", resp.PublicID, p.folder)

	return UploadResult{
		Key:       resp.PublicID,
		PublicURL: resp.SecureURL,
	}, nil
}

func (p *CloudinaryProvider) Delete(ctx context.Context, key string) error {
	resp, err := p.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: key})
	if err != nil {
		return fmt.Errorf("cloudinary destroy %s: %w", key, err)
	}
	switch resp.Result {
	case "ok":
		return nil
	case "not found":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	default:
		return fmt.Errorf("cloudinary destroy %s: result %q", key, resp.Result)
	}
}

// Stats reports account usage from the Admin API.
func (p *CloudinaryProvider) Stats(ctx context.Context) (map[string]any, error) {
	resp, err := p.cld.Admin.Usage(ctx, admin.UsageParams{})
	if err != nil {
		return nil, fmt.Errorf("cloudinary usage: %w", err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary usage: %s", resp.Error.Message)
	}

	return map[string]any{
		"provider":        "cloudinary",
		"cloud":           p.cld.Config.Cloud.CloudName,
		"folder":          p.folder,
		"plan":            resp.Plan,
		"credits":         resp.Credits,
		"transformations": resp.Transformations,
		"objects":         resp.Objects,
		"storage":         resp.Storage,
		"bandwidth":       resp.Bandwidth,
		"requests":        resp.Requests,
	}, nil
}

// publicID lowercases the base name and optionally appends a unix timestamp,
// mirroring the S3 key naming so both backends stay consistent.
func (p *CloudinaryProvider) publicID(fileName string, addTimestamp bool) string {
	fileName = strings.ToLower(strings.TrimSpace(fileName))
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if !addTimestamp {
		return base
	}
	return fmt.Sprintf("%s_%d", base, time.Now().Unix())
}
