package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/imageship/internal/config"
)

func TestDetectProvider(t *testing.T) {
	s3 := config.S3Config{AccessKey: "ak", SecretKey: "sk", Bucket: "media"}
	cld := config.CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "secret"}

	cases := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr error
	}{
		{
			name: "explicit s3",
			cfg:  config.Config{Provider: config.ProviderConfig{Type: "s3"}},
			want: "s3",
		},
		{
			name: "cloudfront alias",
			cfg:  config.Config{Provider: config.ProviderConfig{Type: "cloudfront"}},
			want: "s3",
		},
		{
			name: "auto picks cloudinary over s3",
			cfg: config.Config{
				Provider:   config.ProviderConfig{Type: "auto"},
				S3:         s3,
				Cloudinary: cld,
			},
			want: "cloudinary",
		},
		{
			name: "auto falls back to s3",
			cfg: config.Config{
				Provider: config.ProviderConfig{Type: "auto"},
				S3:       s3,
			},
			want: "s3",
		},
		{
			name:    "auto with nothing configured",
			cfg:     config.Config{Provider: config.ProviderConfig{Type: "auto"}},
			wantErr: ErrNoProviderConfigured,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Detect(tc.cfg)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestStorageKeyName(t *testing.T) {
	now := time.Unix(1700000000, 0)

	if got := StorageKeyName("Dog Photo.JPG", false, now); got != "dog photo.jpg" {
		t.Fatalf("expected lowercased name, got %q", got)
	}
	if got := StorageKeyName("hero.png", true, now); got != "hero_1700000000.png" {
		t.Fatalf("expected timestamped name, got %q", got)
	}
}
