package storage

import (
	"context"
	"fmt"

	"lobbydocs/internal/config"
)

// New returns the Storage selected by cfg.Storage.Driver.
func New(ctx context.Context, cfg *config.AppConfig) (Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMinIO:
		return NewMinIO(ctx, cfg.MinIO)
	case config.DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
