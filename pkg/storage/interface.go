package storage

import (
	"context"
	"fmt"
)

// Lookup answers whether a stored object exists. Attachments are referenced
// by opaque keys; this package never reads or writes their content.
type Lookup interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Config selects the backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // local, s3
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New builds the Lookup for cfg.Driver.
func New(ctx context.Context, cfg Config) (Lookup, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "local", "":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
