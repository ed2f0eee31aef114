package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendDrive  = "drive"
)

// Config selects and configures a Backend.
type Config struct {
	Backend              string
	LocalPath            string
	DriveCredentialsFile string
}

// Open creates the configured Backend. Backends holding resources also
// implement io.Closer.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendLocal:
		return OpenLocal(cfg.LocalPath)
	case BackendDrive:
		return NewDrive(ctx, cfg.DriveCredentialsFile)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
