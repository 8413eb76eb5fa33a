package main

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v11"

	"inkforge.dev/internal/persistence/objstore"
)

// buildMirror returns nil when INKFORGE_MIRROR is off.
func buildMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	var cfg objstore.Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("mirror env: %w", err)
	}
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := objstore.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.Printf("mirroring endings to bucket=%s prefix=%s workers=%d", cfg.Bucket, cfg.Prefix, cfg.Workers)
	return objstore.NewMirror(client, dataDir, cfg, logger), nil
}
