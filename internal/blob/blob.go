// Package blob selects the store that holds rendered documents.
package blob

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"parcelflow/internal/blob/core"
	"parcelflow/internal/blob/fs"
	"parcelflow/internal/blob/s3"
	"parcelflow/internal/config"
)

// Open returns the configured store. The fs driver defaults to
// <workspace>/.parcelflow/documents.
func Open(ctx context.Context, workspace string, cfg config.BlobSettings) (core.Store, error) {
	switch core.Driver(strings.ToLower(cfg.Driver)) {
	case "", core.DriverFilesystem:
		root := cfg.Root
		if root == "" {
			if workspace == "" {
				workspace = "."
			}
			root = filepath.Join(workspace, ".parcelflow", "documents")
		}
		return fs.New(root)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
