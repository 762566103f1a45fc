// Package storage composes blob stores.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

// Tee writes to a primary store and mirrors successful writes to a secondary
// one. Mirror failures are logged and never returned.
type Tee struct {
	primary   archive.BlobStore
	secondary archive.BlobStore
	logger    *zap.Logger
}

// NewTee returns primary unchanged when secondary is nil.
func NewTee(primary, secondary archive.BlobStore, logger *zap.Logger) archive.BlobStore {
	if secondary == nil {
		return primary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tee{primary: primary, secondary: secondary, logger: logger}
}

// PutObject writes data to the primary store and returns its URI.
func (t *Tee) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	uri, err := t.primary.PutObject(ctx, path, contentType, data)
	if err != nil {
		return "", fmt.Errorf("primary store: %w", err)
	}
	mirrorURI, err := t.secondary.PutObject(context.WithoutCancel(ctx), path, contentType, data)
	if err != nil {
		t.logger.Warn("mirror write failed", zap.String("path", path), zap.Error(err))
		return uri, nil
	}
	t.logger.Debug("mirrored object", zap.String("path", path), zap.String("uri", mirrorURI))
	return uri, nil
}
