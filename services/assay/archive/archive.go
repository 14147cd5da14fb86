// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive uploads finished run artifacts (work trees, logs,
// check files, reports) to Google Cloud Storage for long-term
// retention beyond the local history window.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the GCS destination settings.
type Config struct {
	// ProjectID is the GCP project, informational.
	ProjectID string `yaml:"project_id" json:"project_id"`

	// Bucket is the destination bucket name.
	Bucket string `yaml:"bucket" json:"bucket"`

	// CredentialsFile is the service account key path.
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`

	// Prefix is the object prefix under which runs are stored.
	Prefix string `yaml:"prefix" json:"prefix"`
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{Prefix: "assay-runs"}
}

// =============================================================================
// ARCHIVER
// =============================================================================

// Archiver uploads run artifacts under <prefix>/<run-id>/.
//
// Thread Safety: Safe for concurrent use.
type Archiver struct {
	storageClient *storage.Client
	ProjectID     string
	Bucket        string
	prefix        string
	logger        *slog.Logger
}

// NewArchiver validates the credentials file and connects to GCS.
//
// Inputs:
//
//	ctx - Context for client construction.
//	cfg - Destination settings; Bucket and CredentialsFile required.
//	logger - Structured logger; nil uses slog.Default.
//
// Outputs:
//
//	*Archiver - Ready archiver; call Close when done.
//	error - Non-nil when the key file is missing or the client cannot
//	be created.
func NewArchiver(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket not configured")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", cfg.CredentialsFile)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Archiver{
		storageClient: storageClient,
		ProjectID:     cfg.ProjectID,
		Bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		logger:        logger,
	}, nil
}

// Close releases the storage client.
func (a *Archiver) Close() error {
	if a.storageClient != nil {
		return a.storageClient.Close()
	}
	return nil
}

// ArchiveRun uploads one run's work tree and optional report files.
//
// Description:
//
//	Everything lands under <prefix>/<run-id>/, the work tree with its
//	per-case subdirectories preserved and the report files at the top
//	level. Returns the gs:// destination for display.
func (a *Archiver) ArchiveRun(ctx context.Context, runID, workDir string, reportFiles ...string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id must not be empty")
	}
	dest := path.Join(a.prefix, runID)

	if err := a.UploadDir(ctx, workDir, dest); err != nil {
		return "", err
	}
	for _, reportFile := range reportFiles {
		objectPath := path.Join(dest, filepath.Base(reportFile))
		if err := a.UploadFile(ctx, reportFile, objectPath); err != nil {
			return "", err
		}
	}

	gsURL := fmt.Sprintf("gs://%s/%s", a.Bucket, dest)
	a.logger.Info("run archived",
		slog.String("run_id", runID),
		slog.String("destination", gsURL),
	)
	return gsURL, nil
}

// UploadFile streams one local file into a bucket object.
func (a *Archiver) UploadFile(ctx context.Context, localPath, objectPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := a.storageClient.Bucket(a.Bucket).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, objectPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}
	a.logger.Debug("uploaded file",
		slog.String("local", localPath),
		slog.String("object", objectPath),
	)
	return nil
}

// UploadDir walks a directory tree and uploads every regular file,
// preserving paths relative to the root. Run work trees keep one
// subdirectory per case; flattening them would collide same-named
// logs and check files.
func (a *Archiver) UploadDir(ctx context.Context, localDir, objectPrefix string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return fmt.Errorf("resolving %s relative to %s: %w", p, localDir, err)
		}
		objectPath := path.Join(objectPrefix, filepath.ToSlash(rel))
		return a.UploadFile(ctx, p, objectPath)
	})
}
