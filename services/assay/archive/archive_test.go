// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nilClientArchiver builds an archiver whose storage client is nil.
// Tests that exercise failure paths before any network call can use
// it without credentials.
func nilClientArchiver() *Archiver {
	return &Archiver{
		ProjectID: "test-project",
		Bucket:    "test-bucket",
		prefix:    "assay-runs",
		logger:    discardLogger(),
	}
}

func TestNewArchiver_MissingKeyFile(t *testing.T) {
	cfg := Config{
		Bucket:          "test-bucket",
		CredentialsFile: filepath.Join(t.TempDir(), "no-such-key.json"),
	}

	_, err := NewArchiver(context.Background(), cfg, discardLogger())
	if err == nil {
		t.Fatal("expected error for missing key file, got nil")
	}
	if !strings.Contains(err.Error(), "service account key not found") {
		t.Errorf("error = %q, want mention of missing key", err)
	}
}

func TestNewArchiver_RequiresBucket(t *testing.T) {
	_, err := NewArchiver(context.Background(), Config{}, discardLogger())
	if err == nil {
		t.Fatal("expected error for empty bucket, got nil")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("error = %q, want mention of bucket", err)
	}
}

func TestNewArchiver_InvalidCredentials(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(keyPath, []byte("not a json key"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Bucket: "test-bucket", CredentialsFile: keyPath}
	_, err := NewArchiver(context.Background(), cfg, discardLogger())
	if err == nil {
		t.Fatal("expected error for malformed key file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to create GCS storage client") {
		t.Errorf("error = %q, want client creation failure", err)
	}
}

func TestUploadFile_MissingLocalFile(t *testing.T) {
	a := nilClientArchiver()

	err := a.UploadFile(context.Background(), filepath.Join(t.TempDir(), "absent.log"), "assay-runs/x/absent.log")
	if err == nil {
		t.Fatal("expected error for missing local file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to open the local file") {
		t.Errorf("error = %q, want open failure", err)
	}
}

func TestUploadDir_MissingDirectory(t *testing.T) {
	a := nilClientArchiver()

	err := a.UploadDir(context.Background(), filepath.Join(t.TempDir(), "absent"), "assay-runs/x")
	if err == nil {
		t.Fatal("expected error for missing directory, got nil")
	}
}

func TestUploadDir_EmptyTreeUploadsNothing(t *testing.T) {
	// An empty work tree walks cleanly without touching the storage
	// client, so the nil-client archiver proves no upload happened.
	a := nilClientArchiver()

	if err := a.UploadDir(context.Background(), t.TempDir(), "assay-runs/x"); err != nil {
		t.Fatalf("UploadDir on empty tree: %v", err)
	}
}

func TestArchiveRun_RequiresRunID(t *testing.T) {
	a := nilClientArchiver()

	_, err := a.ArchiveRun(context.Background(), "", t.TempDir())
	if err == nil {
		t.Fatal("expected error for empty run id, got nil")
	}
}

func TestArchiveRun_Destination(t *testing.T) {
	a := nilClientArchiver()

	dest, err := a.ArchiveRun(context.Background(), "ab12cd34", t.TempDir())
	if err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}
	want := "gs://test-bucket/assay-runs/ab12cd34"
	if dest != want {
		t.Errorf("destination = %q, want %q", dest, want)
	}
}

func TestClose_NilClient(t *testing.T) {
	a := nilClientArchiver()
	if err := a.Close(); err != nil {
		t.Errorf("Close with nil client: %v", err)
	}
}

// TestArchiveRun_Integration runs against a real bucket. It is skipped
// unless the ASSAY_TEST_GCS_* variables point at usable credentials.
func TestArchiveRun_Integration(t *testing.T) {
	keyPath := os.Getenv("ASSAY_TEST_GCS_KEY_PATH")
	projectID := os.Getenv("ASSAY_TEST_GCS_PROJECT_ID")
	bucket := os.Getenv("ASSAY_TEST_GCS_BUCKET")
	if keyPath == "" || projectID == "" || bucket == "" {
		t.Skip("set ASSAY_TEST_GCS_KEY_PATH, ASSAY_TEST_GCS_PROJECT_ID and ASSAY_TEST_GCS_BUCKET to run")
	}

	ctx := context.Background()
	a, err := NewArchiver(ctx, Config{
		ProjectID:       projectID,
		Bucket:          bucket,
		CredentialsFile: keyPath,
		Prefix:          "assay-test",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}
	defer a.Close()

	// Work tree with one case subdirectory, the shape a run leaves
	// behind.
	workDir := t.TempDir()
	caseDir := filepath.Join(workDir, "test001")
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(caseDir, "test001.log"), []byte("CHECKDATA:HF:ENERGY -76.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reportPath := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(reportPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := a.ArchiveRun(ctx, "integration01", workDir, reportPath)
	if err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}
	if !strings.HasPrefix(dest, "gs://"+bucket+"/") {
		t.Errorf("destination = %q, want gs://%s prefix", dest, bucket)
	}

	// The case subdirectory must survive the upload.
	obj := a.storageClient.Bucket(bucket).Object("assay-test/integration01/test001/test001.log")
	if _, err := obj.Attrs(ctx); err != nil {
		t.Errorf("nested object missing after upload: %v", err)
	}
}
