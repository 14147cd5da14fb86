// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// =============================================================================
// API KEY HANDLING
// =============================================================================

// ErrNoAPIKey indicates neither the environment variable nor the
// secrets file held a key.
var ErrNoAPIKey = errors.New("API key not found")

// APIKey holds a provider credential in an encrypted memguard enclave
// so the plaintext never sits in ordinary heap memory between
// requests.
//
// Thread Safety: Safe for concurrent use; Open returns independent
// locked buffers.
type APIKey struct {
	enclave *memguard.Enclave
}

// LoadAPIKey reads a credential from the named environment variable,
// falling back to the matching /run/secrets file (the container
// secrets convention), and seals it.
//
// Inputs:
//
//	envVar - Environment variable name, e.g. "OPENAI_API_KEY".
//
// Outputs:
//
//	*APIKey - Sealed credential.
//	error - ErrNoAPIKey when neither source yields a value.
func LoadAPIKey(envVar string) (*APIKey, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		secretPath := "/run/secrets/" + strings.ToLower(envVar)
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is unset and %s is unreadable", ErrNoAPIKey, envVar, secretPath)
		}
		slog.Info("API key loaded from secrets file", slog.String("path", secretPath))
		raw = string(data)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoAPIKey, envVar)
	}

	// NewBufferFromBytes wipes its source slice; Seal destroys the
	// buffer and leaves only the encrypted enclave.
	buf := memguard.NewBufferFromBytes([]byte(raw))
	return &APIKey{enclave: buf.Seal()}, nil
}

// Open decrypts the key into a locked buffer. The caller must call
// Destroy on the returned buffer as soon as the request is built.
func (k *APIKey) Open() (*memguard.LockedBuffer, error) {
	if k == nil || k.enclave == nil {
		return nil, ErrNoAPIKey
	}
	return k.enclave.Open()
}
