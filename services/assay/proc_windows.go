// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build windows

package assay

import "os/exec"

// setProcGroup is a no-op on Windows; there are no POSIX process
// groups to join.
func setProcGroup(cmd *exec.Cmd) {}

// killProcGroup kills only the direct child on Windows. Grandchild
// processes spawned by launcher scripts may survive a timeout; the
// scientific packages this harness targets run on Linux clusters, so
// this is a degraded fallback, not a supported configuration.
func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
