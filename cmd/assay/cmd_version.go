// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is stamped by the release build:
//
//	go build -ldflags "-X main.version=v0.4.0"
var version = "dev"

func runVersionCommand(cmd *cobra.Command, args []string) {
	fmt.Println(versionString())
}

// versionString assembles the version line from the ldflags stamp and
// the module build info. VCS metadata is present on builds from a
// checkout and absent on `go install` of a tagged module.
func versionString() string {
	s := "assay " + version
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision, modified string
		for _, kv := range info.Settings {
			switch kv.Key {
			case "vcs.revision":
				revision = kv.Value
			case "vcs.modified":
				modified = kv.Value
			}
		}
		if revision != "" {
			if len(revision) > 12 {
				revision = revision[:12]
			}
			s += " (" + revision
			if modified == "true" {
				s += ", dirty"
			}
			s += ")"
		}
	}
	return s + " " + runtime.Version()
}
