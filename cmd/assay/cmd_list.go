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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// caseListing is the JSON row for --json output.
type caseListing struct {
	Name         string `json:"name"`
	Ordinal      int    `json:"ordinal"`
	InputFile    string `json:"input_file"`
	Selected     bool   `json:"selected"`
	HasReference bool   `json:"has_reference"`
}

// runListCommand previews discovery and selection without executing
// anything.
func runListCommand(cmd *cobra.Command, args []string) {
	ecfg := buildEngineConfig(config.Global())
	sel := assay.NewSelector(ecfg, slogger())

	all, err := sel.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery: %v\n", err)
		os.Exit(exitConfig)
	}
	kept, err := sel.Select(all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "selection: %v\n", err)
		os.Exit(exitConfig)
	}

	selected := make(map[string]bool, len(kept))
	for _, tc := range kept {
		selected[tc.Name] = true
	}

	listings := make([]caseListing, 0, len(all))
	for _, tc := range all {
		_, refErr := os.Stat(tc.ReferenceFile)
		listings = append(listings, caseListing{
			Name:         tc.Name,
			Ordinal:      tc.Ordinal,
			InputFile:    tc.InputFile,
			Selected:     selected[tc.Name],
			HasReference: refErr == nil,
		})
	}

	if listJSON {
		printJSON(listings)
		return
	}

	ux.Title(fmt.Sprintf("%d cases in %s, %d selected", len(all), ecfg.InputDir, len(kept)))
	for _, l := range listings {
		icon := ux.IconPending
		detail := filepath.Base(l.InputFile)
		if l.Selected {
			icon = ux.IconSuccess
		}
		if !l.HasReference {
			icon = ux.IconWarning
			detail += "  (no reference)"
		}
		ux.CaseStatus(l.Name, icon, detail)
	}
}
