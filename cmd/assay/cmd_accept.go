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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/pkg/validation"
	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// acceptCandidate is one failing case whose extracted check file can
// become the new reference.
type acceptCandidate struct {
	Name      string
	CheckFile string
	Status    string
	Detail    string
}

// runAcceptCommand promotes check files from a stored run into the
// reference directory. Intentional behavior changes are blessed this
// way instead of hand-editing reference files.
func runAcceptCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fileCfg := config.Global()
	ecfg := buildEngineConfig(fileCfg)

	store, err := openHistory(fileCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	defer store.Close()

	result, err := resolveRun(ctx, store, acceptRunID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load run: %v\n", err)
		os.Exit(exitError)
	}

	candidates := acceptCandidates(result, ecfg.WorkRoot, ecfg.CheckSuffix)
	if len(candidates) == 0 {
		ux.Info(fmt.Sprintf("run %s has no failing cases with check files; nothing to accept", result.RunID))
		return
	}

	chosen, err := pickAcceptCases(result, candidates, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitConfig)
	}
	if len(chosen) == 0 {
		ux.Muted("nothing selected")
		return
	}

	promoted := 0
	for _, c := range chosen {
		dst := filepath.Join(ecfg.ReferenceDir, c.Name+ecfg.CheckSuffix)
		if err := copyFile(c.CheckFile, dst); err != nil {
			fmt.Fprintf(os.Stderr, "accept %s: %v\n", c.Name, err)
			os.Exit(exitError)
		}
		slogger().Info("reference updated",
			"case", c.Name,
			"run_id", result.RunID,
			"reference", dst,
		)
		ux.CaseStatus(c.Name, ux.IconSuccess, "reference updated")
		promoted++
	}
	ux.Success(fmt.Sprintf("%d reference(s) updated from run %s", promoted, result.RunID))
}

// acceptCandidates lists the failing cases of a run that left a check
// file behind. Passed cases are excluded: their references already
// match.
func acceptCandidates(result *assay.RunResult, workRoot, checkSuffix string) []acceptCandidate {
	var out []acceptCandidate
	for _, v := range result.Verdicts {
		if v.Passed {
			continue
		}
		check := v.CheckFile
		if check == "" {
			check = filepath.Join(workRoot, result.RunID, v.Case.Name, v.Case.Name+checkSuffix)
		}
		if _, err := os.Stat(check); err != nil {
			continue
		}
		out = append(out, acceptCandidate{
			Name:      v.Case.Name,
			CheckFile: check,
			Status:    v.Status(),
			Detail:    candidateDetail(v),
		})
	}
	return out
}

func candidateDetail(v assay.ComparisonVerdict) string {
	switch {
	case len(v.Mismatches) > 0:
		return fmt.Sprintf("%d mismatches", len(v.Mismatches))
	case len(v.MissingKeys) > 0:
		return fmt.Sprintf("missing %s", v.MissingKeys[0])
	case len(v.ExtraKeys) > 0:
		return fmt.Sprintf("extra %s", v.ExtraKeys[0])
	default:
		return v.Status()
	}
}

// pickAcceptCases resolves which candidates to promote: explicit
// arguments are validated against the run; with none, --force takes
// every candidate and a terminal gets the interactive picker.
func pickAcceptCases(result *assay.RunResult, candidates []acceptCandidate, args []string) ([]acceptCandidate, error) {
	byName := make(map[string]acceptCandidate, len(candidates))
	for _, c := range candidates {
		byName[c.Name] = c
	}

	if len(args) > 0 {
		if err := validation.ValidateLabels(args); err != nil {
			return nil, err
		}
		out := make([]acceptCandidate, 0, len(args))
		for _, name := range args {
			c, ok := byName[name]
			if !ok {
				if v, found := findVerdict(result, name); found && v.Passed {
					return nil, fmt.Errorf("refusing %s: case passed, its reference already matches", name)
				}
				return nil, fmt.Errorf("%s has no check file in run %s", name, result.RunID)
			}
			out = append(out, c)
		}
		return out, nil
	}

	if acceptForce {
		return candidates, nil
	}
	if !ux.IsInteractive() {
		return nil, fmt.Errorf("no terminal for the interactive picker; name cases explicitly or pass --force")
	}
	return multiselectCandidates(result.RunID, candidates)
}

func findVerdict(result *assay.RunResult, name string) (assay.ComparisonVerdict, bool) {
	for _, v := range result.Verdicts {
		if v.Case.Name == name {
			return v, true
		}
	}
	return assay.ComparisonVerdict{}, false
}

// multiselectCandidates runs the huh picker over the failing cases.
func multiselectCandidates(runID string, candidates []acceptCandidate) ([]acceptCandidate, error) {
	opts := make([]huh.Option[string], 0, len(candidates))
	for _, c := range candidates {
		label := fmt.Sprintf("%s  (%s, %s)", c.Name, c.Status, c.Detail)
		opts = append(opts, huh.NewOption(label, c.Name))
	}

	var picked []string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title(fmt.Sprintf("Accept new references from run %s", runID)).
				Description("Selected check files overwrite the stored references.").
				Options(opts...).
				Value(&picked),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, fmt.Errorf("selection failed: %w", err)
	}

	byName := make(map[string]acceptCandidate, len(candidates))
	for _, c := range candidates {
		byName[c.Name] = c
	}
	out := make([]acceptCandidate, 0, len(picked))
	for _, name := range picked {
		out = append(out, byName[name])
	}
	return out, nil
}

// copyFile replaces dst with src's contents.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create reference directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
