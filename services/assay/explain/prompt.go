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
	"fmt"
	"strings"
)

// =============================================================================
// PROMPT ASSEMBLY
// =============================================================================

// systemPrompt frames every provider conversation.
const systemPrompt = "You are a helpful assistant for build and numerical test failures."

// Caps keep the prompt bounded for pathological cases; a few examples
// of each finding class are enough for diagnosis.
const (
	maxPromptMismatches  = 12
	maxPromptKeys        = 10
	maxPromptErrorEvents = 5
)

// BuildPrompt renders one failure into the analysis prompt shared by
// all providers.
//
// Description:
//
//	The prompt leads with the case identity and execution facts, then
//	module-specific background from the knowledge base, then the
//	comparison findings, then the log excerpt. The response structure
//	is pinned so downstream rendering can rely on numbered sections.
func BuildPrompt(fc FailureContext) string {
	var b strings.Builder

	b.WriteString("You are an expert in debugging quantum chemistry software.\n")
	b.WriteString("A regression test failed when comparing its output against reference CHECKDATA markers.\n\n")

	fmt.Fprintf(&b, "Test: %s\n", fc.TestName)
	if fc.PackageVersion != "" {
		fmt.Fprintf(&b, "Package version: %s\n", fc.PackageVersion)
	}
	if fc.Mode != "" {
		fmt.Fprintf(&b, "Tolerance mode: %s\n", fc.Mode)
	}
	fmt.Fprintf(&b, "Exit code: %d\n", fc.ExitCode)
	if fc.TimedOut {
		b.WriteString("The calculation was killed at its time budget.\n")
	}

	if notes := moduleContext(fc); notes != "" {
		b.WriteString("\nModule background:\n")
		b.WriteString(notes)
	}
	if notes := domainNotes(fc); notes != "" {
		b.WriteString("\nDomain notes:\n")
		b.WriteString(notes)
	}

	writeFindings(&b, fc)

	if fc.LogExcerpt != "" {
		b.WriteString("\nEnd of calculation log:\n")
		b.WriteString("```\n")
		b.WriteString(fc.LogExcerpt)
		b.WriteString("\n```\n")
	}

	b.WriteString("\nStructure your answer as:\n")
	b.WriteString("1) Short TL;DR of the failure\n")
	b.WriteString("2) Likely root causes, most probable first\n")
	b.WriteString("3) Concrete debugging steps\n")
	b.WriteString("4) Notes on whether differences look like numerical tolerance issues or real bugs\n")

	return b.String()
}

// writeFindings renders the comparison verdict into the prompt.
func writeFindings(b *strings.Builder, fc FailureContext) {
	v := fc.Verdict

	if len(v.FailedModules) > 0 {
		fmt.Fprintf(b, "\nModules that started but never completed: %s\n",
			strings.Join(v.FailedModules, ", "))
	}

	if len(v.Mismatches) > 0 {
		b.WriteString("\nValue mismatches:\n")
		for i, m := range v.Mismatches {
			if i == maxPromptMismatches {
				fmt.Fprintf(b, "  ... and %d more\n", len(v.Mismatches)-i)
				break
			}
			fmt.Fprintf(b, "  %s[%d] %s: got %s, want %s", m.Key, m.Occurrence, m.Kind, m.Generated, m.Reference)
			if m.Tolerance > 0 {
				fmt.Fprintf(b, " (delta %.3e > tolerance %.3e)", m.Delta, m.Tolerance)
			}
			b.WriteString("\n")
		}
	}

	writeKeyList(b, "Reference markers missing from the output", v.MissingKeys)
	writeKeyList(b, "Markers in the output with no reference", v.ExtraKeys)

	if len(v.ErrorEvents) > 0 {
		b.WriteString("\nSuspected error lines:\n")
		for i, ev := range v.ErrorEvents {
			if i == maxPromptErrorEvents {
				fmt.Fprintf(b, "  ... and %d more\n", len(v.ErrorEvents)-i)
				break
			}
			if ev.Module != "" {
				fmt.Fprintf(b, "  line %d [%s]: %s\n", ev.Line, ev.Module, ev.Text)
			} else {
				fmt.Fprintf(b, "  line %d: %s\n", ev.Line, ev.Text)
			}
		}
	}
}

// writeKeyList renders a bounded key list under a heading.
func writeKeyList(b *strings.Builder, heading string, keys []string) {
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for i, k := range keys {
		if i == maxPromptKeys {
			fmt.Fprintf(b, "  ... and %d more\n", len(keys)-i)
			break
		}
		fmt.Fprintf(b, "  %s\n", k)
	}
}
