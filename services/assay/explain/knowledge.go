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
// DOMAIN KNOWLEDGE
// =============================================================================

// moduleNotes describes what each calculation module computes. Keyed
// by the lowercase module name as it appears in log spans and marker
// keys.
var moduleNotes = map[string]string{
	"compass":  "geometry and basis set preprocessing; runs first, so a failure here cascades into every later module",
	"xuanyuan": "one- and two-electron integral generation",
	"scf":      "self-consistent field (Hartree-Fock / DFT) ground state energy",
	"mcscf":    "multi-configurational SCF; convergence is sensitive to the initial orbital guess",
	"grad":     "analytic nuclear gradients over the preceding wavefunction",
	"tddft":    "time-dependent DFT excited states (excitation energies and oscillator strengths)",
	"mp2":      "second-order Moller-Plesset perturbation correction",
	"mrci":     "multi-reference configuration interaction",
	"nmr":      "NMR shielding tensors",
	"nrcc":     "coupled-cluster amplitudes and energies",
}

// moduleContext returns background lines for every module implicated
// by the verdict, via failed spans or mismatch key prefixes.
func moduleContext(fc FailureContext) string {
	seen := make(map[string]bool)
	var b strings.Builder

	add := func(name string) {
		name = strings.ToLower(name)
		if seen[name] {
			return
		}
		if note, ok := moduleNotes[name]; ok {
			seen[name] = true
			fmt.Fprintf(&b, "  %s: %s\n", name, note)
		}
	}

	for _, mod := range fc.Verdict.FailedModules {
		add(mod)
	}
	for _, m := range fc.Verdict.Mismatches {
		add(keyModule(m.Key))
	}
	for _, k := range fc.Verdict.MissingKeys {
		add(keyModule(k))
	}
	return b.String()
}

// domainNotes returns failure-pattern hints matching the verdict.
// These encode recurring triage outcomes so the model does not
// rediscover them from scratch.
func domainNotes(fc FailureContext) string {
	var notes []string

	if verdictMentionsModule(fc, "mcscf") {
		notes = append(notes, "When MCSCF fails to converge, the grad module still runs but produces incomplete results; a missing CHECKDATA:GRAD marker is then expected and the root cause is the MCSCF convergence, not the gradient code.")
	}
	if verdictMentionsModule(fc, "tddft") {
		notes = append(notes, "TDDFT value differences are often caused by changed default settings rather than broken code; compare against the input defaults of the reference's git version before suspecting the solver.")
	}
	if verdictMentionsModule(fc, "nmr") {
		notes = append(notes, "An NMR segfault or truncated NMR output indicates a bug in the nmr module itself, not a tolerance issue.")
	}
	if verdictMentionsModule(fc, "nrcc") {
		notes = append(notes, "Missing nrcc output sections indicate the coupled-cluster module aborted; treat as a module bug.")
	}

	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "  - %s\n", n)
	}
	return b.String()
}

// verdictMentionsModule reports whether a module shows up in the
// verdict's failed spans, mismatch keys, or missing keys.
func verdictMentionsModule(fc FailureContext, module string) bool {
	for _, mod := range fc.Verdict.FailedModules {
		if strings.EqualFold(mod, module) {
			return true
		}
	}
	for _, m := range fc.Verdict.Mismatches {
		if strings.EqualFold(keyModule(m.Key), module) {
			return true
		}
	}
	for _, k := range fc.Verdict.MissingKeys {
		if strings.EqualFold(keyModule(k), module) {
			return true
		}
	}
	return false
}

// keyModule extracts the module portion of a marker key, e.g.
// "TDDFT.EXC_ENERGY" -> "TDDFT". Keys without a dot map to
// themselves.
func keyModule(key string) string {
	if i := strings.IndexByte(key, '.'); i > 0 {
		return key[:i]
	}
	return key
}
