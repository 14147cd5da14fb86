// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assay implements the regression-test engine for scientific
// computing packages.
//
// An assay run walks a fixed pipeline:
//
//  1. SELECT   - Discover labeled input decks (test001.inp, ...) and
//     resolve the enabled subset from ranges, profiles, or a
//     single-case override.
//  2. EXECUTE  - Run each case as an isolated subprocess with its own
//     working directory, scratch directory, and thread
//     budget, streaming output to <case>.log.
//  3. EXTRACT  - Scan the log for CHECKDATA marker lines and module
//     start/end span markers; write the <case>.check artifact.
//  4. COMPARE  - Match extracted markers against the accepted reference
//     file under per-key numeric tolerances.
//  5. AGGREGATE - Collect per-case verdicts into a RunResult ordered by
//     case ordinal, independent of completion order.
//
// The engine never decides WHY a value drifted; it reports what
// differs, by how much, and under which tolerance. Root-cause analysis
// lives in the separate explain service and is advisory only.
//
// # Isolation Guarantees
//
// No two in-flight cases ever share a working directory, scratch
// directory, or log file. Scratch paths embed a fresh random suffix on
// every invocation, so re-running a case cannot collide with a stale
// run. On timeout the entire process group of the case is killed; no
// descendant survives the runner.
//
// # Determinism
//
// The comparator is a pure function of (generated markers, reference
// markers, rule table, mode): comparing the same inputs twice yields
// bit-identical verdicts. The scheduler sorts verdicts by ordinal, so
// RunResult is reproducible regardless of worker interleaving.
//
// # Thread Safety
//
// A Service runs one regression at a time; overlapping Run calls
// return ErrAlreadyRunning. RuleTable and Selector are immutable after
// construction. RawOutcome, ComparisonVerdict, and RunResult are value
// snapshots and never mutated after publication.
//
// # Example Usage
//
//	cfg := assay.DefaultConfig()
//	cfg.InputDir = "tests/input"
//	cfg.ReferenceDir = "tests/reference"
//
//	svc, err := assay.NewService(cfg, logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := svc.Run(ctx)
//	if err != nil {
//	    return err
//	}
//
//	fmt.Printf("%d/%d passed\n", result.Passed, len(result.Verdicts))
package assay
