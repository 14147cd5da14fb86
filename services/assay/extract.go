// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assay

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// =============================================================================
// LOG GRAMMAR
// =============================================================================

var (
	// moduleStartRe opens a module span.
	moduleStartRe = regexp.MustCompile(`(?i)^\s*start\s+running\s+module\s+(\w+)`)

	// moduleEndRe closes the most recently opened span of that name.
	moduleEndRe = regexp.MustCompile(`(?i)^\s*end\s+running\s+module\s+(\w+)`)

	// builtinFalsePositives are known benign lines that contain the
	// word "error". Settings echoes like
	// "IsOrthogonalizeDiisErrorMatrix = T" are data, not diagnostics.
	builtinFalsePositives = []string{
		`(?i)IsOrthogonalizeDiisErrorMatrix\s*=`,
	}
)

// =============================================================================
// EXTRACTOR
// =============================================================================

// Extractor pulls marker records, module spans, and error events out
// of a solver log in a single streaming pass.
//
// # Description
//
// Scientific package logs are large (hundreds of MB for heavy cases)
// and frequently malformed near crashes. The extractor therefore
// never fails on content: anything it cannot parse becomes an
// ExtractionWarning and the scan continues. Only I/O errors are
// returned.
//
// # Thread Safety
//
// Safe for concurrent use after construction; all state is per-call.
type Extractor struct {
	marker         string
	falsePositives []*regexp.Regexp
	maxErrorEvents int
	logger         *slog.Logger
}

// NewExtractor builds an extractor from the engine configuration.
//
// Inputs:
//
//	cfg - Supplies the marker token, error-event cap, and extra
//	      false-positive patterns.
//	logger - Logger for scan diagnostics.
//
// Outputs:
//
//	*Extractor - Ready extractor with the false-positive table
//	             compiled.
//	error - ConfigError when a configured false-positive pattern does
//	        not compile.
func NewExtractor(cfg *Config, logger *slog.Logger) (*Extractor, error) {
	patterns := make([]*regexp.Regexp, 0, len(builtinFalsePositives)+len(cfg.FalsePositives))
	for _, p := range builtinFalsePositives {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	for _, p := range cfg.FalsePositives {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &ConfigError{Field: "comparison.false_positives", Value: p, Cause: err}
		}
		patterns = append(patterns, re)
	}
	return &Extractor{
		marker:         cfg.Marker,
		falsePositives: patterns,
		maxErrorEvents: cfg.MaxErrorEvents,
		logger:         logger,
	}, nil
}

// ExtractFile scans a log file and writes the check artifact.
//
// Description:
//
//	Opens logPath, streams it through Extract, then writes the
//	extracted marker lines verbatim to checkPath in the same format
//	as reference check files. Pass checkPath == "" to skip the
//	artifact.
//
// Inputs:
//
//	logPath - Solver log to scan.
//	checkPath - Destination for the extracted marker artifact.
//
// Outputs:
//
//	Extraction - Scan result; valid even when the artifact write
//	             fails.
//	error - ErrNoLog when the log is missing, otherwise I/O errors.
func (e *Extractor) ExtractFile(logPath, checkPath string) (Extraction, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Extraction{}, fmt.Errorf("%w: %s", ErrNoLog, logPath)
		}
		return Extraction{}, fmt.Errorf("open log %s: %w", logPath, err)
	}
	defer file.Close()

	ext, err := e.Extract(file)
	if err != nil {
		return ext, fmt.Errorf("scan log %s: %w", logPath, err)
	}
	e.logger.Debug("scanned log",
		slog.String("log", logPath),
		slog.Int("markers", len(ext.Markers)),
		slog.Int("spans", len(ext.Spans)),
		slog.Int("warnings", len(ext.Warnings)),
		slog.Int("error_events", len(ext.ErrorEvents)),
	)

	if checkPath != "" {
		if err := writeCheckArtifact(checkPath, ext.Markers); err != nil {
			return ext, fmt.Errorf("write check artifact %s: %w", checkPath, err)
		}
		ext.CheckFile = checkPath
	}
	return ext, nil
}

// ReadReference parses a reference check file into marker records.
//
// Reference files use the same marker-line grammar as logs; lines
// without the marker token are skipped.
func (e *Extractor) ReadReference(path string) ([]MarkerRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference %s: %w", path, err)
	}
	defer file.Close()

	ext, err := e.Extract(file)
	if err != nil {
		return nil, fmt.Errorf("scan reference %s: %w", path, err)
	}
	return ext.Markers, nil
}

// Extract performs the streaming scan over an open log.
func (e *Extractor) Extract(r io.Reader) (Extraction, error) {
	var ext Extraction

	scanner := bufio.NewScanner(r)
	// Increase buffer for long lines; solver matrix dumps routinely
	// exceed the 64K default.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	// openByName indexes still-open spans per lowercased module name,
	// innermost last. openStack orders all open spans for error-event
	// attribution.
	openByName := make(map[string][]int)
	var openStack []int

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		fields := strings.Fields(line)
		if len(fields) > 0 && strings.HasPrefix(fields[0], e.marker) {
			e.parseMarker(&ext, line, fields[0], lineNum)
			continue
		}

		if m := moduleStartRe.FindStringSubmatch(line); m != nil {
			name := strings.ToLower(m[1])
			ext.Spans = append(ext.Spans, ModuleSpan{Name: name, StartLine: lineNum})
			idx := len(ext.Spans) - 1
			openByName[name] = append(openByName[name], idx)
			openStack = append(openStack, idx)
			continue
		}

		if m := moduleEndRe.FindStringSubmatch(line); m != nil {
			name := strings.ToLower(m[1])
			open := openByName[name]
			if len(open) == 0 {
				ext.Warnings = append(ext.Warnings, ExtractionWarning{
					Line:   lineNum,
					Text:   strings.TrimSpace(line),
					Reason: "module end without matching start: " + name,
				})
				continue
			}
			idx := open[len(open)-1]
			openByName[name] = open[:len(open)-1]
			ext.Spans[idx].EndLine = lineNum
			ext.Spans[idx].Closed = true
			openStack = removeIndex(openStack, idx)
			continue
		}

		if e.isErrorEvent(line) && len(ext.ErrorEvents) < e.maxErrorEvents {
			ev := ErrorEvent{Line: lineNum, Text: strings.TrimSpace(line)}
			if len(openStack) > 0 {
				ev.Module = ext.Spans[openStack[len(openStack)-1]].Name
			}
			ext.ErrorEvents = append(ext.ErrorEvents, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return ext, err
	}

	// Spans still open at EOF stay Closed=false; FailedModules()
	// reports them.
	return ext, nil
}

// parseMarker records one marker line, or a warning when the key
// segments are missing.
func (e *Extractor) parseMarker(ext *Extraction, line, token string, lineNum int) {
	rest := strings.TrimPrefix(token, e.marker)
	if !strings.HasPrefix(rest, ":") || rest == ":" {
		ext.Warnings = append(ext.Warnings, ExtractionWarning{
			Line:   lineNum,
			Text:   strings.TrimSpace(line),
			Reason: "marker token has no key segments",
		})
		return
	}

	segments := strings.Split(rest[1:], ":")
	for _, s := range segments {
		if s == "" {
			ext.Warnings = append(ext.Warnings, ExtractionWarning{
				Line:   lineNum,
				Text:   strings.TrimSpace(line),
				Reason: "marker key has empty segment",
			})
			return
		}
	}

	trimmed := strings.TrimSpace(line)
	value := strings.TrimSpace(strings.TrimPrefix(trimmed, token))
	ext.Markers = append(ext.Markers, MarkerRecord{
		Key:   strings.Join(segments, "."),
		Value: value,
		Line:  lineNum,
		Raw:   trimmed,
	})
}

// isErrorEvent reports whether a line is a genuine error diagnostic.
func (e *Extractor) isErrorEvent(line string) bool {
	if !strings.Contains(strings.ToLower(line), "error") {
		return false
	}
	for _, re := range e.falsePositives {
		if re.MatchString(line) {
			return false
		}
	}
	return true
}

// removeIndex drops one value from an index stack, preserving order.
func removeIndex(stack []int, idx int) []int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == idx {
			return append(stack[:i], stack[i+1:]...)
		}
	}
	return stack
}

// writeCheckArtifact writes extracted marker lines verbatim, one per
// line, in log order. The format matches reference check files so
// accepted artifacts can replace references directly.
func writeCheckArtifact(path string, markers []MarkerRecord) error {
	var b strings.Builder
	for _, m := range markers {
		b.WriteString(m.Raw)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o640)
}
