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
	"io"
	"os"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// =============================================================================
// LOG EXCERPTS
// =============================================================================

// logExcerpt returns a prompt-sized excerpt from the end of a case
// log.
//
// Description:
//
//	Reads at most MaxLogBytes from the tail of the file, then trims to
//	the ChunkSize character budget. The trim uses a recursive-character
//	splitter so the cut lands on a paragraph or line boundary instead
//	of mid-token; the final chunk is kept because failures surface at
//	the end of quantum chemistry logs.
func (e *Explainer) logExcerpt(path string) (string, error) {
	tail, err := readTail(path, e.cfg.MaxLogBytes)
	if err != nil {
		return "", err
	}
	tail = strings.TrimSpace(tail)
	if len(tail) <= e.cfg.ChunkSize {
		return tail, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(e.cfg.ChunkSize),
		textsplitter.WithChunkOverlap(e.cfg.ChunkOverlap),
	)
	chunks, err := splitter.SplitText(tail)
	if err != nil || len(chunks) == 0 {
		// Hard cut as a fallback. Losing a token at the break is
		// acceptable for an advisory excerpt.
		return tail[len(tail)-e.cfg.ChunkSize:], nil
	}
	return chunks[len(chunks)-1], nil
}

// readTail reads up to maxBytes from the end of the file at path.
func readTail(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("statting log: %w", err)
	}
	if info.Size() > maxBytes {
		if _, err := f.Seek(info.Size()-maxBytes, io.SeekStart); err != nil {
			return "", fmt.Errorf("seeking log tail: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}
	return string(data), nil
}
