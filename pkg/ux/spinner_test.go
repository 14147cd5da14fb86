// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"testing"
	"time"
)

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_ReturnsNonNil(t *testing.T) {
	spin := NewSpinner("Loading...")
	if spin == nil {
		t.Fatal("NewSpinner returned nil")
	}
}

func TestNewSpinner_SetsMessage(t *testing.T) {
	spin := NewSpinner("Running cases")
	if spin.message != "Running cases" {
		t.Errorf("expected message 'Running cases', got %q", spin.message)
	}
}

func TestNewSpinner_DefaultsToDotsType(t *testing.T) {
	spin := NewSpinner("Loading...")
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
}

func TestNewSpinner_InitializesChannels(t *testing.T) {
	spin := NewSpinner("Loading...")
	if spin.stop == nil {
		t.Error("stop channel should be initialized")
	}
	if spin.done == nil {
		t.Error("done channel should be initialized")
	}
}

// =============================================================================
// WithType Tests
// =============================================================================

func TestSpinner_WithType_Line(t *testing.T) {
	spin := NewSpinner("Loading...").WithType(SpinnerLine)
	if spin.spinType != SpinnerLine {
		t.Errorf("expected SpinnerLine, got %v", spin.spinType)
	}
}

func TestSpinner_WithType_Compass(t *testing.T) {
	spin := NewSpinner("Loading...").WithType(SpinnerCompass)
	if spin.spinType != SpinnerCompass {
		t.Errorf("expected SpinnerCompass, got %v", spin.spinType)
	}
}

func TestSpinner_WithType_Chaining(t *testing.T) {
	spin := NewSpinner("Loading...").WithType(SpinnerLine)
	if spin == nil {
		t.Fatal("WithType should return the spinner for chaining")
	}
}

// =============================================================================
// Start/Stop Tests
// =============================================================================

func TestSpinner_Start_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Comparing...")
	spin.Start()
	// In machine mode no goroutine is launched, so Stop must not block.
	spin.Stop()
}

func TestSpinner_Start_AlreadyRunning(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Comparing...")
	spin.Start()
	spin.Start() // second call must be a no-op
	spin.Stop()
}

func TestSpinner_Stop_NotRunning(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Comparing...")
	spin.Stop() // must not panic or block
}

func TestSpinner_StartStop_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	spin := NewSpinner("Comparing...")
	spin.Start()
	time.Sleep(100 * time.Millisecond)
	spin.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	spin := NewSpinner("Starting")
	spin.UpdateMessage("Halfway there")
	spin.mu.Lock()
	got := spin.message
	spin.mu.Unlock()
	if got != "Halfway there" {
		t.Errorf("expected updated message, got %q", got)
	}
}

// =============================================================================
// StopWith Tests
// =============================================================================

func TestSpinner_StopWithSuccess(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Uploading")
	spin.Start()
	spin.StopWithSuccess("Uploaded")
}

func TestSpinner_StopWithError(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Uploading")
	spin.Start()
	spin.StopWithError("Upload failed")
}

func TestSpinner_StopWithWarning(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("Uploading")
	spin.Start()
	spin.StopWithWarning("Upload partial")
}

// =============================================================================
// WithSpinner Tests
// =============================================================================

func TestWithSpinner_Success(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	err := WithSpinner("running", func() error {
		return nil
	})
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestWithSpinner_Error(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	want := errors.New("case crashed")
	err := WithSpinner("running", func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected the callback error back, got %v", err)
	}
}

// =============================================================================
// ProgressSpinner Tests
// =============================================================================

func TestProgressSpinner_Increment(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	p := NewProgressSpinner("comparing", 12)
	p.Increment()
	p.Increment()

	p.mu.Lock()
	current, msg := p.current, p.message
	p.mu.Unlock()

	if current != 2 {
		t.Errorf("expected current 2, got %d", current)
	}
	if msg != "comparing [2/12]" {
		t.Errorf("expected progress in message, got %q", msg)
	}
}

func TestProgressSpinner_SetProgress(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	p := NewProgressSpinner("comparing", 12)
	p.SetProgress(7)

	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current != 7 {
		t.Errorf("expected current 7, got %d", current)
	}
}

func TestProgressSpinner_MachineMode_KeepsMessage(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	p := NewProgressSpinner("comparing", 3)
	p.Increment()

	p.mu.Lock()
	msg := p.message
	p.mu.Unlock()

	if msg != "comparing" {
		t.Errorf("machine mode should not rewrite the message, got %q", msg)
	}
}
