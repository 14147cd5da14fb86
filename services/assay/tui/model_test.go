// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
)

func init() {
	// Keep assertions free of ANSI escapes.
	ux.SetPersonalityLevel(ux.PersonalityMachine)
}

func passVerdict(name string) assay.ComparisonVerdict {
	return assay.ComparisonVerdict{
		Case:        assay.TestCase{Name: name, Ordinal: 1},
		Passed:      true,
		ExecutionOK: true,
		Outcome:     assay.RawOutcome{ExitCode: 0, Duration: 1200 * time.Millisecond},
	}
}

func failVerdict(name string) assay.ComparisonVerdict {
	return assay.ComparisonVerdict{
		Case:        assay.TestCase{Name: name, Ordinal: 2},
		ExecutionOK: true,
		Mismatches: []assay.Mismatch{{
			Key:        "HF.ENERGY",
			Kind:       assay.MismatchNumeric,
			Generated:  "-76.0",
			Reference:  "-76.1",
			Delta:      0.1,
			Tolerance:  1e-8,
			TokenIndex: 0,
		}},
		Outcome: assay.RawOutcome{ExitCode: 0, Duration: 900 * time.Millisecond},
	}
}

func newModelForTest(total int) RunModel {
	verdicts := make(chan assay.ComparisonVerdict, total)
	done := make(chan RunOutcome, 1)
	return NewRunModel(total, verdicts, done, func() {})
}

// step applies one message and returns the updated RunModel.
func step(t *testing.T, m RunModel, msg tea.Msg) RunModel {
	t.Helper()
	updated, _ := m.Update(msg)
	rm, ok := updated.(RunModel)
	if !ok {
		t.Fatalf("Update returned %T, want RunModel", updated)
	}
	return rm
}

func TestRunModel_TalliesVerdicts(t *testing.T) {
	m := newModelForTest(3)

	m = step(t, m, VerdictMsg{Verdict: passVerdict("test001")})
	m = step(t, m, VerdictMsg{Verdict: failVerdict("test002")})
	m = step(t, m, VerdictMsg{Verdict: assay.ComparisonVerdict{
		Case:    assay.TestCase{Name: "test003", Ordinal: 3},
		Outcome: assay.RawOutcome{ExitCode: -1, TimedOut: true, Duration: 5 * time.Second},
	}})

	if m.finished != 3 {
		t.Errorf("finished = %d, want 3", m.finished)
	}
	if m.passed != 1 || m.failed != 1 || m.timedOut != 1 {
		t.Errorf("tallies = %d/%d/%d, want 1/1/1", m.passed, m.failed, m.timedOut)
	}

	view := m.View()
	for _, want := range []string{"test001", "test002", "test003", "HF.ENERGY", "killed at time budget"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRunModel_DoneQuits(t *testing.T) {
	m := newModelForTest(1)
	m = step(t, m, VerdictMsg{Verdict: passVerdict("test001")})

	result := &assay.RunResult{RunID: "abcd1234", State: assay.StateDone}
	updated, cmd := m.Update(RunDoneMsg{Outcome: RunOutcome{Result: result}})
	m = updated.(RunModel)

	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("cmd() = %v, want tea.QuitMsg", msg)
	}

	out, ended := m.Outcome()
	if !ended {
		t.Fatal("outcome not recorded")
	}
	if out.Result.RunID != "abcd1234" {
		t.Errorf("RunID = %s", out.Result.RunID)
	}

	view := m.View()
	if !strings.Contains(view, "abcd1234") {
		t.Errorf("summary missing run id:\n%s", view)
	}
	if !strings.Contains(view, "passed") {
		t.Errorf("summary missing tallies:\n%s", view)
	}
}

func TestRunModel_QuitKeyCancelsButWaits(t *testing.T) {
	canceled := false
	verdicts := make(chan assay.ComparisonVerdict, 1)
	done := make(chan RunOutcome, 1)
	m := NewRunModel(2, verdicts, done, func() { canceled = true })

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = updated.(RunModel)

	if !canceled {
		t.Error("ctrl+c did not cancel the run")
	}
	if cmd != nil {
		t.Error("ctrl+c should wait for the engine, not quit")
	}
	if !m.aborting {
		t.Error("aborting flag not set")
	}
	if !strings.Contains(m.View(), "stopping") {
		t.Errorf("view does not show abort state:\n%s", m.View())
	}
}

func TestRunModel_WindowSizeClampsBar(t *testing.T) {
	m := newModelForTest(1)

	m = step(t, m, tea.WindowSizeMsg{Width: 200, Height: 50})
	if m.progress.Width != 60 {
		t.Errorf("wide terminal bar = %d, want 60", m.progress.Width)
	}

	m = step(t, m, tea.WindowSizeMsg{Width: 20, Height: 50})
	if m.progress.Width != 10 {
		t.Errorf("narrow terminal bar = %d, want 10", m.progress.Width)
	}
}

func TestVerdictDetail(t *testing.T) {
	cases := []struct {
		name string
		v    assay.ComparisonVerdict
		want string
	}{
		{"pass", passVerdict("x"), ""},
		{"single mismatch", failVerdict("x"), "HF.ENERGY"},
		{
			"exit code",
			assay.ComparisonVerdict{Outcome: assay.RawOutcome{ExitCode: 139}},
			"exit 139",
		},
		{
			"missing key",
			assay.ComparisonVerdict{ExecutionOK: true, MissingKeys: []string{"GRAD.NORM"}},
			"missing GRAD.NORM",
		},
		{
			"failed module",
			assay.ComparisonVerdict{ExecutionOK: true, FailedModules: []string{"mcscf"}},
			"module mcscf incomplete",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := verdictDetail(tc.v)
			if !strings.Contains(got, tc.want) {
				t.Errorf("verdictDetail = %q, want containing %q", got, tc.want)
			}
		})
	}
}

func TestRunModel_LongSuiteTruncatesList(t *testing.T) {
	m := newModelForTest(40)
	for i := 0; i < 40; i++ {
		m = step(t, m, VerdictMsg{Verdict: passVerdict(nameFor(i))})
	}

	view := m.View()
	if !strings.Contains(view, "earlier cases") {
		t.Errorf("long run not truncated:\n%s", view)
	}
	if got := strings.Count(view, "test0"); got != maxVisibleLines {
		t.Errorf("rendered %d rows, want %d", got, maxVisibleLines)
	}
	if !strings.Contains(view, nameFor(39)) {
		t.Errorf("latest case missing from view")
	}
}

func nameFor(i int) string {
	return "test0" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}
