// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui renders a live regression run in the terminal.
//
// # Description
//
// This package implements the run progress view using bubbletea. It
// subscribes to the engine's per-verdict notifications and shows a
// progress bar, a spinner, a scrolling list of finished cases, and a
// final summary.
//
// # Thread Safety
//
// The model lives inside the bubbletea event loop. Engine goroutines
// never touch it; they only feed the verdict channel.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// Messages
// =============================================================================

// VerdictMsg carries one finished case from the engine.
type VerdictMsg struct {
	Verdict assay.ComparisonVerdict
}

// RunDoneMsg signals that the engine run returned.
type RunDoneMsg struct {
	Outcome RunOutcome
}

// RunOutcome is the engine run's return pair.
type RunOutcome struct {
	Result *assay.RunResult
	Err    error
}

// =============================================================================
// Model
// =============================================================================

// caseLine is one rendered row of the finished-case list.
type caseLine struct {
	name     string
	status   string
	duration string
	detail   string
}

// RunModel is the bubbletea model for a live run.
type RunModel struct {
	total    int
	verdicts <-chan assay.ComparisonVerdict
	done     <-chan RunOutcome
	cancel   func()

	spinner  spinner.Model
	progress progress.Model

	lines    []caseLine
	finished int
	passed   int
	failed   int
	timedOut int
	errored  int

	width    int
	aborting bool
	quitting bool
	outcome  RunOutcome
	ended    bool
}

// NewRunModel creates the model for one run.
//
// # Inputs
//
//   - total: Number of selected cases, used for the progress bar.
//   - verdicts: Per-case results from the engine's notify hook.
//   - done: Receives exactly one RunOutcome when the engine returns.
//   - cancel: Cancels the run context; wired to ctrl+c and q.
//
// # Outputs
//
//   - RunModel: Ready-to-use model for tea.NewProgram.
func NewRunModel(total int, verdicts <-chan assay.ComparisonVerdict, done <-chan RunOutcome, cancel func()) RunModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	pb := progress.New(progress.WithScaledGradient(string(ux.ColorTealOcean), string(ux.ColorTealBright)))

	return RunModel{
		total:    total,
		verdicts: verdicts,
		done:     done,
		cancel:   cancel,
		spinner:  sp,
		progress: pb,
		width:    80,
	}
}

// Outcome returns the engine result recorded by the final RunDoneMsg.
func (m RunModel) Outcome() (RunOutcome, bool) {
	return m.outcome, m.ended
}

// waitForVerdict re-arms the verdict subscription as a tea command.
func waitForVerdict(ch <-chan assay.ComparisonVerdict) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return VerdictMsg{Verdict: v}
	}
}

// waitForDone delivers the engine's return value into the event loop.
func waitForDone(ch <-chan RunOutcome) tea.Cmd {
	return func() tea.Msg {
		return RunDoneMsg{Outcome: <-ch}
	}
}

// Init implements tea.Model.
func (m RunModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForVerdict(m.verdicts),
		waitForDone(m.done),
	)
}

// Update implements tea.Model.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		barWidth := msg.Width - 24
		if barWidth > 60 {
			barWidth = 60
		}
		if barWidth < 10 {
			barWidth = 10
		}
		m.progress.Width = barWidth
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			// The engine owns cleanup; ask it to stop and wait for
			// RunDoneMsg instead of quitting immediately.
			if !m.aborting {
				m.aborting = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case VerdictMsg:
		m.record(msg.Verdict)
		var bar tea.Cmd
		if m.total > 0 {
			bar = m.progress.SetPercent(float64(m.finished) / float64(m.total))
		}
		return m, tea.Batch(bar, waitForVerdict(m.verdicts))

	case RunDoneMsg:
		m.outcome = msg.Outcome
		m.ended = true
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// record tallies one verdict and formats its display row.
func (m *RunModel) record(v assay.ComparisonVerdict) {
	m.finished++
	status := v.Status()
	switch status {
	case "pass":
		m.passed++
	case "timeout":
		m.timedOut++
	case "error":
		m.errored++
	default:
		m.failed++
	}

	m.lines = append(m.lines, caseLine{
		name:     v.Case.Name,
		status:   status,
		duration: ux.Duration(v.Outcome.Duration),
		detail:   verdictDetail(v),
	})
}

// verdictDetail summarizes why a case did not pass, in one fragment.
func verdictDetail(v assay.ComparisonVerdict) string {
	switch {
	case v.Passed:
		return ""
	case v.Outcome.TimedOut:
		return "killed at time budget"
	case !v.ExecutionOK:
		return fmt.Sprintf("exit %d", v.Outcome.ExitCode)
	case len(v.Mismatches) == 1:
		mm := v.Mismatches[0]
		return fmt.Sprintf("%s Δ%.2e", mm.Key, mm.Delta)
	case len(v.Mismatches) > 1:
		return fmt.Sprintf("%d mismatches", len(v.Mismatches))
	case len(v.MissingKeys) > 0:
		return fmt.Sprintf("missing %s", v.MissingKeys[0])
	case len(v.FailedModules) > 0:
		return fmt.Sprintf("module %s incomplete", v.FailedModules[0])
	case len(v.ExtraKeys) > 0:
		return fmt.Sprintf("extra %s", v.ExtraKeys[0])
	default:
		return ""
	}
}

// =============================================================================
// View
// =============================================================================

// maxVisibleLines bounds the finished-case list so the header and bar
// stay on screen for big suites.
const maxVisibleLines = 18

// View implements tea.Model.
func (m RunModel) View() string {
	var b strings.Builder

	if m.quitting {
		return m.renderSummary()
	}

	header := fmt.Sprintf("%s running %d cases", m.spinner.View(), m.total)
	if m.aborting {
		header = ux.Styles.Warning.Render("stopping after in-flight cases...")
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	b.WriteString(m.progress.View())
	fmt.Fprintf(&b, "  %d/%d\n\n", m.finished, m.total)

	start := 0
	if len(m.lines) > maxVisibleLines {
		start = len(m.lines) - maxVisibleLines
		fmt.Fprintf(&b, "%s\n", ux.Styles.Muted.Render(fmt.Sprintf("  ... %d earlier cases", start)))
	}
	for _, line := range m.lines[start:] {
		b.WriteString(renderCaseLine(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(ux.Styles.Muted.Render("q to stop"))
	b.WriteString("\n")
	return b.String()
}

// renderCaseLine formats one finished case row.
func renderCaseLine(line caseLine) string {
	icon := statusIcon(line.status)
	name := ux.Styles.Bold.Render(fmt.Sprintf("%-12s", line.name))
	dur := ux.Styles.Muted.Render(fmt.Sprintf("%8s", line.duration))

	out := fmt.Sprintf("  %s %s %s  %s", icon, name, dur, line.status)
	if line.detail != "" {
		out += ux.Styles.Muted.Render("  " + line.detail)
	}
	return out
}

// statusIcon maps a verdict status to its themed icon.
func statusIcon(status string) string {
	switch status {
	case "pass":
		return ux.IconSuccess.Render()
	case "timeout":
		return ux.IconWarning.Render()
	case "error":
		return ux.IconError.Render()
	default:
		return ux.IconError.Render()
	}
}

// renderSummary is the final frame, left on screen after exit.
func (m RunModel) renderSummary() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.outcome.Err != nil {
		b.WriteString(ux.Styles.Error.Render("run failed: " + m.outcome.Err.Error()))
		b.WriteString("\n")
		return b.String()
	}

	title := ux.Styles.Title.Render("Run complete")
	if m.aborting {
		title = ux.Styles.Warning.Render("Run stopped")
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	rows := []struct {
		label string
		count int
		style lipgloss.Style
	}{
		{"passed", m.passed, ux.Styles.Success},
		{"failed", m.failed, ux.Styles.Error},
		{"timed out", m.timedOut, ux.Styles.Warning},
		{"errored", m.errored, ux.Styles.Error},
	}
	for _, r := range rows {
		if r.count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s %d\n", r.style.Render(fmt.Sprintf("%-10s", r.label)), r.count)
	}
	fmt.Fprintf(&b, "  %s %d\n", ux.Styles.Bold.Render(fmt.Sprintf("%-10s", "total")), m.finished)

	if m.outcome.Result != nil {
		fmt.Fprintf(&b, "\n  run id %s\n", ux.Styles.Highlight.Render(m.outcome.Result.RunID))
	}
	return b.String()
}

// =============================================================================
// Styles
// =============================================================================

var spinnerStyle = lipgloss.NewStyle().Foreground(ux.ColorTealBright)
