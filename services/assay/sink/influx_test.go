// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// --- Mock InfluxDB WriteAPI ---

type MockWriteAPI struct {
	WritePointFunc func(ctx context.Context, point ...*write.Point) error
	WrittenPoints  []*write.Point
}

func (m *MockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	m.WrittenPoints = append(m.WrittenPoints, point...)
	if m.WritePointFunc != nil {
		return m.WritePointFunc(ctx, point...)
	}
	return nil
}

func (m *MockWriteAPI) WriteRecord(ctx context.Context, line ...string) error {
	return nil
}

func (m *MockWriteAPI) EnableBatching()                 {}
func (m *MockWriteAPI) Flush(ctx context.Context) error { return nil }

// --- Fixtures ---

func testSink(mock *MockWriteAPI) *InfluxSink {
	return &InfluxSink{
		writeAPI: mock,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func finishedRun() *assay.RunResult {
	started := time.Date(2025, 8, 25, 2, 0, 0, 0, time.UTC)
	finished := started.Add(40 * time.Minute)
	return &assay.RunResult{
		RunID:      "run-0042",
		StartedAt:  started,
		FinishedAt: finished,
		State:      assay.StateDone,
		Mode:       "strict",
		Verdicts: []assay.ComparisonVerdict{
			{
				Case:        assay.TestCase{Name: "test001", Ordinal: 1},
				Passed:      true,
				ExecutionOK: true,
				Outcome: assay.RawOutcome{
					ExitCode: 0,
					Duration: 90 * time.Second,
					Finished: started.Add(2 * time.Minute),
				},
			},
			{
				Case:        assay.TestCase{Name: "test002", Ordinal: 2},
				ExecutionOK: true,
				Mismatches: []assay.Mismatch{
					{Key: "HF.ENERGY", Kind: assay.MismatchNumeric, TokenIndex: 0},
					{Key: "MP2.E_CORR", Kind: assay.MismatchNumeric, TokenIndex: 0},
				},
				Outcome: assay.RawOutcome{
					ExitCode: 0,
					Duration: 30 * time.Second,
					Finished: started.Add(3 * time.Minute),
				},
			},
		},
		Passed: 1,
		Failed: 1,
	}
}

// --- Point helpers ---

func tagValue(t *testing.T, p *write.Point, key string) string {
	t.Helper()
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	t.Fatalf("point %s has no tag %q", p.Name(), key)
	return ""
}

func fieldValue(t *testing.T, p *write.Point, key string) interface{} {
	t.Helper()
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	t.Fatalf("point %s has no field %q", p.Name(), key)
	return nil
}

// --- Tests ---

func TestInfluxSink_RecordWritesCaseAndSummaryPoints(t *testing.T) {
	mock := &MockWriteAPI{}
	s := testSink(mock)

	s.Record(context.Background(), finishedRun())

	if len(mock.WrittenPoints) != 3 {
		t.Fatalf("points = %d, want 2 cases + 1 summary", len(mock.WrittenPoints))
	}

	p1 := mock.WrittenPoints[0]
	if p1.Name() != "assay_case" {
		t.Errorf("measurement = %s", p1.Name())
	}
	if got := tagValue(t, p1, "case"); got != "test001" {
		t.Errorf("case tag = %s", got)
	}
	if got := tagValue(t, p1, "status"); got != "pass" {
		t.Errorf("status tag = %s", got)
	}
	if got := tagValue(t, p1, "run"); got != "run-0042" {
		t.Errorf("run tag = %s", got)
	}
	if got := fieldValue(t, p1, "duration_s"); got != 90.0 {
		t.Errorf("duration_s = %v", got)
	}

	p2 := mock.WrittenPoints[1]
	if got := tagValue(t, p2, "status"); got != "fail" {
		t.Errorf("status tag = %s", got)
	}
	if got := fieldValue(t, p2, "mismatches"); got != int64(2) {
		t.Errorf("mismatches = %v (%T)", got, got)
	}

	sum := mock.WrittenPoints[2]
	if sum.Name() != "assay_run" {
		t.Errorf("summary measurement = %s", sum.Name())
	}
	if got := tagValue(t, sum, "mode"); got != "strict" {
		t.Errorf("mode tag = %s", got)
	}
	if got := fieldValue(t, sum, "total"); got != int64(2) {
		t.Errorf("total = %v", got)
	}
	if got := fieldValue(t, sum, "passed"); got != int64(1) {
		t.Errorf("passed = %v", got)
	}
	if got := fieldValue(t, sum, "duration_s"); got != (40 * time.Minute).Seconds() {
		t.Errorf("run duration_s = %v", got)
	}
}

func TestInfluxSink_RecordSwallowsWriteErrors(t *testing.T) {
	mock := &MockWriteAPI{
		WritePointFunc: func(ctx context.Context, point ...*write.Point) error {
			return errors.New("connection refused")
		},
	}
	s := testSink(mock)

	// Must not panic or surface the error.
	s.Record(context.Background(), finishedRun())
}

func TestInfluxSink_RecordNilRun(t *testing.T) {
	mock := &MockWriteAPI{}
	s := testSink(mock)

	s.Record(context.Background(), nil)
	if len(mock.WrittenPoints) != 0 {
		t.Errorf("nil run wrote %d points", len(mock.WrittenPoints))
	}
}

func TestNewInfluxSink_RequiresToken(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewInfluxSink(cfg, nil); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestBuildPoints_AbortedRunHasZeroDuration(t *testing.T) {
	result := &assay.RunResult{
		RunID: "run-abort",
		State: assay.StateAborted,
		Mode:  "loose",
	}
	points := buildPoints(result)
	if len(points) != 1 {
		t.Fatalf("points = %d, want summary only", len(points))
	}
	if got := fieldValue(t, points[0], "duration_s"); got != 0.0 {
		t.Errorf("duration_s = %v, want 0", got)
	}
}
