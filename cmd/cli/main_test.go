package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/health"
)

func TestParseWatch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		enabled  bool
		interval time.Duration
	}{
		{"NoFlag", nil, false, 0},
		{"Bare", []string{"--watch"}, true, 5 * time.Second},
		{"WithInterval", []string{"--watch=10s"}, true, 10 * time.Second},
		{"InvalidInterval", []string{"--watch=bogus"}, true, 5 * time.Second},
		{"NegativeInterval", []string{"--watch=-1s"}, true, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled, interval := parseWatch(tt.args)
			if enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.enabled)
			}
			if enabled && interval != tt.interval {
				t.Fatalf("interval = %v, want %v", interval, tt.interval)
			}
		})
	}
}

func TestPrintStats(t *testing.T) {
	report := &statsReport{
		Health: health.Health{
			BackendReachable: true,
			Queues:           map[string]bool{"vault-documents": true},
		},
		Stats: &health.Report{
			Queues: map[string]health.QueueStats{
				"vault-documents": {
					Stats: docqueue.Stats{Waiting: 3, Active: 1, Completed: 10, Failed: 2, Delayed: 1, Total: 17},
				},
			},
			Recommendations: []string{"large backlog: consider scaling worker processes"},
		},
	}

	var buf bytes.Buffer
	printStats(&buf, report)
	out := buf.String()

	if !strings.Contains(out, "backend_reachable: true") {
		t.Fatalf("missing backend line: %s", out)
	}
	if !strings.Contains(out, "waiting=3") || !strings.Contains(out, "failed=2") {
		t.Fatalf("missing counts: %s", out)
	}
	if !strings.Contains(out, "recommendation: large backlog") {
		t.Fatalf("missing recommendation: %s", out)
	}
}

func TestPrintStats_QueueError(t *testing.T) {
	report := &statsReport{
		Health: health.Health{
			BackendReachable: false,
			Queues:           map[string]bool{"vault-documents": false},
		},
		Stats: &health.Report{
			Queues: map[string]health.QueueStats{
				"vault-documents": {Error: "queue backend unavailable"},
			},
		},
	}

	var buf bytes.Buffer
	printStats(&buf, report)
	out := buf.String()

	if !strings.Contains(out, "reachable=false") {
		t.Fatalf("missing reachable flag: %s", out)
	}
	if !strings.Contains(out, `error="queue backend unavailable"`) {
		t.Fatalf("missing queue error: %s", out)
	}
}
