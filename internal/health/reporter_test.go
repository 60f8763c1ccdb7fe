// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vault-pipeline/internal/docqueue"
	"vault-pipeline/internal/storage/cache"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
)

// stubQueue 可注入统计与探测结果的假队列
type stubQueue struct {
	stats    docqueue.Stats
	statsErr error
	pingErr  error
}

func (s *stubQueue) Enqueue(ctx context.Context, jobID string, p docqueue.Payload) error {
	return errors.New("not implemented")
}
func (s *stubQueue) Dequeue(ctx context.Context) (*docqueue.Job, error) {
	return nil, errors.New("not implemented")
}
func (s *stubQueue) Ack(ctx context.Context, jobID string) error { return nil }
func (s *stubQueue) Fail(ctx context.Context, jobID, reason string) (bool, error) {
	return false, nil
}
func (s *stubQueue) Stats(ctx context.Context) (docqueue.Stats, error) {
	return s.stats, s.statsErr
}
func (s *stubQueue) Ping(ctx context.Context) error { return s.pingErr }
func (s *stubQueue) Close() error                   { return nil }

func newTestReporter(t *testing.T, queues map[string]docqueue.Queue, cacheStore cache.Store) *Reporter {
	t.Helper()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	cfg := config.HealthConfig{FailedThreshold: 5, BacklogThreshold: 10}
	return NewReporter(queues, cacheStore, cfg, logger)
}

func TestCheckHealth_AllReachable(t *testing.T) {
	r := newTestReporter(t, map[string]docqueue.Queue{
		"vault-documents": &stubQueue{},
	}, nil)

	h := r.CheckHealth(context.Background())
	if !h.BackendReachable {
		t.Error("expected backend reachable")
	}
	if !h.Queues["vault-documents"] {
		t.Error("expected queue healthy")
	}
}

func TestCheckHealth_BackendDown(t *testing.T) {
	r := newTestReporter(t, map[string]docqueue.Queue{
		"vault-documents": &stubQueue{pingErr: errors.New("connection refused")},
	}, nil)

	h := r.CheckHealth(context.Background())
	if h.BackendReachable {
		t.Error("expected backend unreachable")
	}
	if h.Queues["vault-documents"] {
		t.Error("unreachable backend should mark queue unhealthy")
	}
}

func TestGetStats_PerQueueErrorIsolation(t *testing.T) {
	r := newTestReporter(t, map[string]docqueue.Queue{
		"good": &stubQueue{stats: docqueue.Stats{Waiting: 2, Total: 2}},
		"bad":  &stubQueue{statsErr: errors.New("timeout")},
	}, nil)

	report := r.GetStats(context.Background())
	if report.Queues["good"].Stats.Waiting != 2 {
		t.Errorf("good queue stats lost: %+v", report.Queues["good"])
	}
	if report.Queues["bad"].Error == "" {
		t.Error("bad queue should carry its error")
	}
}

func TestGetStats_Recommendations(t *testing.T) {
	cases := []struct {
		name  string
		stats docqueue.Stats
		want  string
	}{
		{"high failure rate", docqueue.Stats{Failed: 6, Active: 1}, "high failure rate"},
		{"large backlog", docqueue.Stats{Waiting: 11, Active: 1}, "large backlog"},
		{"no active workers", docqueue.Stats{Waiting: 1}, "no active workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReporter(t, map[string]docqueue.Queue{
				"vault-documents": &stubQueue{stats: tc.stats},
			}, nil)
			report := r.GetStats(context.Background())
			found := false
			for _, rec := range report.Recommendations {
				if strings.Contains(rec, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected recommendation containing %q, got %v", tc.want, report.Recommendations)
			}
		})
	}
}

func TestGetStats_HealthyNoRecommendations(t *testing.T) {
	r := newTestReporter(t, map[string]docqueue.Queue{
		"vault-documents": &stubQueue{stats: docqueue.Stats{Waiting: 1, Active: 2, Completed: 10, Total: 13}},
	}, nil)
	report := r.GetStats(context.Background())
	if len(report.Recommendations) != 0 {
		t.Errorf("healthy queue should yield no recommendations, got %v", report.Recommendations)
	}
}

func TestGetStats_Cached(t *testing.T) {
	stub := &stubQueue{stats: docqueue.Stats{Waiting: 3, Active: 1, Total: 4}}
	r := newTestReporter(t, map[string]docqueue.Queue{"vault-documents": stub}, cache.NewMemoryStore())

	first := r.GetStats(context.Background())
	stub.stats = docqueue.Stats{Waiting: 99, Total: 99}
	second := r.GetStats(context.Background())
	if second.Queues["vault-documents"].Stats.Waiting != first.Queues["vault-documents"].Stats.Waiting {
		t.Error("second read within TTL should come from cache")
	}
}

func TestCheckHealth_NeverCached(t *testing.T) {
	stub := &stubQueue{}
	r := newTestReporter(t, map[string]docqueue.Queue{"vault-documents": stub}, cache.NewMemoryStore())

	if h := r.CheckHealth(context.Background()); !h.BackendReachable {
		t.Fatal("expected healthy")
	}
	stub.pingErr = errors.New("connection refused")
	if h := r.CheckHealth(context.Background()); h.BackendReachable {
		t.Error("health must reflect a fresh probe, not a cached value")
	}
}
