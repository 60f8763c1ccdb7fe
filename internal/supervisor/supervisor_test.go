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

package supervisor

import (
	"context"
	"runtime"
	"testing"
	"time"

	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
)

func newTestSupervisor(t *testing.T, cfg config.SupervisorConfig, command string, args ...string) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	return New(cfg, command, args, logger)
}

func TestRun_CleanExitNoRestart(t *testing.T) {
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts:  3,
		RestartDelay: "10ms",
	}, "/bin/sh", "-c", "exit 0")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("clean exit should not error: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if s.Restarts() != 0 {
		t.Errorf("clean exit must not consume restart budget, got %d", s.Restarts())
	}
}

func TestRun_RestartBudgetExhausted(t *testing.T) {
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts:  2,
		RestartDelay: "10ms",
	}, "/bin/sh", "-c", "exit 1")

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("exhausted restart budget should surface a fatal error")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	// 恰好 MaxRestarts 次重启：首启 + 2 次重启 = 3 次运行
	if s.Restarts() != 2 {
		t.Errorf("expected exactly 2 restarts, got %d", s.Restarts())
	}
}

func TestRun_SpawnErrorCountsAsFailure(t *testing.T) {
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts:  1,
		RestartDelay: "10ms",
	}, "/nonexistent/worker-binary")

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("unspawnable command should exhaust budget and error")
	}
	if s.Restarts() != 1 {
		t.Errorf("expected 1 restart, got %d", s.Restarts())
	}
}

func TestRun_ContextCancelStopsChild(t *testing.T) {
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts: 3,
		GracePeriod: "2s",
	}, "/bin/sh", "-c", "trap 'exit 0' TERM; sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("graceful stop should not error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
}

func TestRun_GracePeriodForceKill(t *testing.T) {
	// 子进程忽略 TERM，只能靠宽限期后强杀
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts: 3,
		GracePeriod: "100ms",
	}, "/bin/sh", "-c", "trap '' TERM; sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stubborn child was not force-killed")
	}
}

func TestRun_SignalKilledChildNotRestarted(t *testing.T) {
	// 子进程自杀于 KILL：死于信号视为外部终止，不重启
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts:  3,
		RestartDelay: "10ms",
	}, "/bin/sh", "-c", "kill -KILL $$")

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("signal death should stop supervision without error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor kept running after signal-killed child")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if s.Restarts() != 0 {
		t.Errorf("signal death must not consume restart budget, got %d", s.Restarts())
	}
}

func TestRun_CancelDuringRestartDelay(t *testing.T) {
	// 长重启延迟期间取消：不得再拉起一次子进程
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts:  3,
		RestartDelay: "30s",
	}, "/bin/sh", "-c", "exit 1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// 等首次退出进入 restarting 后取消
	deadline := time.After(5 * time.Second)
	for s.State() != StateRestarting {
		select {
		case <-deadline:
			t.Fatal("supervisor never entered restarting state")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancel during restart delay should stop cleanly: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel during restart delay")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	// 预算已扣一次，但取消后不再有第二次运行
	if s.Restarts() != 1 {
		t.Errorf("expected exactly 1 consumed restart, got %d", s.Restarts())
	}
}

func TestRun_ChildSeesRestartCount(t *testing.T) {
	// 子进程校验 VAULT_WORKER_RESTARTS；首启为 0 则成功退出
	s := newTestSupervisor(t, config.SupervisorConfig{
		MaxRestarts:  1,
		RestartDelay: "10ms",
	}, "/bin/sh", "-c", `[ "$VAULT_WORKER_RESTARTS" = "0" ] && exit 0 || exit 1`)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("child should see restart count 0 on first spawn: %v", err)
	}
}
