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

// Package supervisor 负责拉起并看护 Worker 子进程：
// 非零退出自动重启（有限预算）、信号转发与宽限强杀、内存水位告警。
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
	"vault-pipeline/pkg/utils"
)

// State 看护状态机：starting → running ⟷ restarting → stopped
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

const (
	defaultMaxRestarts  = 5
	defaultRestartDelay = 2 * time.Second
	defaultGracePeriod  = 10 * time.Second
	defaultMemoryTick   = 30 * time.Second
	defaultMemoryWarnMB = 512
	linuxPageSizeBytes  = 4096
)

// EnvRestartCount 子进程环境变量：当前是第几次重启（首启为 0）
const EnvRestartCount = "VAULT_WORKER_RESTARTS"

// EnvLogFile 子进程环境变量：日志落盘路径
const EnvLogFile = "VAULT_WORKER_LOG_FILE"

// Supervisor 看护一个 Worker 子进程
type Supervisor struct {
	command string
	args    []string

	maxRestarts  int
	restartDelay time.Duration
	gracePeriod  time.Duration
	memoryTick   time.Duration
	memoryWarnMB int
	logFile      string

	logger *log.Logger

	mu       sync.Mutex
	state    State
	restarts int
}

// New 创建 Supervisor；command/args 为子进程启动命令
func New(cfg config.SupervisorConfig, command string, args []string, logger *log.Logger) *Supervisor {
	return &Supervisor{
		command:      command,
		args:         args,
		maxRestarts:  utils.DefaultInt(cfg.MaxRestarts, defaultMaxRestarts),
		restartDelay: utils.ParseDurationDefault(cfg.RestartDelay, defaultRestartDelay),
		gracePeriod:  utils.ParseDurationDefault(cfg.GracePeriod, defaultGracePeriod),
		memoryTick:   utils.ParseDurationDefault(cfg.MemoryCheckInterval, defaultMemoryTick),
		memoryWarnMB: utils.DefaultInt(cfg.MemoryWarnMB, defaultMemoryWarnMB),
		logFile:      cfg.LogFile,
		logger:       logger,
		state:        StateStarting,
	}
}

// State 返回当前看护状态
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts 返回已发生的重启次数
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Info("看护状态变更", "from", string(prev), "to", string(st))
	}
}

// Run 看护主循环，阻塞直到子进程正常结束、重启预算耗尽或收到停止信号。
// 重启预算耗尽时返回错误；正常停止返回 nil
func (s *Supervisor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	for {
		child, err := s.spawn()
		if err != nil {
			s.logger.Error("子进程启动失败", "command", s.command, "error", err)
			if fatal := s.scheduleRestart(ctx); fatal != nil {
				return fatal
			}
			if ctx.Err() != nil {
				s.setState(StateStopped)
				return nil
			}
			continue
		}
		s.setState(StateRunning)
		s.logger.Info("子进程已启动", "pid", child.Process.Pid, "restarts", s.Restarts())

		waitCh := make(chan error, 1)
		go func() { waitCh <- child.Wait() }()

		tickDone := make(chan struct{})
		go s.watchMemory(child.Process.Pid, tickDone)

		select {
		case <-ctx.Done():
			close(tickDone)
			s.terminate(child, waitCh)
			s.setState(StateStopped)
			return nil
		case sig := <-sigCh:
			close(tickDone)
			s.logger.Info("收到停止信号，转发给子进程", "signal", sig.String())
			s.terminate(child, waitCh)
			s.setState(StateStopped)
			return nil
		case err := <-waitCh:
			close(tickDone)
			if err == nil {
				s.logger.Info("子进程正常退出")
				s.setState(StateStopped)
				return nil
			}
			// 被信号杀死视为外部终止，不消耗重启预算
			if signaled(child) {
				s.logger.Info("子进程被信号终止，停止看护", "error", err)
				s.setState(StateStopped)
				return nil
			}
			s.logger.Warn("子进程异常退出", "error", err)
			if fatal := s.scheduleRestart(ctx); fatal != nil {
				return fatal
			}
			// 重启等待期间被取消则不再拉起
			if ctx.Err() != nil {
				s.setState(StateStopped)
				return nil
			}
		}
	}
}

// signaled 判断子进程是否死于信号（而非非零退出码）
func signaled(child *exec.Cmd) bool {
	ps := child.ProcessState
	if ps == nil {
		return false
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

// spawn 启动子进程，注入重启计数与日志落盘路径
func (s *Supervisor) spawn() (*exec.Cmd, error) {
	c := exec.Command(s.command, s.args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	env := append(os.Environ(), EnvRestartCount+"="+strconv.Itoa(s.Restarts()))
	if s.logFile != "" {
		env = append(env, EnvLogFile+"="+s.logFile)
	}
	c.Env = env
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// scheduleRestart 消耗一次重启预算；预算耗尽时置 stopped 并返回致命错误
func (s *Supervisor) scheduleRestart(ctx context.Context) error {
	s.mu.Lock()
	if s.restarts >= s.maxRestarts {
		s.mu.Unlock()
		s.setState(StateStopped)
		return fmt.Errorf("worker 重启 %d 次后仍失败，放弃看护", s.maxRestarts)
	}
	s.restarts++
	count := s.restarts
	s.mu.Unlock()

	s.setState(StateRestarting)
	s.logger.Info("等待重启子进程", "attempt", count, "max", s.maxRestarts, "delay", s.restartDelay.String())
	select {
	case <-ctx.Done():
	case <-time.After(s.restartDelay):
	}
	return nil
}

// terminate 信号转发后等待宽限期，超时强杀
func (s *Supervisor) terminate(child *exec.Cmd, waitCh <-chan error) {
	_ = child.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
	case <-time.After(s.gracePeriod):
		s.logger.Warn("子进程宽限期内未退出，强制终止", "grace", s.gracePeriod.String())
		_ = child.Process.Kill()
		<-waitCh
	}
}

// watchMemory 周期采样子进程 RSS，超过水位仅告警不干预
func (s *Supervisor) watchMemory(pid int, done <-chan struct{}) {
	ticker := time.NewTicker(s.memoryTick)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rssMB, err := readRSSMB(pid)
			if err != nil {
				continue
			}
			if rssMB > s.memoryWarnMB {
				s.logger.Warn("子进程内存超过水位", "pid", pid, "rss_mb", rssMB, "warn_mb", s.memoryWarnMB)
			}
		}
	}
}

// readRSSMB 从 /proc/<pid>/statm 读取常驻内存（MB）
func readRSSMB(pid int) (int, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 2 {
		return 0, fmt.Errorf("statm 格式异常")
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return int(pages * linuxPageSizeBytes / (1024 * 1024)), nil
}
