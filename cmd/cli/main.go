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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"vault-pipeline/internal/supervisor"
	"vault-pipeline/pkg/config"
	"vault-pipeline/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("vault-pipeline cli 0.1.0")
	case "config":
		runConfig()
	case "stats":
		os.Exit(runStats(args, os.Stdout))
	case "worker":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: vaultctl worker <start|supervise>\n")
			os.Exit(1)
		}
		switch args[0] {
		case "start":
			runWorkerStart()
		case "supervise":
			runWorkerSupervise()
		default:
			fmt.Fprintf(os.Stderr, "Usage: vaultctl worker <start|supervise>\n")
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: vaultctl <command> [args]")
	fmt.Println("  version                  - 显示版本")
	fmt.Println("  config                   - 显示配置概要")
	fmt.Println("  stats [--watch[=间隔]]   - 队列健康与统计（--watch 持续刷新，默认 5s）")
	fmt.Println("  worker start             - 启动单个 Worker 进程，转发信号")
	fmt.Println("  worker supervise         - 以 Supervisor 监管方式运行 Worker")
}

func runConfig() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("api.port=%d\n", cfg.API.Port)
	fmt.Printf("api.host=%s\n", cfg.API.Host)
	fmt.Printf("queue.type=%s\n", cfg.Queue.Type)
	fmt.Printf("storage.record.type=%s\n", cfg.Storage.Record.Type)
	fmt.Printf("storage.object.type=%s\n", cfg.Storage.Object.Type)
}

// parseWatch 解析 --watch / --watch=10s，返回 (启用, 间隔)
func parseWatch(args []string) (bool, time.Duration) {
	for _, a := range args {
		if a == "--watch" {
			return true, 5 * time.Second
		}
		if strings.HasPrefix(a, "--watch=") {
			d, err := time.ParseDuration(strings.TrimPrefix(a, "--watch="))
			if err != nil || d <= 0 {
				return true, 5 * time.Second
			}
			return true, d
		}
	}
	return false, 0
}

func runStats(args []string, w io.Writer) int {
	watch, interval := parseWatch(args)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		report, err := fetchStats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "获取统计失败: %v\n", err)
			if !watch {
				return 1
			}
		} else {
			printStats(w, report)
		}
		if !watch {
			return 0
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(interval):
		}
	}
}

func printStats(w io.Writer, report *statsReport) {
	fmt.Fprintf(w, "=== %s ===\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "backend_reachable: %v\n", report.Health.BackendReachable)
	names := make([]string, 0, len(report.Health.Queues))
	for name := range report.Health.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "queue %-20s reachable=%v", name, report.Health.Queues[name])
		if report.Stats != nil {
			if qs, ok := report.Stats.Queues[name]; ok {
				if qs.Error != "" {
					fmt.Fprintf(w, " error=%q", qs.Error)
				} else {
					s := qs.Stats
					fmt.Fprintf(w, " waiting=%d active=%d completed=%d failed=%d delayed=%d total=%d",
						s.Waiting, s.Active, s.Completed, s.Failed, s.Delayed, s.Total)
				}
			}
		}
		fmt.Fprintln(w)
	}
	if report.Stats != nil {
		for _, rec := range report.Stats.Recommendations {
			fmt.Fprintf(w, "recommendation: %s\n", rec)
		}
	}
}

// workerCommand 解析 Worker 启动命令：默认 go run ./cmd/worker，
// VAULT_WORKER_BIN 指向编译产物时直接执行
func workerCommand() (string, []string) {
	if bin := os.Getenv("VAULT_WORKER_BIN"); bin != "" {
		return bin, nil
	}
	return "go", []string{"run", "./cmd/worker"}
}

func runWorkerStart() {
	command, args := workerCommand()
	c := exec.Command(command, args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Dir = "."
	if err := c.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "worker start: %v\n", err)
		os.Exit(1)
	}

	// 转发终止信号给子进程，并以子进程退出码退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if s, ok := sig.(syscall.Signal); ok && c.Process != nil {
				_ = c.Process.Signal(s)
			}
		}
	}()

	err := c.Wait()
	signal.Stop(sigChan)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "worker exit: %v\n", err)
		os.Exit(1)
	}
}

func runWorkerSupervise() {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	command, args := workerCommand()
	sup := supervisor.New(cfg.Supervisor, command, args, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := sup.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "supervisor: %v\n", err)
		os.Exit(1)
	}
}
