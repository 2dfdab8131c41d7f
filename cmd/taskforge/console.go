package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/runner"
	"github.com/Strob0t/TaskForge/internal/service"
)

// The console is the single-threaded front end: one loop owns the terminal,
// drains the bridge on a fixed tick and renders immutable snapshots. It
// never blocks on a task; all work runs behind the manager.

const (
	consoleTick   = 500 * time.Millisecond
	outputLines   = 8
	statusColumns = 100
)

type console struct {
	cfg    *config.Config
	mgr    *service.Manager
	bridge *service.Bridge
	runner *runner.Runner

	selected int
	output   []string // rolling tail of subprocess output
	prompt   bool
	input    []rune
	flash    string
}

func runConsole(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Logs go to stderr so the screen stays clean; redirect to keep them.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	bridge := service.NewBridge(log)
	procRunner := runner.New(log, cfg.Tasks.GracePeriod)
	mgr := service.NewManager(log, bridge, cfg.Tasks.MaxConcurrent)

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	keys := make(chan byte, 64)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(keys)
				return
			}
			if n > 0 {
				keys <- buf[0]
			}
		}
	}()

	c := &console{cfg: cfg, mgr: mgr, bridge: bridge, runner: procRunner}
	ticker := time.NewTicker(consoleTick)
	defer ticker.Stop()

	c.render()
	for {
		select {
		case <-ticker.C:
			c.consumeEvents()
			c.render()
		case k, ok := <-keys:
			if !ok || c.handleKey(k) {
				shCtx, cancel := context.WithTimeout(context.Background(), cfg.Tasks.GracePeriod+2*time.Second)
				err := mgr.Shutdown(shCtx)
				cancel()
				fmt.Print("\x1b[2J\x1b[H")
				return err
			}
			c.render()
		}
	}
}

// consumeEvents drains the bridge and keeps a short tail of output lines.
// Status and progress are rendered from task snapshots, so those events
// only matter for the tail.
func (c *console) consumeEvents() {
	for _, ev := range c.bridge.Drain() {
		if ev.Kind != task.EventOutput {
			continue
		}
		c.output = append(c.output, ev.Line)
		if len(c.output) > outputLines {
			c.output = c.output[len(c.output)-outputLines:]
		}
	}
}

// handleKey processes one key. It reports true when the console should exit.
func (c *console) handleKey(k byte) bool {
	if c.prompt {
		switch k {
		case '\r', '\n':
			c.prompt = false
			c.submitCommand(strings.TrimSpace(string(c.input)))
			c.input = nil
		case 0x1b: // ESC cancels the prompt
			c.prompt = false
			c.input = nil
		case 0x7f, 0x08:
			if len(c.input) > 0 {
				c.input = c.input[:len(c.input)-1]
			}
		default:
			if k >= 0x20 {
				c.input = append(c.input, rune(k))
			}
		}
		return false
	}

	switch k {
	case 'q', 0x03: // q or ctrl-c
		return true
	case 'r':
		c.prompt = true
		c.input = nil
	case 'j':
		c.selected++
	case 'k':
		if c.selected > 0 {
			c.selected--
		}
	case 'c':
		if t := c.selectedTask(); t != nil {
			if c.mgr.Cancel(t.ID) {
				c.flash = "cancellation requested: " + t.Name
			} else {
				c.flash = "cannot cancel: " + t.Name
			}
		}
	case 'd':
		if t := c.selectedTask(); t != nil {
			if err := c.mgr.Clear(t.ID); err != nil {
				c.flash = "cannot clear: " + t.Name
			} else {
				c.flash = "cleared: " + t.Name
			}
		}
	case 'D':
		n := c.mgr.ClearTerminal()
		c.flash = fmt.Sprintf("cleared %d finished tasks", n)
	}
	return false
}

func (c *console) selectedTask() *task.Task {
	tasks := c.mgr.List()
	if len(tasks) == 0 {
		return nil
	}
	if c.selected >= len(tasks) {
		c.selected = len(tasks) - 1
	}
	return tasks[c.selected]
}

// submitCommand runs a shell command as a managed task.
func (c *console) submitCommand(cmdline string) {
	if cmdline == "" {
		return
	}
	spec := runner.Spec{
		Command: "sh",
		Args:    []string{"-c", cmdline},
		Timeout: c.cfg.Tasks.DefaultTimeout,
	}
	id, err := c.mgr.Submit(service.SubmitRequest{
		Name: cmdline,
		Work: service.CommandWork(c.runner, c.bridge, spec),
	})
	if err != nil {
		c.flash = "submit failed: " + err.Error()
		return
	}
	c.flash = "submitted " + shortID(id)
}

func (c *console) render() {
	var b strings.Builder
	b.WriteString("\x1b[2J\x1b[H") // clear, home

	stats := c.mgr.Stats()
	fmt.Fprintf(&b, "TaskForge console  running %d/%d  queued %d  pending events %d\r\n",
		stats.Running, stats.Capacity, stats.QueueDepth, c.bridge.Pending())
	b.WriteString(strings.Repeat("-", statusColumns) + "\r\n")

	tasks := c.mgr.List()
	if c.selected >= len(tasks) && len(tasks) > 0 {
		c.selected = len(tasks) - 1
	}
	for i, t := range tasks {
		marker := "  "
		if i == c.selected {
			marker = "> "
		}
		msg := t.Message
		if t.Err != nil {
			msg = t.Err.Message
		}
		fmt.Fprintf(&b, "%s%-10s %3d%%  %-9s  %s\r\n",
			marker, string(t.Status), t.Progress, shortID(t.ID), truncate(t.Name+"  "+msg, statusColumns-30))
	}
	if len(tasks) == 0 {
		b.WriteString("  no tasks -- press r to run a command\r\n")
	}

	if len(c.output) > 0 {
		b.WriteString(strings.Repeat("-", statusColumns) + "\r\n")
		for _, line := range c.output {
			b.WriteString("  " + truncate(line, statusColumns-2) + "\r\n")
		}
	}

	b.WriteString(strings.Repeat("-", statusColumns) + "\r\n")
	if c.prompt {
		fmt.Fprintf(&b, "run> %s", string(c.input))
	} else {
		b.WriteString("keys: r run  j/k select  c cancel  d clear  D clear finished  q quit")
		if c.flash != "" {
			b.WriteString("   [" + c.flash + "]")
		}
	}
	fmt.Print(b.String())
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// shortID returns the first 8 characters of an id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
