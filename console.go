package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fansqz/ether-debugger/config"
	"github.com/fansqz/ether-debugger/constants"
	. "github.com/fansqz/ether-debugger/debugger"
	"github.com/fansqz/ether-debugger/protocol"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
)

const consoleHelp = `commands:
  run <file> [entry]   launch the debugger and run file, stop on the first line with entry
  b <line>             set breakpoint
  clear <line>         clear breakpoint
  clearall             clear all breakpoints of the file
  info                 list breakpoints of all files
  c / rc               continue / reverse continue
  s / back             step / step back
  r                    restart
  where                show current line and stack
  vars                 show variables
  send <event> [json]  send a raw event to the debugger process
  kill                 terminate the session
  q                    quit`

var consoleCommands = []string{"run", "b", "clear", "clearall", "info", "c", "rc", "s", "back", "r", "where", "vars", "send", "kill", "q", "help"}

// Console 在终端中交互式地驱动一次调试
type Console struct {
	cfg     *config.Config
	handler *DebuggerHandler
	line    *liner.State
	out     io.Writer
}

func NewConsole(cfg *config.Config) *Console {
	c := &Console{
		cfg: cfg,
		out: os.Stdout,
	}
	c.handler = NewDebuggerHandler(&cfg.Debugger, c.printEvent)
	return c
}

// Run 读取命令直到退出
func (c *Console) Run(ctx context.Context) error {
	c.line = liner.NewLiner()
	defer c.line.Close()
	c.line.SetCtrlCAborts(true)
	c.line.SetCompleter(func(input string) []string {
		var answer []string
		for _, cmd := range consoleCommands {
			if strings.HasPrefix(cmd, input) {
				answer = append(answer, cmd)
			}
		}
		return answer
	})
	historyPath := filepath.Join(os.TempDir(), ".ether_debugger_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = c.line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = c.line.WriteHistory(f)
			_ = f.Close()
		}
	}()
	defer func() {
		_ = c.handler.Terminate(ctx)
	}()

	fmt.Fprintln(c.out, consoleHelp)
	for {
		input, err := c.line.Prompt("(ethdbg) ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		c.line.AppendHistory(input)
		quit, err := c.execute(ctx, strings.Fields(input))
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execute 执行一条命令，返回是否退出
func (c *Console) execute(ctx context.Context, fields []string) (bool, error) {
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "q", "quit", "exit":
		return true, nil
	case "help", "h":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "run":
		return false, c.run(ctx, args)
	case "kill":
		return false, c.handler.Terminate(ctx)
	case "send":
		return false, c.sendRaw(ctx, args)
	}

	debug, err := c.handler.Debugger()
	if err != nil {
		return false, err
	}
	program := c.handler.Program()
	switch cmd {
	case "b", "break":
		line, err := parseLine(args)
		if err != nil {
			return false, err
		}
		bp := debug.SetBreakpoint(ctx, program, line)
		fmt.Fprintf(c.out, "breakpoint %d at %s:%d\n", bp.ID, program, bp.Line+lineOffset)
	case "clear":
		line, err := parseLine(args)
		if err != nil {
			return false, err
		}
		if bp := debug.ClearBreakpoint(ctx, program, line); bp != nil {
			fmt.Fprintf(c.out, "breakpoint %d cleared\n", bp.ID)
		} else {
			fmt.Fprintf(c.out, "no breakpoint at line %d\n", line+lineOffset)
		}
	case "clearall":
		debug.ClearAllBreakpoints(ctx, program)
	case "info":
		for _, file := range debug.BreakpointFiles() {
			for _, bp := range debug.GetBreakpoints(ctx, file) {
				fmt.Fprintf(c.out, "  %d %s:%d verified = %v\n", bp.ID, file, bp.Line+lineOffset, bp.Verified)
			}
		}
	case "c", "continue":
		return false, debug.Continue(ctx, constants.Forward)
	case "rc":
		return false, debug.Continue(ctx, constants.Reverse)
	case "s", "step", "next":
		return false, debug.Step(ctx, constants.Forward)
	case "back":
		return false, debug.Step(ctx, constants.Reverse)
	case "r", "restart":
		return false, debug.Restart(ctx)
	case "where":
		file, line := debug.Position()
		fmt.Fprintf(c.out, "%s:%d [%s] entry %d\n", file, line+lineOffset, debug.Status(), c.handler.EntryLine()+lineOffset)
		frames, _, err := debug.GetStackTrace(ctx, 0, 0)
		if err != nil {
			return false, err
		}
		for _, frame := range frames {
			fmt.Fprintf(c.out, "  #%d %s\n", frame.ID, frame.Name)
		}
	case "vars":
		if err = debug.RequestVariables(ctx); err != nil {
			return false, err
		}
		variables, err := debug.GetVariables(ctx)
		if err != nil {
			return false, err
		}
		for _, v := range variables {
			fmt.Fprintf(c.out, "  %s %s = %s\n", v.Name, v.Type, v.Value)
		}
	default:
		return false, fmt.Errorf("unknown command %q, type help for usage", cmd)
	}
	return false, nil
}

func (c *Console) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: run <file> [entry]")
	}
	stopOnEntry := c.cfg.Debugger.StopOnEntry
	if len(args) > 1 && args[1] == "entry" {
		stopOnEntry = true
	}
	if err := c.handler.Launch(ctx, args[0]); err != nil {
		return err
	}
	return c.handler.Run(ctx, stopOnEntry)
}

func (c *Console) sendRaw(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: send <event> [json]")
	}
	event, ok := protocol.LookupEvent(args[0])
	if !ok {
		return fmt.Errorf("unknown event %q", args[0])
	}
	var payload interface{}
	if len(args) > 1 {
		raw := json.RawMessage(strings.Join(args[1:], " "))
		if !json.Valid(raw) {
			return fmt.Errorf("invalid json payload %s", raw)
		}
		payload = raw
	}
	return c.handler.Send(ctx, event, payload)
}

// printEvent 打印调试器事件
func (c *Console) printEvent(event interface{}) {
	switch event := event.(type) {
	case *StoppedEvent:
		fmt.Fprintf(c.out, "[%s] %s at %s:%d\n", constants.StoppedEvent, event.Reason, event.File, event.Line+lineOffset)
	case *OutputEvent:
		if event.File != "" {
			fmt.Fprintf(c.out, "[%s] %s:%d: %s\n", constants.OutputEvent, event.File, event.Line+lineOffset, event.Output)
		} else {
			fmt.Fprintf(c.out, "[%s] %s", event.Category, event.Output)
		}
	case *BreakpointEvent:
		for _, bp := range event.Breakpoints {
			fmt.Fprintf(c.out, "[%s] %d %s, verified = %v\n", constants.BreakpointEvent, bp.ID, event.Reason, bp.Verified)
		}
	case *TerminatedEvent:
		fmt.Fprintf(c.out, "[%s]\n", constants.TerminatedEvent)
	case *ExitedEvent:
		fmt.Fprintf(c.out, "[%s] exit code %d\n", constants.ExitedEvent, event.ExitCode)
	case *VariablesEvent:
		fmt.Fprintf(c.out, "[%s] %d variables\n", constants.VariablesEvent, len(event.Variables))
	default:
		logrus.Debugf("[Console] unknown event %T", event)
	}
}

// parseLine 解析从1开始的行号，返回从0开始的行号
func parseLine(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("usage: b <line>")
	}
	line, err := strconv.Atoi(args[0])
	if err != nil || line < lineOffset {
		return 0, fmt.Errorf("invalid line number %q", args[0])
	}
	return line - lineOffset, nil
}
