package debugger

import (
	"github.com/fansqz/ether-debugger/constants"
)

// StartOption 启动调试的参数
type StartOption struct {
	// File 需要执行的源文件
	File string
	// StopOnEntry 是否停在第一行
	StopOnEntry bool
}

// Breakpoint 表示断点
type Breakpoint struct {
	ID       int    `json:"id"`
	File     string `json:"file"`
	Line     int    `json:"line"` // 从0开始的行号
	Verified bool   `json:"verified"`
}

// StackFrame 栈帧
type StackFrame struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Line int    `json:"line"`
}

// Variable 变量
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// BreakpointEvent 断点事件
// 该event指示有关断点的某些信息已更改。
type BreakpointEvent struct {
	Reason      constants.BreakpointReasonType
	Breakpoints []*Breakpoint
}

func NewBreakpointEvent(reason constants.BreakpointReasonType, breakpoints []*Breakpoint) *BreakpointEvent {
	return &BreakpointEvent{
		Reason:      reason,
		Breakpoints: breakpoints,
	}
}

// OutputEvent
// 用户程序输出
type OutputEvent struct {
	Category constants.OutputCategory
	Output   string // 输出内容
	File     string
	Line     int
	Column   int
}

func NewOutputEvent(output string, file string, line int, column int) *OutputEvent {
	return &OutputEvent{
		Category: constants.OutputConsole,
		Output:   output,
		File:     file,
		Line:     line,
		Column:   column,
	}
}

// StoppedEvent
// 该event表明，由于某些原因，被调试进程的执行已经停止。
// 这可能是由先前设置的断点、完成的步进请求、异常等引起的。
type StoppedEvent struct {
	Reason constants.StoppedReasonType // 停止执行的原因
	File   string                      // 当前停止在哪个文件
	Line   int                         // 停止在某行
}

func NewStoppedEvent(reason constants.StoppedReasonType, file string, line int) *StoppedEvent {
	return &StoppedEvent{
		Reason: reason,
		File:   file,
		Line:   line,
	}
}

// TerminatedEvent
// 程序执行到文件末尾或者调试被终止
type TerminatedEvent struct {
}

func NewTerminatedEvent() *TerminatedEvent {
	return &TerminatedEvent{}
}

// VariablesEvent
// 调试进程返回了变量列表
type VariablesEvent struct {
	Variables []*Variable
}

func NewVariablesEvent(variables []*Variable) *VariablesEvent {
	return &VariablesEvent{
		Variables: variables,
	}
}

// ExitedEvent
// 调试子进程退出
type ExitedEvent struct {
	ExitCode int
	// Graceful 退出之前是否完成了ready握手
	Graceful bool
}

func NewExitedEvent(exitCode int, graceful bool) *ExitedEvent {
	return &ExitedEvent{
		ExitCode: exitCode,
		Graceful: graceful,
	}
}
