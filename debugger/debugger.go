package debugger

import (
	"context"

	"github.com/fansqz/ether-debugger/constants"
)

type NotificationCallback func(interface{})

// Debugger
// 用户的一次调试过程处理
// 所有的事件都通过构造时传入的NotificationCallback异步返回
// 需要保证并发安全
type Debugger interface {
	// Start
	// 加载文件并开始执行，stopOnEntry时停在第一行非空代码，否则一直运行到断点、异常或者结束
	Start(ctx context.Context, option *StartOption) error
	// Continue 向某个方向继续执行，直到遇到断点、异常或者到达文件边界
	Continue(ctx context.Context, direction constants.Direction) error
	// Step 单步执行到下一行非空代码
	Step(ctx context.Context, direction constants.Direction) error
	// Restart 以上一次Start的参数重新开始
	Restart(ctx context.Context) error
	// SetBreakpoint 添加断点，同一行可以有多个断点
	SetBreakpoint(ctx context.Context, file string, line int) *Breakpoint
	// ClearBreakpoint 移除该行的第一个断点，没有时返回nil
	ClearBreakpoint(ctx context.Context, file string, line int) *Breakpoint
	// ClearAllBreakpoints 移除文件的所有断点
	ClearAllBreakpoints(ctx context.Context, file string)
	// GetBreakpoints 获取文件的所有断点
	GetBreakpoints(ctx context.Context, file string) []*Breakpoint
	// GetStackTrace 获取栈帧，返回从startFrame开始最多levels个栈帧以及栈帧总数
	GetStackTrace(ctx context.Context, startFrame int, levels int) ([]*StackFrame, int, error)
	// RequestVariables 向调试进程请求变量列表，结果通过VariablesEvent返回
	RequestVariables(ctx context.Context) error
	// GetVariables 获取最近一次收到的变量列表
	GetVariables(ctx context.Context) ([]*Variable, error)
	// Terminate 终止调试
	Terminate(ctx context.Context) error
}
