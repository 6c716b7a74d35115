package constants

// DebugEventType 运行时向外发出的事件类型
type DebugEventType string

const (
	BreakpointEvent DebugEventType = "breakpoint"
	OutputEvent     DebugEventType = "output"
	StoppedEvent    DebugEventType = "stopped"
	TerminatedEvent DebugEventType = "terminated"
	VariablesEvent  DebugEventType = "variables"
	ExitedEvent     DebugEventType = "exited"
)

// BreakpointReasonType 断点改变类型
type BreakpointReasonType string

const (
	ChangeType BreakpointReasonType = "changed"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	EntryStopped      StoppedReasonType = "entry"
	StepStopped       StoppedReasonType = "step"
	BreakpointStopped StoppedReasonType = "breakpoint"
	ExceptionStopped  StoppedReasonType = "exception"
)

// Direction 扫描方向
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// OutputCategory 输出的来源
type OutputCategory string

const (
	// OutputConsole 运行时 log(...) 产生的输出以及子进程的自由文本
	OutputConsole OutputCategory = "console"
	// OutputStderr 子进程标准错误上的诊断信息
	OutputStderr OutputCategory = "stderr"
)
