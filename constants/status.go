package constants

// 调试器（运行时）的状态
const (
	// Idle 还没有调用过Start
	Idle = "idle"
	// Running 正在扫描代码行
	Running = "running"
	// Stopped 用户程序暂停
	Stopped = "stopped"
	// Terminated 执行到文件末尾或被终止
	Terminated = "terminated"
)

// 与子进程之间连接的生命周期
const (
	NotStarted = "notStarted"
	Launching  = "launching"
	Ready      = "ready"
	Closed     = "closed"
)
