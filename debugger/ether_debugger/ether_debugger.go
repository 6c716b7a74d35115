package ether_debugger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fansqz/ether-debugger/constants"
	. "github.com/fansqz/ether-debugger/debugger"
	"github.com/fansqz/ether-debugger/debugger/ether_debugger/ethdbg"
	e "github.com/fansqz/ether-debugger/error"
	"github.com/fansqz/ether-debugger/protocol"
	"github.com/fansqz/ether-debugger/utils"
	"github.com/sirupsen/logrus"
)

// logPattern 输出语句，括号内的内容作为输出
var logPattern = regexp.MustCompile(`log\((.*)\)`)

const exceptionMarker = "exception"

var _ Debugger = (*EtherDebugger)(nil)

// Backend 调试子进程，运行时只向它发送控制事件，不等待响应
type Backend interface {
	Send(event protocol.EventType, payload interface{}) error
}

// FrameSource 可以按事件订阅帧
type FrameSource interface {
	Subscribe(event protocol.EventType, handler ethdbg.FrameHandler) func()
}

type Option struct {
	// Backend 为nil时只做本地扫描
	Backend Backend
	// Callback 所有事件都通过该回调异步返回
	Callback NotificationCallback
	// ReadFile 读取源文件，默认os.ReadFile
	ReadFile func(path string) ([]byte, error)
}

// EtherDebugger 按行推进的执行运行时
// 在源文件上逐行扫描，遇到输出语句、异常、断点或者单步边界时发出事件
type EtherDebugger struct {
	mu sync.Mutex

	backend  Backend
	readFile func(path string) ([]byte, error)

	// 断点记录
	store *BreakpointStore
	// 事件按产生的顺序在单独的协程中回调
	queue *utils.NotifyQueue
	// 调试的状态管理
	StatusManager *utils.StatusManager

	startOption *StartOption
	sourceFile  string
	sourceLines []string
	// currentLine 当前停止的行，-1表示还没有开始执行
	currentLine int
	// variables 最近一次收到的变量列表
	variables []*Variable

	closed       bool
	unsubscribes []func()
}

func NewEtherDebugger(option *Option) *EtherDebugger {
	if option == nil {
		option = &Option{}
	}
	d := &EtherDebugger{
		backend:       option.Backend,
		readFile:      option.ReadFile,
		queue:         utils.NewNotifyQueue(option.Callback),
		StatusManager: utils.NewStatusManager(constants.Idle),
		currentLine:   -1,
	}
	if d.readFile == nil {
		d.readFile = os.ReadFile
	}
	d.store = NewBreakpointStore(func(bp *Breakpoint) {
		d.notify(NewBreakpointEvent(constants.ChangeType, []*Breakpoint{bp}))
	})
	return d
}

// Listen 订阅子进程发出的断点命中和变量列表
func (d *EtherDebugger) Listen(src FrameSource) {
	unsubscribes := []func(){
		src.Subscribe(protocol.EventHitBreakpoint, d.HandleFrame),
		src.Subscribe(protocol.EventGetVarList, d.HandleFrame),
	}
	d.mu.Lock()
	d.unsubscribes = append(d.unsubscribes, unsubscribes...)
	d.mu.Unlock()
}

func (d *EtherDebugger) Start(ctx context.Context, option *StartOption) error {
	logrus.Infof("[EtherDebugger] Start %+v", option)
	if option == nil || option.File == "" {
		return errors.New("start option without file")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return e.ErrDebuggerIsClosed
	}
	if err := d.loadSource(option.File); err != nil {
		return err
	}
	d.startOption = option
	d.launch()
	return nil
}

// launch 从头开始执行，调用方需要持有锁
func (d *EtherDebugger) launch() {
	d.currentLine = -1
	if d.startOption.StopOnEntry {
		d.step(constants.Forward, constants.EntryStopped)
	} else {
		d.run(constants.Forward, "")
	}
}

func (d *EtherDebugger) Continue(ctx context.Context, direction constants.Direction) error {
	logrus.Infof("[EtherDebugger] Continue %s", direction)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkExecutable(); err != nil {
		return err
	}
	d.run(direction, "")
	return nil
}

func (d *EtherDebugger) Step(ctx context.Context, direction constants.Direction) error {
	logrus.Infof("[EtherDebugger] Step %s", direction)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkExecutable(); err != nil {
		return err
	}
	d.step(direction, constants.StepStopped)
	return nil
}

func (d *EtherDebugger) Restart(ctx context.Context) error {
	logrus.Infof("[EtherDebugger] Restart")
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkStarted(); err != nil {
		return err
	}
	_ = d.sendBackend(protocol.EventRestart, nil)
	d.launch()
	return nil
}

func (d *EtherDebugger) SetBreakpoint(ctx context.Context, file string, line int) *Breakpoint {
	bp := d.store.Set(file, line)
	_ = d.sendBackend(protocol.EventToggleBreakpoint, &protocol.BreakpointPayload{Path: file, Line: line})
	return bp
}

func (d *EtherDebugger) ClearBreakpoint(ctx context.Context, file string, line int) *Breakpoint {
	bp := d.store.Clear(file, line)
	if bp != nil {
		_ = d.sendBackend(protocol.EventToggleBreakpoint, &protocol.BreakpointPayload{Path: file, Line: line})
	}
	return bp
}

func (d *EtherDebugger) ClearAllBreakpoints(ctx context.Context, file string) {
	d.store.ClearAll(file)
	_ = d.sendBackend(protocol.EventClearAllBreakpoints, &protocol.FilePayload{Path: file})
}

func (d *EtherDebugger) GetBreakpoints(ctx context.Context, file string) []*Breakpoint {
	return d.store.List(file)
}

// BreakpointFiles 按添加顺序返回设置过断点的文件
func (d *EtherDebugger) BreakpointFiles() []string {
	return d.store.Files()
}

// GetStackTrace 当前行的每一个单词作为一个栈帧
func (d *EtherDebugger) GetStackTrace(ctx context.Context, startFrame int, levels int) ([]*StackFrame, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkStarted(); err != nil {
		return nil, 0, err
	}
	if d.currentLine < 0 || d.currentLine >= len(d.sourceLines) {
		return []*StackFrame{}, 0, nil
	}
	words := strings.Fields(d.sourceLines[d.currentLine])
	startFrame = max(0, min(startFrame, len(words)))
	end := len(words)
	if levels > 0 && startFrame+levels < end {
		end = startFrame + levels
	}
	frames := make([]*StackFrame, 0, len(words))
	for i := startFrame; i < end; i++ {
		frames = append(frames, &StackFrame{
			ID:   i,
			Name: fmt.Sprintf("%s(%d)", words[i], i),
			Path: d.sourceFile,
			Line: d.currentLine,
		})
	}
	return frames, len(words), nil
}

func (d *EtherDebugger) RequestVariables(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkStarted(); err != nil {
		return err
	}
	return d.sendBackend(protocol.EventGetVarList, nil)
}

func (d *EtherDebugger) GetVariables(ctx context.Context) ([]*Variable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkStarted(); err != nil {
		return nil, err
	}
	answer := make([]*Variable, len(d.variables))
	copy(answer, d.variables)
	return answer, nil
}

func (d *EtherDebugger) Terminate(ctx context.Context) error {
	logrus.Infof("[EtherDebugger] Terminate")
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	unsubscribes := d.unsubscribes
	d.unsubscribes = nil
	_ = d.sendBackend(protocol.EventKill, nil)
	if !d.StatusManager.Is(constants.Terminated) {
		d.StatusManager.Set(constants.Terminated)
		d.notify(NewTerminatedEvent())
	}
	d.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	d.queue.Close()
	return nil
}

// HandleFrame 处理子进程主动发出的事件
func (d *EtherDebugger) HandleFrame(frame *protocol.Frame) {
	switch frame.Event {
	case protocol.EventHitBreakpoint:
		var payload protocol.BreakpointPayload
		if err := frame.Unmarshal(&payload); err != nil {
			logrus.Warnf("[EtherDebugger] bad hitBreakpoint payload, err = %v", err)
			return
		}
		d.hitBreakpoint(payload.Path, payload.Line)
	case protocol.EventGetVarList:
		var payload []*protocol.VariablePayload
		if err := frame.Unmarshal(&payload); err != nil {
			logrus.Warnf("[EtherDebugger] bad getVarList payload, err = %v", err)
			return
		}
		variables := make([]*Variable, 0, len(payload))
		for _, v := range payload {
			if v == nil {
				continue
			}
			variables = append(variables, &Variable{Name: v.Name, Type: v.Type, Value: v.Value})
		}
		d.mu.Lock()
		d.variables = variables
		d.mu.Unlock()
		d.notify(NewVariablesEvent(variables))
	}
}

func (d *EtherDebugger) hitBreakpoint(file string, line int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.startOption == nil {
		return
	}
	if d.StatusManager.Is(constants.Terminated) {
		logrus.Warnf("[EtherDebugger] hitBreakpoint at %s:%d after program terminated, ignore", file, line)
		return
	}
	if file != "" && file != d.sourceFile {
		logrus.Warnf("[EtherDebugger] hitBreakpoint in %s, but %s is running", file, d.sourceFile)
		return
	}
	if line < 0 || line >= len(d.sourceLines) {
		return
	}
	d.stop(line, constants.BreakpointStopped)
	if bps := d.store.Query(d.sourceFile, line); len(bps) > 0 && !bps[0].Verified {
		d.store.MarkVerified(bps[0])
	}
}

// Executable 是否可以继续执行，执行结束以后只能Restart
func (d *EtherDebugger) Executable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkExecutable()
}

// Status 运行时状态
func (d *EtherDebugger) Status() string {
	return d.StatusManager.Get()
}

// Position 当前停止的文件和行
func (d *EtherDebugger) Position() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sourceFile, d.currentLine
}

// step 通知子进程前进一步，然后扫描到下一行非空代码
func (d *EtherDebugger) step(direction constants.Direction, reason constants.StoppedReasonType) {
	_ = d.sendBackend(protocol.EventStepInto, nil)
	d.run(direction, reason)
}

// run 从当前行开始向某个方向扫描，stepReason不为空时在下一行非空代码处停止
func (d *EtherDebugger) run(direction constants.Direction, stepReason constants.StoppedReasonType) {
	d.StatusManager.Set(constants.Running)
	if direction == constants.Reverse {
		for ln := d.currentLine - 1; ln >= 0; ln-- {
			if d.fireEventsForLine(ln, stepReason) {
				return
			}
		}
		// 回到第一行
		d.stop(0, constants.EntryStopped)
		return
	}
	for ln := d.currentLine + 1; ln < len(d.sourceLines); ln++ {
		if d.fireEventsForLine(ln, stepReason) {
			return
		}
	}
	// 执行到文件末尾
	d.StatusManager.Set(constants.Terminated)
	d.notify(NewTerminatedEvent())
}

// fireEventsForLine 按 输出 > 异常 > 断点 > 单步 的顺序检查一行，返回是否需要停止
func (d *EtherDebugger) fireEventsForLine(ln int, stepReason constants.StoppedReasonType) bool {
	line := strings.TrimSpace(d.sourceLines[ln])

	if match := logPattern.FindStringSubmatchIndex(line); match != nil {
		d.notify(NewOutputEvent(line[match[2]:match[3]], d.sourceFile, ln, match[0]))
	}

	if strings.Contains(line, exceptionMarker) {
		d.stop(ln, constants.ExceptionStopped)
		return true
	}

	if bps := d.store.Query(d.sourceFile, ln); len(bps) > 0 {
		d.stop(ln, constants.BreakpointStopped)
		// 第一次命中时验证断点
		if !bps[0].Verified {
			d.store.MarkVerified(bps[0])
		}
		return true
	}

	if stepReason != "" && line != "" {
		d.stop(ln, stepReason)
		return true
	}
	return false
}

func (d *EtherDebugger) stop(ln int, reason constants.StoppedReasonType) {
	d.currentLine = ln
	d.StatusManager.Set(constants.Stopped)
	d.notify(NewStoppedEvent(reason, d.sourceFile, ln))
}

// loadSource 只有文件改变时才重新加载
func (d *EtherDebugger) loadSource(file string) error {
	if file == d.sourceFile {
		return nil
	}
	content, err := d.readFile(file)
	if err != nil {
		return fmt.Errorf("load source %s: %w", file, err)
	}
	d.sourceFile = file
	d.sourceLines = strings.Split(string(content), "\n")
	_ = d.sendBackend(protocol.EventAddFiles, &protocol.FilePayload{Path: file})
	return nil
}

func (d *EtherDebugger) checkStarted() error {
	if d.closed {
		return e.ErrDebuggerIsClosed
	}
	if d.startOption == nil {
		return e.ErrDebuggerNotStarted
	}
	return nil
}

// checkExecutable 执行结束以后只能Restart
func (d *EtherDebugger) checkExecutable() error {
	if err := d.checkStarted(); err != nil {
		return err
	}
	if d.StatusManager.Is(constants.Terminated) {
		return e.ErrProgramTerminated
	}
	return nil
}

func (d *EtherDebugger) sendBackend(event protocol.EventType, payload interface{}) error {
	if d.backend == nil {
		return nil
	}
	if err := d.backend.Send(event, payload); err != nil {
		logrus.Warnf("[EtherDebugger] send %s fail, err = %v", event, err)
		return err
	}
	return nil
}

func (d *EtherDebugger) notify(event interface{}) {
	if !d.queue.Push(event) {
		logrus.Debugf("[EtherDebugger] drop event %T after terminate", event)
	}
}
