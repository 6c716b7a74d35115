package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"

	"github.com/fansqz/ether-debugger/config"
	"github.com/fansqz/ether-debugger/constants"
	. "github.com/fansqz/ether-debugger/debugger"
	"github.com/fansqz/ether-debugger/utils"
	"github.com/fansqz/ether-debugger/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	threadID = 1
	// 客户端的行号从1开始，调试器从0开始
	lineOffset = 1

	localScopeReference  = 1000
	globalScopeReference = 1001
)

// launchArguments launch请求的参数
type launchArguments struct {
	Program     string `json:"program"`
	StopOnEntry bool   `json:"stopOnEntry"`
}

// handleConnection handles a connection from a single client.
// It reads and decodes the incoming data and dispatches it
// to the request handlers. A sender goroutine writes the resulting
// messages over the connection back to the client.
func handleConnection(conn net.Conn, cfg *config.Config) {
	ctx := context.Background()
	debugSession := &DebugSession{
		conn:        conn,
		rw:          bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		sendQueue:   make(chan dap.Message, 64),
		sendDone:    make(chan struct{}),
		idle:        utils.NewTimeoutManager(),
		stopOnEntry: cfg.Debugger.StopOnEntry,
	}
	debugSession.handler = NewDebuggerHandler(&cfg.Debugger, debugSession.onDebuggerEvent)
	gosync.Go(ctx, debugSession.sendFromQueue)
	if cfg.Session.IdleTimeout > 0 {
		debugSession.idle.Start(ctx, cfg.Session.IdleTimeout, func() {
			logrus.Warnf("[DebugSession] %s idle timeout, closing", conn.RemoteAddr())
			_ = conn.Close()
		})
	}

	for {
		err := debugSession.handleRequest(ctx)
		if err != nil {
			if err == io.EOF {
				logrus.Infof("[DebugSession] no more data to read")
			} else {
				logrus.Warnf("[DebugSession] read request fail, err = %v", err)
			}
			break
		}
	}

	logrus.Infof("[DebugSession] closing connection from %s", conn.RemoteAddr())
	debugSession.close(ctx)
}

func (d *DebugSession) handleRequest(ctx context.Context) error {
	request, err := dap.ReadProtocolMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	d.idle.Reset()
	d.dispatchRequest(ctx, request)
	return nil
}

func (d *DebugSession) dispatchRequest(ctx context.Context, request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(ctx, request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(ctx, request)
	case *dap.TerminateRequest:
		d.onTerminateRequest(ctx, request)
	case *dap.RestartRequest:
		d.onRestartRequest(ctx, request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(ctx, request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(ctx, request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.ContinueRequest:
		d.onContinueRequest(ctx, request)
	case *dap.ReverseContinueRequest:
		d.onReverseContinueRequest(ctx, request)
	case *dap.NextRequest:
		d.onNextRequest(ctx, request)
	case *dap.StepInRequest:
		d.onStepInRequest(ctx, request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(ctx, request)
	case *dap.StepBackRequest:
		d.onStepBackRequest(ctx, request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(ctx, request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(ctx, request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(request)
	default:
		if baseReq, ok := request.(*dap.Request); ok {
			d.send(newErrorResponse(baseReq.Seq, baseReq.Command, fmt.Sprintf("%s is not yet supported", baseReq.Command)))
		}
		logrus.Warnf("[DebugSession] unable to process %#v", request)
	}
}

// send 将消息放入发送队列，会话关闭后丢弃
func (d *DebugSession) send(message dap.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.sendQueue <- message
}

// sendFromQueue 在单独的协程中按顺序把消息写给客户端
func (d *DebugSession) sendFromQueue(ctx context.Context) {
	defer close(d.sendDone)
	for message := range d.sendQueue {
		if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
			logrus.Warnf("[DebugSession] write message fail, err = %v", err)
			continue
		}
		_ = d.rw.Flush()
	}
}

func (d *DebugSession) close(ctx context.Context) {
	if err := d.handler.Terminate(ctx); err != nil {
		logrus.Warnf("[DebugSession] terminate fail, err = %v", err)
	}
	d.idle.Cancel()
	d.mu.Lock()
	d.closed = true
	close(d.sendQueue)
	d.mu.Unlock()
	<-d.sendDone
	_ = d.conn.Close()
}

// DebugSession 调试会话
type DebugSession struct {
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw *bufio.ReadWriter

	handler *DebuggerHandler
	// sendQueue is used to capture messages from the request handlers and
	// the debugger callbacks while writing them to the client connection
	// from a single goroutine via sendFromQueue. Closing this channel will
	// signal the sendFromQueue goroutine that it can exit.
	mu        sync.Mutex
	closed    bool
	sendQueue chan dap.Message
	sendDone  chan struct{}

	// idle 一段时间没有请求时关闭会话
	idle        *utils.TimeoutManager
	stopOnEntry bool
}

// onDebuggerEvent 将调试器的事件转换成dap事件
func (d *DebugSession) onDebuggerEvent(event interface{}) {
	switch event := event.(type) {
	case *StoppedEvent:
		e := &dap.StoppedEvent{Event: *newEvent("stopped")}
		e.Body.Reason = string(event.Reason)
		e.Body.ThreadId = threadID
		e.Body.AllThreadsStopped = true
		d.send(e)
	case *OutputEvent:
		e := &dap.OutputEvent{Event: *newEvent("output")}
		e.Body.Category = string(event.Category)
		e.Body.Output = event.Output
		if event.File != "" {
			e.Body.Source = newSource(event.File)
			e.Body.Line = event.Line + lineOffset
			e.Body.Column = event.Column + lineOffset
			if event.Category == constants.OutputConsole {
				e.Body.Output += "\n"
			}
		}
		d.send(e)
	case *BreakpointEvent:
		for _, bp := range event.Breakpoints {
			e := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
			e.Body.Reason = string(event.Reason)
			e.Body.Breakpoint = toDapBreakpoint(bp)
			d.send(e)
		}
	case *TerminatedEvent:
		d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	case *ExitedEvent:
		e := &dap.ExitedEvent{Event: *newEvent("exited")}
		e.Body.ExitCode = event.ExitCode
		d.send(e)
	case *VariablesEvent:
		// 变量通过variables请求拉取
	default:
		logrus.Warnf("[DebugSession] unknown debugger event %T", event)
	}
}

// -----------------------------------------------------------------------
// Request Handlers

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsStepBack = true
	response.Body.SupportsRestartRequest = true
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportsFunctionBreakpoints = false
	response.Body.SupportsConditionalBreakpoints = false
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{}
	d.send(response)
	// 客户端收到initialized事件以后开始设置断点，最后发送configurationDone
	d.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

func (d *DebugSession) onLaunchRequest(ctx context.Context, request *dap.LaunchRequest) {
	args := launchArguments{StopOnEntry: d.stopOnEntry}
	if len(request.Arguments) != 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("invalid launch arguments: %v", err)))
			return
		}
	}
	if args.Program == "" {
		d.send(newErrorResponse(request.Seq, request.Command, "program cannot be empty"))
		return
	}
	d.stopOnEntry = args.StopOnEntry
	if err := d.handler.Launch(ctx, args.Program); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onDisconnectRequest(ctx context.Context, request *dap.DisconnectRequest) {
	if err := d.handler.Terminate(ctx); err != nil {
		logrus.Warnf("[DebugSession] terminate fail, err = %v", err)
	}
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onTerminateRequest(ctx context.Context, request *dap.TerminateRequest) {
	if err := d.handler.Terminate(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.TerminateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onRestartRequest(ctx context.Context, request *dap.RestartRequest) {
	debug, err := d.handler.Debugger()
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.RestartResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	if err = debug.Restart(ctx); err != nil {
		logrus.Errorf("[DebugSession] restart fail, err = %v", err)
	}
}

func (d *DebugSession) onSetBreakpointsRequest(ctx context.Context, request *dap.SetBreakpointsRequest) {
	debug, err := d.handler.Debugger()
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	path := request.Arguments.Source.Path
	lines := make([]int, 0, len(request.Arguments.Breakpoints))
	for _, bp := range request.Arguments.Breakpoints {
		lines = append(lines, bp.Line)
	}
	if len(lines) == 0 {
		lines = append(lines, request.Arguments.Lines...)
	}
	// 客户端每次发送文件的全部断点，同一行只保留一个
	debug.ClearAllBreakpoints(ctx, path)
	lines = utils.Distinct(lines)

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, 0, len(lines))
	for _, line := range lines {
		bp := debug.SetBreakpoint(ctx, path, line-lineOffset)
		response.Body.Breakpoints = append(response.Body.Breakpoints, toDapBreakpoint(bp))
	}
	d.send(response)
}

func (d *DebugSession) onConfigurationDoneRequest(ctx context.Context, request *dap.ConfigurationDoneRequest) {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	if err := d.handler.Run(ctx, d.stopOnEntry); err != nil {
		logrus.Errorf("[DebugSession] run fail, err = %v", err)
		e := &dap.OutputEvent{Event: *newEvent("output")}
		e.Body.Category = string(constants.OutputStderr)
		e.Body.Output = fmt.Sprintf("run fail: %v\n", err)
		d.send(e)
		d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	}
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{{Id: threadID, Name: "thread 1"}}
	d.send(response)
}

// execute 执行一个控制操作，先发送响应，操作的结果通过事件返回
func (d *DebugSession) execute(request dap.Request, response dap.Message, option func(debug Debugger) error) {
	debug, err := d.handler.Debugger()
	if err == nil {
		err = debug.Executable()
	}
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.send(response)
	if err = option(debug); err != nil {
		logrus.Errorf("[DebugSession] %s fail, err = %v", request.Command, err)
		e := &dap.OutputEvent{Event: *newEvent("output")}
		e.Body.Category = string(constants.OutputStderr)
		e.Body.Output = fmt.Sprintf("%s fail: %v\n", request.Command, err)
		d.send(e)
	}
}

func (d *DebugSession) onContinueRequest(ctx context.Context, request *dap.ContinueRequest) {
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.execute(request.Request, response, func(debug Debugger) error {
		return debug.Continue(ctx, constants.Forward)
	})
}

func (d *DebugSession) onReverseContinueRequest(ctx context.Context, request *dap.ReverseContinueRequest) {
	response := &dap.ReverseContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.execute(request.Request, response, func(debug Debugger) error {
		return debug.Continue(ctx, constants.Reverse)
	})
}

func (d *DebugSession) onNextRequest(ctx context.Context, request *dap.NextRequest) {
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.execute(request.Request, response, func(debug Debugger) error {
		return debug.Step(ctx, constants.Forward)
	})
}

// onStepInRequest 按行执行的程序没有函数调用，stepIn与next相同
func (d *DebugSession) onStepInRequest(ctx context.Context, request *dap.StepInRequest) {
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.execute(request.Request, response, func(debug Debugger) error {
		return debug.Step(ctx, constants.Forward)
	})
}

// onStepOutRequest 没有调用栈可以跳出，一直执行到下一个停止点
func (d *DebugSession) onStepOutRequest(ctx context.Context, request *dap.StepOutRequest) {
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.execute(request.Request, response, func(debug Debugger) error {
		return debug.Continue(ctx, constants.Forward)
	})
}

func (d *DebugSession) onStepBackRequest(ctx context.Context, request *dap.StepBackRequest) {
	response := &dap.StepBackResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.execute(request.Request, response, func(debug Debugger) error {
		return debug.Step(ctx, constants.Reverse)
	})
}

func (d *DebugSession) onStackTraceRequest(ctx context.Context, request *dap.StackTraceRequest) {
	debug, err := d.handler.Debugger()
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	frames, total, err := debug.GetStackTrace(ctx, request.Arguments.StartFrame, request.Arguments.Levels)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.StackFrames = make([]dap.StackFrame, 0, len(frames))
	for _, frame := range frames {
		response.Body.StackFrames = append(response.Body.StackFrames, dap.StackFrame{
			Id:     frame.ID,
			Name:   frame.Name,
			Source: newSource(frame.Path),
			Line:   frame.Line + lineOffset,
		})
	}
	response.Body.TotalFrames = total
	d.send(response)
}

func (d *DebugSession) onScopesRequest(request *dap.ScopesRequest) {
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Scopes = []dap.Scope{
		{Name: "Local", VariablesReference: localScopeReference, Expensive: false},
		{Name: "Global", VariablesReference: globalScopeReference, Expensive: true},
	}
	d.send(response)
}

// onVariablesRequest 返回最近一次收到的变量列表，同时请求子进程刷新
func (d *DebugSession) onVariablesRequest(ctx context.Context, request *dap.VariablesRequest) {
	debug, err := d.handler.Debugger()
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Variables = []dap.Variable{}
	if request.Arguments.VariablesReference == localScopeReference {
		if err = debug.RequestVariables(ctx); err != nil {
			logrus.Warnf("[DebugSession] request variables fail, err = %v", err)
		}
		variables, err := debug.GetVariables(ctx)
		if err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		for _, v := range variables {
			response.Body.Variables = append(response.Body.Variables, dap.Variable{
				Name:  v.Name,
				Type:  v.Type,
				Value: v.Value,
			})
		}
	}
	d.send(response)
}

func (d *DebugSession) onEvaluateRequest(request *dap.EvaluateRequest) {
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Result = fmt.Sprintf("evaluate(context: '%s', '%s')", request.Arguments.Context, request.Arguments.Expression)
	d.send(response)
}

func toDapBreakpoint(bp *Breakpoint) dap.Breakpoint {
	return dap.Breakpoint{
		Id:       bp.ID,
		Verified: bp.Verified,
		Source:   newSource(bp.File),
		Line:     bp.Line + lineOffset,
	}
}

func newSource(path string) *dap.Source {
	return &dap.Source{
		Name: filepath.Base(path),
		Path: path,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
