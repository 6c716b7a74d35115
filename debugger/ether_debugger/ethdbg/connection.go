package ethdbg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fansqz/ether-debugger/constants"
	e "github.com/fansqz/ether-debugger/error"
	"github.com/fansqz/ether-debugger/protocol"
	"github.com/fansqz/ether-debugger/utils"
	"github.com/fansqz/ether-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

const readyMessage = "Ethereum Debugger Ready"

// ReadyToken 握手完成后交给等待者的凭证
type ReadyToken struct {
	ConnID  string
	Message string
	// EntryLine ready事件中携带的入口行号，没有时为0
	EntryLine int
}

// FrameHandler 处理某个事件的帧，在读协程中按帧到达的顺序调用，不能阻塞
type FrameHandler func(frame *protocol.Frame)

// CloseInfo 子进程退出时的信息
type CloseInfo struct {
	// Graceful 退出之前是否已经完成了ready握手
	Graceful bool
	// Destroyed 是否是调用Destroy导致的退出
	Destroyed bool
	ExitCode  int
	Err       error
}

// ConnOption 创建连接的参数
type ConnOption struct {
	// Dir 子进程的工作目录
	Dir string
	// Env 追加到当前环境变量之后
	Env []string
	// DiagnosticTTY 将子进程的标准错误连接到一个伪终端
	DiagnosticTTY bool
	// OnDiagnostic 标准错误上的每一行
	OnDiagnostic func(line string)
	// OnProtocolError 无法解析的帧，帧会被丢弃
	OnProtocolError func(err error)
	// OnClose 子进程退出，只会调用一次
	OnClose func(info *CloseInfo)
}

type subscription struct {
	id      int
	handler FrameHandler
}

// Conn 与调试子进程之间的连接
// 通过子进程的标准输入输出收发帧，标准错误只作为诊断信息
type Conn struct {
	id     string
	option *ConnOption
	status *utils.StatusManager

	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ptm     *os.File

	handlersMu sync.RWMutex
	handlers   map[protocol.EventType][]*subscription
	nextSubID  int

	readyMu      sync.Mutex
	ready        bool
	readyToken   ReadyToken
	readyWaiters []func(ReadyToken)

	destroyed atomic.Bool
	closeOnce sync.Once
	closeInfo *CloseInfo
	done      chan struct{}
}

func NewConn(option *ConnOption) *Conn {
	if option == nil {
		option = &ConnOption{}
	}
	return &Conn{
		id:       utils.GetShortID(),
		option:   option,
		status:   utils.NewStatusManager(constants.NotStarted),
		handlers: make(map[protocol.EventType][]*subscription),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Status 连接的生命周期状态
func (c *Conn) Status() string {
	return c.status.Get()
}

// Done 子进程退出并且读协程全部结束后被关闭
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// CloseInfo 连接关闭以后返回退出信息，否则返回nil
func (c *Conn) CloseInfo() *CloseInfo {
	select {
	case <-c.done:
		return c.closeInfo
	default:
		return nil
	}
}

// Launch 启动子进程，完成ready握手以后返回
func (c *Conn) Launch(ctx context.Context, path string, args []string) error {
	logrus.Infof("[Conn %s] Launch %s %v", c.id, path, args)
	if !c.status.Transition(constants.Launching, constants.NotStarted) {
		return fmt.Errorf("launch %s: %w", path, e.ErrConnectionClosed)
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = c.option.Dir
	if len(c.option.Env) != 0 {
		cmd.Env = append(os.Environ(), c.option.Env...)
	}
	stdin, stdout, stderr, pts, err := c.pipes(cmd)
	if err != nil {
		c.finish(&CloseInfo{ExitCode: -1, Err: err})
		return e.NewLaunchError(e.ErrSpawnFailed, path, err)
	}
	if err = cmd.Start(); err != nil {
		logrus.Errorf("[Conn %s] spawn fail, err = %v", c.id, err)
		_ = stdin.Close()
		if pts != nil {
			_ = pts.Close()
			_ = c.ptm.Close()
		}
		c.finish(&CloseInfo{ExitCode: -1, Err: err})
		return e.NewLaunchError(e.ErrSpawnFailed, path, err)
	}
	if pts != nil {
		// 父进程不再需要从端，子进程退出后读主端才会结束
		_ = pts.Close()
	}

	c.writeMu.Lock()
	c.cmd = cmd
	c.writeMu.Unlock()
	if c.destroyed.Load() {
		_ = cmd.Process.Kill()
	}

	c.serve(stdin, stdout, stderr)
	return c.waitLaunched(ctx, path)
}

// pipes 创建子进程的三个标准流
func (c *Conn) pipes(cmd *exec.Cmd) (io.WriteCloser, io.Reader, io.Reader, *os.File, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, nil, nil, nil, fmt.Errorf("get stdout pipe: %w", err)
	}
	if c.option.DiagnosticTTY {
		ptm, pts, err := openDiagnosticTTY()
		if err == nil {
			cmd.Stderr = pts
			c.ptm = ptm
			return stdin, stdout, ptm, pts, nil
		}
		logrus.Warnf("[Conn %s] open diagnostic tty fail, fall back to pipe, err = %v", c.id, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, nil, nil, nil, fmt.Errorf("get stderr pipe: %w", err)
	}
	return stdin, stdout, stderr, nil, nil
}

func (c *Conn) waitLaunched(ctx context.Context, path string) error {
	readyCh := make(chan struct{})
	c.OnReady(func(ReadyToken) { close(readyCh) })
	select {
	case <-readyCh:
		return nil
	case <-c.done:
		if c.IsReady() {
			return nil
		}
		var err error
		if c.closeInfo != nil {
			err = c.closeInfo.Err
		}
		return e.NewLaunchError(e.ErrProcessExitedBeforeReady, path, err)
	case <-ctx.Done():
		_ = c.Destroy()
		return ctx.Err()
	}
}

// attach 在给定的流上开始收发帧
func (c *Conn) attach(stdin io.WriteCloser, stdout io.Reader, stderr io.Reader) {
	c.status.Transition(constants.Launching, constants.NotStarted)
	c.serve(stdin, stdout, stderr)
}

func (c *Conn) serve(stdin io.WriteCloser, stdout io.Reader, stderr io.Reader) {
	c.writeMu.Lock()
	c.stdin = stdin
	c.writeMu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	gosync.Go(context.Background(), func(ctx context.Context) {
		defer wg.Done()
		c.readFrames(stdout)
	})
	gosync.Go(context.Background(), func(ctx context.Context) {
		defer wg.Done()
		c.readDiagnostics(stderr)
	})
	gosync.Go(context.Background(), func(ctx context.Context) {
		wg.Wait()
		c.finish(c.wait())
	})
}

// readFrames 每一行是一个帧，按到达顺序解析和分发
func (c *Conn) readFrames(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" && !c.destroyed.Load() {
			c.handleLine(line)
		}
		if err != nil {
			if err != io.EOF && !c.destroyed.Load() {
				logrus.Warnf("[Conn %s] read stdout fail, err = %v", c.id, err)
			}
			return
		}
	}
}

func (c *Conn) handleLine(line string) {
	frame, err := protocol.Decode(line)
	if err != nil {
		logrus.Warnf("[Conn %s] drop frame, err = %v", c.id, err)
		if c.option.OnProtocolError != nil {
			c.option.OnProtocolError(err)
		}
		return
	}
	logrus.Debugf("[Conn %s] receive %s", c.id, frame.Event)
	if frame.Event == protocol.EventReady {
		c.markReady(frame)
	}
	c.dispatch(frame)
}

// readDiagnostics 标准错误上的内容只作为诊断文本，不做解析
func (c *Conn) readDiagnostics(r io.Reader) {
	if r == nil {
		return
	}
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" && !c.destroyed.Load() {
			logrus.Warnf("[Conn %s][STDERR] %s", c.id, line)
			if c.option.OnDiagnostic != nil {
				c.option.OnDiagnostic(line)
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) dispatch(frame *protocol.Frame) {
	if c.destroyed.Load() {
		return
	}
	c.handlersMu.RLock()
	subs := append([]*subscription(nil), c.handlers[frame.Event]...)
	c.handlersMu.RUnlock()
	if len(subs) == 0 && frame.Event == protocol.EventMessage {
		logrus.Infof("[Conn %s] message: %s", c.id, frame.Text())
	}
	for _, sub := range subs {
		sub.handler(frame)
	}
}

// Subscribe 订阅某个事件，返回取消订阅的函数
func (c *Conn) Subscribe(event protocol.EventType, handler FrameHandler) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.handlers[event] = append(c.handlers[event], &subscription{id: id, handler: handler})
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		subs := c.handlers[event]
		for i, sub := range subs {
			if sub.id == id {
				c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) markReady(frame *protocol.Frame) {
	c.readyMu.Lock()
	if c.ready {
		c.readyMu.Unlock()
		return
	}
	c.ready = true
	token := ReadyToken{ConnID: c.id, Message: readyMessage}
	var payload protocol.ReadyPayload
	if err := frame.Unmarshal(&payload); err == nil {
		token.EntryLine = payload.Line
	}
	c.readyToken = token
	waiters := c.readyWaiters
	c.readyWaiters = nil
	c.readyMu.Unlock()

	c.status.Transition(constants.Ready, constants.Launching)
	logrus.Infof("[Conn %s] ready, %d waiters", c.id, len(waiters))
	for _, f := range waiters {
		f(token)
	}
}

// IsReady 是否已经收到ready事件
func (c *Conn) IsReady() bool {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	return c.ready
}

// OnReady 已经ready时立即调用f，否则排队，收到ready事件时按注册顺序调用
func (c *Conn) OnReady(f func(ReadyToken)) {
	c.readyMu.Lock()
	if c.ready {
		token := c.readyToken
		c.readyMu.Unlock()
		f(token)
		return
	}
	c.readyWaiters = append(c.readyWaiters, f)
	c.readyMu.Unlock()
}

// AwaitReady 等待ready握手，连接被销毁时等待者不会被唤醒，需要调用方通过ctx控制超时
func (c *Conn) AwaitReady(ctx context.Context) (ReadyToken, error) {
	ch := make(chan ReadyToken, 1)
	c.OnReady(func(token ReadyToken) { ch <- token })
	select {
	case token := <-ch:
		return token, nil
	case <-ctx.Done():
		return ReadyToken{}, ctx.Err()
	}
}

// Send 编码并写入一个帧，不会等待ready，也不会等待对方响应
func (c *Conn) Send(event protocol.EventType, payload interface{}) error {
	data, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	logrus.Debugf("[Conn %s] send %s", c.id, data)
	return c.write(append(data, '\n'))
}

// Request 等待ready以后再发送
func (c *Conn) Request(ctx context.Context, event protocol.EventType, payload interface{}) error {
	if _, err := c.AwaitReady(ctx); err != nil {
		return err
	}
	return c.Send(event, payload)
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.status.Is(constants.Closed) || c.destroyed.Load() {
		return e.ErrConnectionClosed
	}
	if c.stdin == nil {
		return e.ErrConnectionNotStarted
	}
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Destroy 终止子进程并释放资源，可以重复调用
func (c *Conn) Destroy() error {
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	logrus.Infof("[Conn %s] Destroy", c.id)

	c.writeMu.Lock()
	stdin, cmd := c.stdin, c.cmd
	c.writeMu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logrus.Warnf("[Conn %s] kill fail, err = %v", c.id, err)
		}
	}
	if stdin == nil && cmd == nil {
		// 从未启动过
		c.finish(&CloseInfo{Destroyed: true, ExitCode: -1})
		return nil
	}
	c.status.Set(constants.Closed)
	return nil
}

// wait 等待子进程退出
func (c *Conn) wait() *CloseInfo {
	info := &CloseInfo{Graceful: c.IsReady(), ExitCode: -1}
	c.writeMu.Lock()
	cmd := c.cmd
	c.writeMu.Unlock()
	if cmd != nil {
		err := cmd.Wait()
		if cmd.ProcessState != nil {
			info.ExitCode = cmd.ProcessState.ExitCode()
		}
		if err != nil && !c.destroyed.Load() {
			info.Err = err
		}
	}
	return info
}

func (c *Conn) finish(info *CloseInfo) {
	c.closeOnce.Do(func() {
		info.Destroyed = info.Destroyed || c.destroyed.Load()
		c.status.Set(constants.Closed)
		if c.ptm != nil {
			_ = c.ptm.Close()
		}
		c.closeInfo = info
		close(c.done)
		if info.Graceful {
			logrus.Infof("[Conn %s] closed, exitCode = %d", c.id, info.ExitCode)
		} else {
			logrus.Warnf("[Conn %s] closed before ready, exitCode = %d, err = %v", c.id, info.ExitCode, info.Err)
		}
		if c.option.OnClose != nil {
			c.option.OnClose(info)
		}
	})
}
