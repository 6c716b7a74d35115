package ethdbg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/ether-debugger/constants"
	e "github.com/fansqz/ether-debugger/error"
	"github.com/fansqz/ether-debugger/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// TestHelperProcess 不是真正的测试，作为调试子进程被其他测试启动
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "exit":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	case "echo":
		fmt.Fprintln(os.Stderr, "diagnostic line")
		fmt.Println("Ethereum debugger starting")
		ready, _ := protocol.EncodeEvent(protocol.EventReady, nil)
		fmt.Println(string(ready))
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			frame, err := protocol.Decode(scanner.Text())
			if err != nil {
				continue
			}
			if frame.Event == protocol.EventKill {
				os.Exit(0)
			}
			fmt.Println(frame.Raw)
		}
	}
	os.Exit(0)
}

func helperConn(mode string, option *ConnOption) *Conn {
	if option == nil {
		option = &ConnOption{}
	}
	option.Env = append(option.Env, "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
	return NewConn(option)
}

func helperArgs() []string {
	return []string{"-test.run=TestHelperProcess", "--"}
}

// pipeHelper 用内存管道代替子进程
type pipeHelper struct {
	conn    *Conn
	stdout  *io.PipeWriter
	written chan string
}

func newPipeHelper(option *ConnOption) *pipeHelper {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	h := &pipeHelper{
		conn:    NewConn(option),
		stdout:  stdoutW,
		written: make(chan string, 16),
	}
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			h.written <- scanner.Text()
		}
	}()
	h.conn.attach(stdinW, stdoutR, strings.NewReader(""))
	return h
}

func (h *pipeHelper) emit(t *testing.T, event protocol.EventType, payload interface{}) {
	data, err := protocol.EncodeEvent(event, payload)
	require.NoError(t, err)
	h.emitRaw(t, string(data))
}

func (h *pipeHelper) emitRaw(t *testing.T, line string) {
	_, err := io.WriteString(h.stdout, line+"\n")
	require.NoError(t, err)
}

func waitFrame(t *testing.T, ch <-chan *protocol.Frame) *protocol.Frame {
	select {
	case frame := <-ch:
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

func TestLaunch(t *testing.T) {
	diagnostics := make(chan string, 4)
	closed := make(chan *CloseInfo, 1)
	conn := helperConn("echo", &ConnOption{
		OnDiagnostic: func(line string) { diagnostics <- line },
		OnClose:      func(info *CloseInfo) { closed <- info },
	})
	messages := make(chan *protocol.Frame, 4)
	conn.Subscribe(protocol.EventMessage, func(frame *protocol.Frame) { messages <- frame })
	assert.Equal(t, constants.NotStarted, conn.Status())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, conn.Launch(ctx, os.Args[0], helperArgs()))
	assert.Equal(t, constants.Ready, conn.Status())
	assert.True(t, conn.IsReady())

	token, err := conn.AwaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, conn.ID(), token.ConnID)
	assert.Equal(t, "Ethereum Debugger Ready", token.Message)

	// ready之前的自由文本作为message事件
	assert.Equal(t, "Ethereum debugger starting", waitFrame(t, messages).Text())
	select {
	case line := <-diagnostics:
		assert.Equal(t, "diagnostic line", line)
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for diagnostic")
	}

	// 重复启动
	assert.Error(t, conn.Launch(ctx, os.Args[0], helperArgs()))

	hits := make(chan *protocol.Frame, 1)
	conn.Subscribe(protocol.EventToggleBreakpoint, func(frame *protocol.Frame) { hits <- frame })
	require.NoError(t, conn.Send(protocol.EventToggleBreakpoint, &protocol.BreakpointPayload{Path: "a.sol", Line: 10}))
	var payload protocol.BreakpointPayload
	require.NoError(t, waitFrame(t, hits).Unmarshal(&payload))
	assert.Equal(t, protocol.BreakpointPayload{Path: "a.sol", Line: 10}, payload)

	require.NoError(t, conn.Send(protocol.EventKill, nil))
	select {
	case info := <-closed:
		assert.True(t, info.Graceful)
		assert.False(t, info.Destroyed)
		assert.Equal(t, 0, info.ExitCode)
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for close")
	}
	assert.Equal(t, constants.Closed, conn.Status())
	assert.True(t, errors.Is(conn.Send(protocol.EventStepInto, nil), e.ErrConnectionClosed))
}

func TestLaunchSpawnFailed(t *testing.T) {
	conn := NewConn(nil)
	err := conn.Launch(context.Background(), "/nonexistent/ether-debugger", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrSpawnFailed))
	var launchErr *e.LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, "/nonexistent/ether-debugger", launchErr.Path)
	assert.Equal(t, constants.Closed, conn.Status())
}

func TestLaunchExitedBeforeReady(t *testing.T) {
	closed := make(chan *CloseInfo, 1)
	conn := helperConn("exit", &ConnOption{
		OnClose: func(info *CloseInfo) { closed <- info },
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := conn.Launch(ctx, os.Args[0], helperArgs())
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrProcessExitedBeforeReady))

	info := <-closed
	assert.False(t, info.Graceful)
	assert.Equal(t, 3, info.ExitCode)
	assert.Equal(t, info, conn.CloseInfo())
}

func TestDestroy(t *testing.T) {
	closed := make(chan *CloseInfo, 1)
	conn := helperConn("echo", &ConnOption{
		OnClose: func(info *CloseInfo) { closed <- info },
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, conn.Launch(ctx, os.Args[0], helperArgs()))

	require.NoError(t, conn.Destroy())
	require.NoError(t, conn.Destroy())
	assert.Equal(t, constants.Closed, conn.Status())

	info := <-closed
	assert.True(t, info.Destroyed)
	assert.True(t, info.Graceful)
	<-conn.Done()
	assert.True(t, errors.Is(conn.Send(protocol.EventStepInto, nil), e.ErrConnectionClosed))
}

func TestDestroyNeverStarted(t *testing.T) {
	conn := NewConn(nil)
	require.NoError(t, conn.Destroy())
	<-conn.Done()
	assert.Equal(t, constants.Closed, conn.Status())
	assert.True(t, conn.CloseInfo().Destroyed)
}

func TestSendNotStarted(t *testing.T) {
	conn := NewConn(nil)
	assert.True(t, errors.Is(conn.Send(protocol.EventStepInto, nil), e.ErrConnectionNotStarted))
}

func TestReadyWaitersOrder(t *testing.T) {
	h := newPipeHelper(nil)
	defer h.conn.Destroy()

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 5; i++ {
		i := i
		h.conn.OnReady(func(ReadyToken) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	assert.False(t, h.conn.IsReady())
	assert.Equal(t, constants.Launching, h.conn.Status())

	tokens := make(chan ReadyToken, 1)
	h.conn.OnReady(func(token ReadyToken) { tokens <- token })

	h.emit(t, protocol.EventReady, &protocol.ReadyPayload{Line: 4})
	var token ReadyToken
	select {
	case token = <-tokens:
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for ready")
	}
	assert.Equal(t, 4, token.EntryLine)
	assert.Equal(t, constants.Ready, h.conn.Status())

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	mu.Unlock()

	// ready之后注册立即调用
	called := false
	h.conn.OnReady(func(ReadyToken) { called = true })
	assert.True(t, called)

	// 第二个ready不会再次唤醒
	h.emit(t, protocol.EventReady, nil)
	mu.Lock()
	assert.Len(t, order, 5)
	mu.Unlock()
}

func TestAwaitReadyCancelled(t *testing.T) {
	h := newPipeHelper(nil)
	defer h.conn.Destroy()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.conn.AwaitReady(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRequestWaitsForReady(t *testing.T) {
	h := newPipeHelper(nil)
	defer h.conn.Destroy()

	// Send不等待ready
	require.NoError(t, h.conn.Send(protocol.EventAddFiles, &protocol.FilePayload{Path: "a.sol"}))
	assert.Equal(t, "addFiles000000000000000000000000"+`{"path":"a.sol"}`, <-h.written)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.conn.Request(context.Background(), protocol.EventStepInto, nil)
	}()
	select {
	case line := <-h.written:
		t.Fatalf("request written before ready: %s", line)
	case <-time.After(50 * time.Millisecond):
	}

	h.emit(t, protocol.EventReady, nil)
	select {
	case line := <-h.written:
		assert.Equal(t, "stepInto000000000000000000000000null", line)
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for request")
	}
	require.NoError(t, <-errCh)
}

func TestMalformedFrameDropped(t *testing.T) {
	protocolErrs := make(chan error, 1)
	h := newPipeHelper(&ConnOption{
		OnProtocolError: func(err error) { protocolErrs <- err },
	})
	defer h.conn.Destroy()

	hits := make(chan *protocol.Frame, 2)
	h.conn.Subscribe(protocol.EventHitBreakpoint, func(frame *protocol.Frame) { hits <- frame })

	h.emitRaw(t, "hitBreakpoint0000000000000000000{broken")
	h.emitRaw(t, "hitBreakpoint0000000000000000000"+`{"path":"a.sol","line":2}`+"\r")

	err := <-protocolErrs
	assert.True(t, errors.Is(err, e.ErrMalformedPayload))
	frame := waitFrame(t, hits)
	var payload protocol.BreakpointPayload
	require.NoError(t, frame.Unmarshal(&payload))
	assert.Equal(t, 2, payload.Line)
	assert.Empty(t, hits)
}

func TestUnsubscribe(t *testing.T) {
	h := newPipeHelper(nil)
	defer h.conn.Destroy()

	first := make(chan *protocol.Frame, 2)
	second := make(chan *protocol.Frame, 2)
	unsubscribe := h.conn.Subscribe(protocol.EventGetVarList, func(frame *protocol.Frame) { first <- frame })
	h.conn.Subscribe(protocol.EventGetVarList, func(frame *protocol.Frame) { second <- frame })

	h.emit(t, protocol.EventGetVarList, []int{1})
	waitFrame(t, first)
	waitFrame(t, second)

	unsubscribe()
	unsubscribe()
	h.emit(t, protocol.EventGetVarList, []int{2})
	waitFrame(t, second)
	assert.Empty(t, first)
}

func TestDestroyHaltsDispatch(t *testing.T) {
	h := newPipeHelper(nil)
	frames := make(chan *protocol.Frame, 2)
	h.conn.Subscribe(protocol.EventStepOver, func(frame *protocol.Frame) { frames <- frame })

	require.NoError(t, h.conn.Destroy())
	// 写入方不会阻塞：读协程仍在读取，只是不再分发
	h.emit(t, protocol.EventStepOver, nil)
	require.NoError(t, h.stdout.Close())
	select {
	case <-h.conn.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for close")
	}
	assert.Empty(t, frames)
	assert.True(t, h.conn.CloseInfo().Destroyed)
}
