package main

import (
	"context"
	"sync"

	"github.com/fansqz/ether-debugger/config"
	"github.com/fansqz/ether-debugger/constants"
	. "github.com/fansqz/ether-debugger/debugger"
	"github.com/fansqz/ether-debugger/debugger/ether_debugger"
	"github.com/fansqz/ether-debugger/debugger/ether_debugger/ethdbg"
	e "github.com/fansqz/ether-debugger/error"
	"github.com/fansqz/ether-debugger/protocol"
	"github.com/sirupsen/logrus"
)

// DebuggerHandler 管理一次调试会话的调试子进程和执行运行时
// 子进程的输出、诊断信息以及运行时的事件都通过同一个callback交给前端
type DebuggerHandler struct {
	cfg      *config.DebuggerConfig
	callback NotificationCallback

	mu       sync.Mutex
	conn     *ethdbg.Conn
	debugger *ether_debugger.EtherDebugger
	program  string
	// entryLine 子进程在ready握手中报告的入口行
	entryLine int
}

func NewDebuggerHandler(cfg *config.DebuggerConfig, callback NotificationCallback) *DebuggerHandler {
	return &DebuggerHandler{
		cfg:      cfg,
		callback: callback,
	}
}

// Launch 启动调试子进程并等待ready握手，此时还不会开始执行program
func (h *DebuggerHandler) Launch(ctx context.Context, program string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return e.ErrDebuggerIsStarted
	}

	conn := ethdbg.NewConn(&ethdbg.ConnOption{
		DiagnosticTTY: h.cfg.DiagnosticTTY,
		OnDiagnostic: func(line string) {
			h.callback(&OutputEvent{Category: constants.OutputStderr, Output: line + "\n"})
		},
		OnProtocolError: func(err error) {
			logrus.Warnf("[Launch] %v", err)
		},
		OnClose: func(info *ethdbg.CloseInfo) {
			h.callback(NewExitedEvent(info.ExitCode, info.Graceful))
		},
	})
	// 子进程的自由文本作为输出
	conn.Subscribe(protocol.EventMessage, func(frame *protocol.Frame) {
		h.callback(NewOutputEvent(frame.Text()+"\n", "", 0, 0))
	})
	d := ether_debugger.NewEtherDebugger(&ether_debugger.Option{
		Backend:  conn,
		Callback: h.callback,
	})
	d.Listen(conn)

	launchCtx := ctx
	if h.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, h.cfg.ReadyTimeout)
		defer cancel()
	}
	if err := conn.Launch(launchCtx, h.cfg.Path, h.cfg.Args); err != nil {
		logrus.Errorf("[Launch] launch %s fail, err = %v", h.cfg.Path, err)
		_ = conn.Destroy()
		_ = d.Terminate(ctx)
		return err
	}
	token, err := conn.AwaitReady(launchCtx)
	if err != nil {
		_ = conn.Destroy()
		_ = d.Terminate(ctx)
		return err
	}
	logrus.Infof("[Launch] connection %s ready, program = %s, entry line = %d", conn.ID(), program, token.EntryLine)
	h.conn, h.debugger, h.program = conn, d, program
	h.entryLine = token.EntryLine
	return nil
}

// Run 开始执行program
func (h *DebuggerHandler) Run(ctx context.Context, stopOnEntry bool) error {
	d, program, err := h.get()
	if err != nil {
		return err
	}
	return d.Start(ctx, &StartOption{File: program, StopOnEntry: stopOnEntry})
}

// Debugger 获取当前会话的运行时
func (h *DebuggerHandler) Debugger() (*ether_debugger.EtherDebugger, error) {
	d, _, err := h.get()
	return d, err
}

// Program 当前会话调试的文件
func (h *DebuggerHandler) Program() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.program
}

// EntryLine 当前会话子进程报告的入口行
func (h *DebuggerHandler) EntryLine() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entryLine
}

// Send 直接向调试子进程发送一个事件
func (h *DebuggerHandler) Send(ctx context.Context, event protocol.EventType, payload interface{}) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return e.ErrDebuggerNotStarted
	}
	return conn.Request(ctx, event, payload)
}

// Terminate 终止运行时并销毁子进程，没有会话时什么也不做
func (h *DebuggerHandler) Terminate(ctx context.Context) error {
	h.mu.Lock()
	conn, d := h.conn, h.debugger
	h.conn, h.debugger, h.program, h.entryLine = nil, nil, "", 0
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := d.Terminate(ctx); err != nil {
		logrus.Warnf("[Terminate] terminate debugger fail, err = %v", err)
	}
	return conn.Destroy()
}

func (h *DebuggerHandler) get() (*ether_debugger.EtherDebugger, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.debugger == nil {
		return nil, "", e.ErrDebuggerNotStarted
	}
	return h.debugger, h.program, nil
}
