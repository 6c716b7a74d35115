package error

import (
	"errors"
	"fmt"
)

var (
	ErrEventNameTooLong         = errors.New("event name too long")
	ErrMalformedPayload         = errors.New("malformed payload")
	ErrNotDecodable             = errors.New("cannot decode data which is not a string or bytes")
	ErrSpawnFailed              = errors.New("debugger process could not be started")
	ErrProcessExitedBeforeReady = errors.New("debugger process exited before ready")

	ErrConnectionNotStarted = errors.New("connection not started")
	ErrConnectionClosed     = errors.New("connection is closed")
	ErrDebuggerNotStarted   = errors.New("debug not start")
	ErrDebuggerIsClosed     = errors.New("debug is closed")
	ErrDebuggerIsStarted    = errors.New("debug is started")
	ErrProgramTerminated    = errors.New("program terminated, restart to run again")
)

// ProtocolError 单个帧编解码失败，帧会被丢弃，连接继续工作
type ProtocolError struct {
	Kind  error
	Frame string
	Err   error
}

func NewProtocolError(kind error, frame string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Frame: frame, Err: err}
}

func (p *ProtocolError) Error() string {
	if p.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", p.Kind, p.Err)
	}
	return fmt.Sprintf("protocol error: %s", p.Kind)
}

func (p *ProtocolError) Is(target error) bool {
	return target == p.Kind
}

func (p *ProtocolError) Unwrap() error {
	return p.Err
}

// LaunchError 子进程无法启动或在ready之前退出，对本次会话是致命的
type LaunchError struct {
	Kind error
	Path string
	Err  error
}

func NewLaunchError(kind error, path string, err error) *LaunchError {
	return &LaunchError{Kind: kind, Path: path, Err: err}
}

func (l *LaunchError) Error() string {
	if l.Err != nil {
		return fmt.Sprintf("launch %s: %s: %v", l.Path, l.Kind, l.Err)
	}
	return fmt.Sprintf("launch %s: %s", l.Path, l.Kind)
}

func (l *LaunchError) Is(target error) bool {
	return target == l.Kind
}

func (l *LaunchError) Unwrap() error {
	return l.Err
}
