package protocol

import (
	"encoding/json"
	"strings"

	e "github.com/fansqz/ether-debugger/error"
)

const (
	// HeaderSize 事件名称占用的固定长度，不足的部分用PadChar补齐
	HeaderSize = 32
	PadChar    = '0'
)

// Frame 一个完整的线上消息：32个字符的事件名称 + 负载的json文本
type Frame struct {
	Event EventType
	// Name 从头部恢复出来的事件名称
	Name string
	// Payload 负载的json文本，nil表示没有负载
	Payload json.RawMessage
	// Raw 收到的原始文本
	Raw string
}

// Unmarshal 将负载解析到v中，没有负载时不做任何事
func (f *Frame) Unmarshal(v interface{}) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// Text 对于message帧返回原始文本，其他帧返回负载文本
func (f *Frame) Text() string {
	if f.Event == EventMessage {
		var text string
		if err := json.Unmarshal(f.Payload, &text); err == nil {
			return text
		}
		return f.Raw
	}
	return string(f.Payload)
}

// Encode 将事件名补齐到32个字符后拼接负载的json文本，payload为nil时写入null
func Encode(name string, payload interface{}) ([]byte, error) {
	if len(name) > HeaderSize {
		return nil, e.NewProtocolError(e.ErrEventNameTooLong, name, nil)
	}
	body := []byte("null")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, e.NewProtocolError(e.ErrMalformedPayload, name, err)
		}
	}
	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, name...)
	for len(frame) < HeaderSize {
		frame = append(frame, PadChar)
	}
	return append(frame, body...), nil
}

// EncodeEvent 编码一个注册过的事件
func EncodeEvent(event EventType, payload interface{}) ([]byte, error) {
	return Encode(event.String(), payload)
}

// Decode 解析一个帧，input只能是string或者[]byte
// 头部不是注册事件的帧会被当成子进程输出的普通文本，转换成message事件
func Decode(input interface{}) (*Frame, error) {
	var msg string
	switch v := input.(type) {
	case string:
		msg = v
	case []byte:
		msg = string(v)
	default:
		return nil, e.NewProtocolError(e.ErrNotDecodable, "", nil)
	}

	if len(msg) < HeaderSize {
		return newMessageFrame(msg), nil
	}
	event, name, ok := resolveEventName(msg[:HeaderSize])
	if !ok {
		return newMessageFrame(msg), nil
	}

	frame := &Frame{Event: event, Name: name, Raw: msg}
	body := msg[HeaderSize:]
	switch strings.TrimSpace(body) {
	case "", "null", "undefined":
		return frame, nil
	}
	if !json.Valid([]byte(body)) {
		return nil, e.NewProtocolError(e.ErrMalformedPayload, msg, nil)
	}
	frame.Payload = json.RawMessage(body)
	return frame, nil
}

// resolveEventName 只去掉与32字符边界相连的填充字符
// 从最长的前缀开始尝试，保证名称本身以0结尾时不会被误删
func resolveEventName(header string) (EventType, string, bool) {
	for end := len(header); end > 0; end-- {
		if end < len(header) && header[end] != PadChar {
			break
		}
		if event, ok := LookupEvent(header[:end]); ok {
			return event, header[:end], true
		}
	}
	return EventMessage, strings.TrimRight(header, string(PadChar)), false
}

func newMessageFrame(msg string) *Frame {
	payload, _ := json.Marshal(msg)
	return &Frame{
		Event:   EventMessage,
		Name:    EventMessage.String(),
		Payload: payload,
		Raw:     msg,
	}
}
