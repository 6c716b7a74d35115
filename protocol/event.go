package protocol

// EventType 子进程协议中可识别的事件，是一个封闭的集合
// EventMessage 同时作为无法识别的帧的兜底类型，承载原始文本
type EventType int

const (
	EventIsReady EventType = iota
	EventReady
	EventHitBreakpoint
	EventAddBreakpoints
	EventRemoveBreakpoints
	EventClearAllBreakpoints
	EventToggleBreakpoint
	EventAddFiles
	EventStart
	EventStop
	EventContinue
	EventStepInto
	EventStepOut
	EventStepOver
	EventGetVarList
	EventRestart
	EventKill
	EventMessage
)

// eventNames 线上使用的事件名称，大小写敏感
var eventNames = [...]string{
	EventIsReady:             "isReady",
	EventReady:               "ready",
	EventHitBreakpoint:       "hitBreakpoint",
	EventAddBreakpoints:      "addBreakpoints",
	EventRemoveBreakpoints:   "removeBreakpoints",
	EventClearAllBreakpoints: "clearAllBreakpoints",
	EventToggleBreakpoint:    "toggleBreakpoint",
	EventAddFiles:            "addFiles",
	EventStart:               "start",
	EventStop:                "stop",
	EventContinue:            "continueExecution",
	EventStepInto:            "stepInto",
	EventStepOut:             "stepOut",
	EventStepOver:            "stepOver",
	EventGetVarList:          "getVarList",
	EventRestart:             "restart",
	EventKill:                "EXECUTE_ORDER_66",
	EventMessage:             "message",
}

var eventsByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventNames))
	for i, name := range eventNames {
		m[name] = EventType(i)
	}
	return m
}()

// String 返回事件的线上名称
func (e EventType) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// LookupEvent 判断名称是否属于注册的事件集合
func LookupEvent(name string) (EventType, bool) {
	e, ok := eventsByName[name]
	return e, ok
}

// Events 返回所有注册的事件
func Events() []EventType {
	events := make([]EventType, len(eventNames))
	for i := range eventNames {
		events[i] = EventType(i)
	}
	return events
}
