package protocol

// FilePayload addFiles、clearAllBreakpoints 的负载
type FilePayload struct {
	Path string `json:"path"`
}

// BreakpointPayload toggleBreakpoint、addBreakpoints、removeBreakpoints 以及 hitBreakpoint 的负载
type BreakpointPayload struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

// VariablePayload getVarList 返回的单个变量
type VariablePayload struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// ReadyPayload ready事件可能携带的入口行号
type ReadyPayload struct {
	Line int `json:"ln,omitempty"`
}
