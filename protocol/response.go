package protocol

import (
	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
)

// Response 请求的应答
// request_seq回显请求的序号，客户端用它关联异步到达的应答
type Response struct {
	Seq        int                        `json:"seq"`
	Type       constants.DebugMessageType `json:"type"`
	RequestSeq int                        `json:"request_seq"`
	Command    constants.DebugOptionType  `json:"command"`
	Success    bool                       `json:"success"`
	Message    string                     `json:"message,omitempty"`
	Body       interface{}                `json:"body,omitempty"`
}

// Capabilities initialize应答的能力协商结果
type Capabilities struct {
	SupportsConfigurationDoneRequest bool `json:"supportsConfigurationDoneRequest"`
	SupportsStepBack                 bool `json:"supportsStepBack"`
	SupportsReplay                   bool `json:"supportsReplay"`
}

// BreakpointsResponseBody 断点类请求的应答体
type BreakpointsResponseBody struct {
	Breakpoints []*debugger.Breakpoint `json:"breakpoints"`
}

// StackTraceResponseBody stackTrace请求的应答体，最内层栈帧在前
type StackTraceResponseBody struct {
	StackFrames []*debugger.StackFrame `json:"stackFrames"`
}

// ScopesResponseBody scopes请求的应答体
type ScopesResponseBody struct {
	Scopes []*debugger.Scope `json:"scopes"`
}

// VariablesResponseBody variables请求的应答体
type VariablesResponseBody struct {
	Variables []*debugger.Variable `json:"variables"`
}
