package protocol

import (
	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
)

// Event 服务端主动推送的事件信封
// 和应答共用一条连接，序号由服务端分配
type Event struct {
	Seq   int                        `json:"seq"`
	Type  constants.DebugMessageType `json:"type"`
	Event constants.DebugEventType   `json:"event"`
	Body  interface{}                `json:"body,omitempty"`
}

// LaunchEventBody 加载调试目标的结果
type LaunchEventBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StoppedEventBody 目标程序停止执行
// sequence是停止位置对应的快照序号，没有快照时为-1
type StoppedEventBody struct {
	Reason   constants.StoppedReasonType `json:"reason"`
	File     string                      `json:"file"`
	Line     int                         `json:"line"`
	Sequence int64                       `json:"sequence"`
}

// BreakpointEventBody 断点的某些信息已更改
type BreakpointEventBody struct {
	Reason      constants.BreakpointReasonType `json:"reason"`
	Breakpoints []*debugger.Breakpoint         `json:"breakpoints"`
}

// OutputEventBody 目标程序产生了输出
type OutputEventBody struct {
	Output string `json:"output"`
}

// ExitedEventBody 目标程序执行结束
type ExitedEventBody struct {
	ExitCode int    `json:"exitCode"`
	Message  string `json:"message,omitempty"`
}

// ReplayEventBody 重放会话出现分歧时的上报
// 分歧意味着运行时不确定或记录有缺陷，必须送达客户端
type ReplayEventBody struct {
	Status     constants.ReplayStatusType `json:"status"`
	Sequence   int64                      `json:"sequence"`
	Divergence *debugger.DivergenceReport `json:"divergence,omitempty"`
}
