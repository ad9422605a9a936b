package protocol

import (
	"encoding/json"

	"github.com/fansqz/timetravel-debugger/constants"
)

// Request 客户端请求的通用信封
// 先按信封解析出command，再按command把arguments解析成具体参数
type Request struct {
	Seq       int                        `json:"seq"`
	Type      constants.DebugMessageType `json:"type"`
	Command   constants.DebugOptionType  `json:"command"`
	Arguments json.RawMessage            `json:"arguments,omitempty"`
}

// Source 断点操作指向的源文件
type Source struct {
	Path string `json:"path"`
}

// SourceBreakpoint 客户端设置断点时只携带行号
type SourceBreakpoint struct {
	Line int `json:"line"`
}

// LaunchArguments 加载调试目标，文件路径和内联代码二选一
// 都为空时使用服务启动参数里的默认程序
type LaunchArguments struct {
	Program string `json:"program,omitempty"`
	Code    string `json:"code,omitempty"`
	// StopOnEntry 启动后停在第一个可执行行上
	StopOnEntry bool `json:"stopOnEntry,omitempty"`
	// RecordCapacity 快照环形缓冲的容量，0表示使用服务默认值
	RecordCapacity int `json:"recordCapacity,omitempty"`
}

// SetBreakpointsArguments 设置某个文件的断点列表，替换该文件原有断点
type SetBreakpointsArguments struct {
	Source      Source             `json:"source"`
	Breakpoints []SourceBreakpoint `json:"breakpoints"`
}

// AddBreakpointsArguments 添加断点
type AddBreakpointsArguments struct {
	Source      Source             `json:"source"`
	Breakpoints []SourceBreakpoint `json:"breakpoints"`
}

// RemoveBreakpointsArguments 移除断点
type RemoveBreakpointsArguments struct {
	Source      Source             `json:"source"`
	Breakpoints []SourceBreakpoint `json:"breakpoints"`
}

// SetBreakpointEnabledArguments 启用或禁用一个断点，禁用的断点保留但不命中
type SetBreakpointEnabledArguments struct {
	Source  Source `json:"source"`
	Line    int    `json:"line"`
	Enabled bool   `json:"enabled"`
}

// GotoSnapshotArguments 跳转到历史中指定序号的快照
type GotoSnapshotArguments struct {
	Sequence int64 `json:"sequence"`
}

// ScopesArguments 获取某个栈帧的作用域列表
type ScopesArguments struct {
	FrameId int `json:"frameId"`
}

// VariablesArguments 根据作用域引用获取变量列表
type VariablesArguments struct {
	Reference int `json:"reference"`
}

// SendToConsoleArguments 输入到目标程序的控制台
type SendToConsoleArguments struct {
	Content string `json:"content"`
}
