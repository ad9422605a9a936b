package debugger

import (
	"github.com/fansqz/timetravel-debugger/constants"
)

// StartOption 启动调试的参数
type StartOption struct {
	// ExecFile 调试目标文件路径
	ExecFile string
	// MainCode 内联的用户代码，非空时写入临时工作目录再加载
	MainCode string
	// StopOnEntry 启动后停在第一个可执行行上，不自动执行
	StopOnEntry bool
	// RecordCapacity 快照环形缓冲的容量，0表示使用默认值
	RecordCapacity int
	// Callback 事件回调
	Callback NotificationCallback
}

// Breakpoint 表示断点
type Breakpoint struct {
	ID       int    `json:"id"`       // 断点id，添加时分配，单调递增
	File     string `json:"file"`     // 文件名称
	Line     int    `json:"line"`     // 行号
	Verified bool   `json:"verified"` // 该行是否是可执行代码
	Enabled  bool   `json:"enabled"`  // 禁用的断点保留但不命中
}

func NewBreakpoint(file string, line int) *Breakpoint {
	return &Breakpoint{File: file, Line: line, Enabled: true}
}

// StackFrame 栈帧
type StackFrame struct {
	ID   int    `json:"id"`   // 栈帧id，最内层为0
	Name string `json:"name"` // 函数名称
	Path string `json:"path"` // 文件路径
	Line int    `json:"line"`
}

// Scope 作用域
type Scope struct {
	Name      constants.ScopeName `json:"name"`
	Reference int                 `json:"reference"` // 作用域的引用
}

// Variable 变量
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StateInfo 会话当前的执行状态和记录状态
type StateInfo struct {
	// Execution 执行状态，stopped、running、paused、terminated之一
	Execution string `json:"execution"`
	// RetainedMin RetainedMax 当前保留的快照序号区间
	RetainedMin   int64 `json:"retainedMin"`
	RetainedMax   int64 `json:"retainedMax"`
	RetainedCount int   `json:"retainedCount"`
	// Position 导航光标指向的快照序号
	Position int64 `json:"position"`
	// TimeTravel 当前是否停留在历史快照上
	TimeTravel bool `json:"timeTravel"`
	// Replay 重放会话状态
	Replay constants.ReplayStatusType `json:"replay"`
}

// ReplayStepResult 重放一个执行单元的结果
type ReplayStepResult struct {
	Status   constants.ReplayStatusType `json:"status"`
	Sequence int64                      `json:"sequence"`
	// Divergence 重放结果与记录不一致时的现场，一致时为空
	Divergence *DivergenceReport `json:"divergence,omitempty"`
}

// 定义的一些Event
var (
	LaunchSuccessEvent = NewLaunchEvent(true, "目标代码加载成功")
	LaunchFailEvent    = NewLaunchEvent(false, "目标代码加载失败")
)

// BreakpointEvent 断点事件
// 该event指示有关断点的某些信息已更改。
type BreakpointEvent struct {
	Reason      constants.BreakpointReasonType
	Breakpoints []*Breakpoint
}

func NewBreakpointEvent(reason constants.BreakpointReasonType, breakpoints []*Breakpoint) *BreakpointEvent {
	return &BreakpointEvent{
		Reason:      reason,
		Breakpoints: breakpoints,
	}
}

// OutputEvent
// 用户程序输出
type OutputEvent struct {
	Output string // 输出内容
}

func NewOutputEvent(output string) *OutputEvent {
	return &OutputEvent{
		Output: output,
	}
}

// StoppedEvent
// 该event表明，由于某些原因，被调试进程的执行已经停止。
// 这可能是由先前设置的断点、完成的步进请求、时间旅行导航等引起的。
type StoppedEvent struct {
	Reason constants.StoppedReasonType // 停止执行的原因
	File   string                      // 当前停止在哪个文件
	Line   int                         // 停止在某行
	// Sequence 停止位置对应的快照序号，没有快照时为-1
	Sequence int64
}

func NewStoppedEvent(reason constants.StoppedReasonType, file string, line int, sequence int64) *StoppedEvent {
	return &StoppedEvent{
		Reason:   reason,
		File:     file,
		Line:     line,
		Sequence: sequence,
	}
}

// ContinuedEvent
// 该event表明debug的执行已经继续。
// 请注意:debug adapter不期望发送此事件来响应暗示执行继续的请求，例如启动或继续。
// 它只有在没有先前的request暗示这一点时，才有必要发送一个持续的事件。
type ContinuedEvent struct {
}

func NewContinuedEvent() *ContinuedEvent {
	return &ContinuedEvent{}
}

// ExitedEvent
// 该event表明被调试对象已经退出并返回exit code。但是并不意味着调试会话结束
type ExitedEvent struct {
	ExitCode int
	Message  string
}

func NewExitedEvent(code int, message string) *ExitedEvent {
	return &ExitedEvent{
		ExitCode: code,
		Message:  message,
	}
}

// LaunchEvent
// 调试资源准备成功
type LaunchEvent struct {
	Success bool
	Message string // 加载目标程序的消息
}

func NewLaunchEvent(success bool, message string) *LaunchEvent {
	return &LaunchEvent{
		Success: success,
		Message: message,
	}
}

// ReplayEvent
// 重放会话状态变化事件，只有重放分歧会以事件形式上报
type ReplayEvent struct {
	Status     constants.ReplayStatusType
	Sequence   int64
	Divergence *DivergenceReport
}

func NewReplayEvent(status constants.ReplayStatusType, sequence int64, divergence *DivergenceReport) *ReplayEvent {
	return &ReplayEvent{
		Status:     status,
		Sequence:   sequence,
		Divergence: divergence,
	}
}
