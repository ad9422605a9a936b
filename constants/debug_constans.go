package constants

type DebugMessageType string

const (
	RequestMessage  DebugMessageType = "request"
	ResponseMessage DebugMessageType = "response"
	EventMessage    DebugMessageType = "event"
)

// DebugOptionType 调试请求操作类型
type DebugOptionType string

const (
	// Initialize 初始化调试会话，协商能力，返回可能出现的错误。
	Initialize DebugOptionType = "initialize"
	// Launch 加载调试目标（文件路径或内联代码），返回可能出现的错误。
	Launch DebugOptionType = "launch"
	// ConfigurationDone 客户端确认配置完成，程序开始执行。
	ConfigurationDone DebugOptionType = "configurationDone"
	// SetBreakpoints 设置某个文件的断点列表，替换该文件原有断点。
	SetBreakpoints DebugOptionType = "setBreakpoints"
	// AddBreakpoints 添加断点，接受文件源和断点列表，返回添加成功的断点和可能出现的错误。
	AddBreakpoints DebugOptionType = "addBreakpoints"
	// RemoveBreakpoints 移除断点，接受文件源和断点列表，返回可能出现的错误。
	RemoveBreakpoints DebugOptionType = "removeBreakpoints"
	// SetBreakpointEnabled 启用或禁用某个断点，禁用的断点保留但不命中。
	SetBreakpointEnabled DebugOptionType = "setBreakpointEnabled"
	// Pause 暂停正在运行的程序，在下一个执行单元边界生效。
	Pause DebugOptionType = "pause"
	// Continue 继续执行程序，直到遇到下一个断点或程序结束，返回可能出现的错误。
	Continue DebugOptionType = "continue"
	// Next 执行下一步操作，但不会进入函数内部，返回可能出现的错误。
	Next DebugOptionType = "next"
	// StepIn 执行下一步操作，会进入函数内部（如有调用函数，则步入函数），返回可能出现的错误。
	StepIn DebugOptionType = "stepIn"
	// StepOut 单步退出，执行到当前函数返回为止，返回可能出现的错误。
	StepOut DebugOptionType = "stepOut"
	// StepBack 在已记录的历史中后退一步。
	StepBack DebugOptionType = "stepBack"
	// ReverseContinue 在历史中向后移动，直到上一个断点或最早的记录。
	ReverseContinue DebugOptionType = "reverseContinue"
	// GotoSnapshot 跳转到历史中指定序号的快照。
	GotoSnapshot DebugOptionType = "gotoSnapshot"
	// ReplayStart 冻结当前记录并启动重放会话。
	ReplayStart DebugOptionType = "replayStart"
	// ReplayStep 重放一个执行单元并与记录比对。
	ReplayStep DebugOptionType = "replayStep"
	// ReplayReset 结束重放会话，丢弃冻结的记录。
	ReplayReset DebugOptionType = "replayReset"
	// StackTrace 获取当前栈帧列表。
	StackTrace DebugOptionType = "stackTrace"
	// Scopes 获取某个栈帧的作用域列表。
	Scopes DebugOptionType = "scopes"
	// Variables 根据引用获取变量列表。
	Variables DebugOptionType = "variables"
	// SendToConsole 输入数据到控制台，返回可能出现的错误。
	SendToConsole DebugOptionType = "sendToConsole"
	// State 查询执行状态、保留区间和重放状态。
	State DebugOptionType = "state"
	// Terminate 终止当前的调试会话，之后可以重新调用 Launch 方法开始新的会话，返回可能出现的错误。
	Terminate DebugOptionType = "terminate"
	// Disconnect 断开连接并回收会话资源。
	Disconnect DebugOptionType = "disconnect"
)

type DebugEventType string

const (
	InitializedEvent DebugEventType = "initialized"
	BreakpointEvent  DebugEventType = "breakpoint"
	OutputEvent      DebugEventType = "output"
	StoppedEvent     DebugEventType = "stopped"
	ContinuedEvent   DebugEventType = "continued"
	ExitedEvent      DebugEventType = "exited"
	TerminatedEvent  DebugEventType = "terminated"
	LaunchEvent      DebugEventType = "launch"
	ReplayEvent      DebugEventType = "replay"
)

// BreakpointReasonType 断点改变类型
type BreakpointReasonType string

const (
	ChangeType  BreakpointReasonType = "changed"
	NewType     BreakpointReasonType = "new"
	RemovedType BreakpointReasonType = "removed"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	PauseStopped      StoppedReasonType = "pause"
	EntryStopped      StoppedReasonType = "entry"
	// TimeTravelStopped 时间旅行导航停留在历史快照上
	TimeTravelStopped StoppedReasonType = "time-travel"
)

// SessionStateType 协议会话状态，线性推进，不允许回退：
// uninitialized -> initialized -> ready -> terminated
type SessionStateType string

const (
	SessionUninitialized SessionStateType = "uninitialized"
	SessionInitialized   SessionStateType = "initialized"
	SessionReady         SessionStateType = "ready"
	SessionTerminated    SessionStateType = "terminated"
)

// ReplayStatusType 重放会话状态
type ReplayStatusType string

const (
	ReplayIdle      ReplayStatusType = "idle"
	ReplayReplaying ReplayStatusType = "replaying"
	ReplayCompleted ReplayStatusType = "completed"
	ReplayDiverged  ReplayStatusType = "diverged"
)

// ScopeName 作用域名称
type ScopeName string

// Local: 函数或当前代码块内的局部变量。包含了当前栈帧中的局部变量和参数。
// Global: 整个程序的全局变量。即主程序帧中声明的所有变量，函数内部可读。
const (
	ScopeLocal  ScopeName = "local"
	ScopeGlobal ScopeName = "global"
)
