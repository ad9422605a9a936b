package debugger

import (
	"context"
)

type NotificationCallback func(interface{})

// Debugger
// 用户的一次调试过程处理
// 一个debugger对应一个调试会话，多个会话之间相互独立
// 需要保证并发安全
type Debugger interface {
	// Start
	// 开始调试，加载调试目标，callback用来异步处理调试事件和用户程序输出
	Start(ctx context.Context, option *StartOption) error
	// Run 配置完成，启动用户程序
	// 重复调用会重置历史记录并从头执行
	Run(ctx context.Context) error
	// Send 输入
	Send(ctx context.Context, input string) error
	// StepOver 下一步，不会进入函数内部
	StepOver(ctx context.Context) error
	// StepIn 下一步，会进入函数内部
	StepIn(ctx context.Context) error
	// StepOut 单步退出
	StepOut(ctx context.Context) error
	// Continue 继续执行程序，直到遇到下一个断点或程序结束
	Continue(ctx context.Context) error
	// Pause 暂停运行中的程序，在下一个执行单元边界生效
	Pause(ctx context.Context) error
	// StepBack 在已记录的历史中后退一步
	StepBack(ctx context.Context) error
	// ReverseContinue 在历史中向后移动，直到上一个命中断点的快照或最早的记录
	ReverseContinue(ctx context.Context) error
	// GotoSnapshot 跳转到历史中指定序号的快照
	GotoSnapshot(ctx context.Context, sequence int64) error
	// SetBreakpoints 设置某个文件的断点列表，替换该文件原有断点
	// 返回和lines顺序一致的断点列表
	SetBreakpoints(ctx context.Context, file string, lines []int) ([]*Breakpoint, error)
	// AddBreakpoints 添加断点
	// 返回的是添加成功的断点
	AddBreakpoints(ctx context.Context, file string, lines []int) ([]*Breakpoint, error)
	// RemoveBreakpoints 移除断点
	RemoveBreakpoints(ctx context.Context, file string, lines []int) error
	// SetBreakpointEnabled 启用或禁用某个断点，禁用的断点保留但不会命中
	SetBreakpointEnabled(ctx context.Context, file string, line int, enabled bool) error
	// GetStackTrace 获取栈帧，时间旅行时返回历史快照中的栈帧
	GetStackTrace(ctx context.Context) ([]*StackFrame, error)
	// GetScopes 获取某个栈帧的作用域列表
	GetScopes(ctx context.Context, frameId int) ([]*Scope, error)
	// GetVariables 查看某个作用域引用中的变量列表
	GetVariables(ctx context.Context, reference int) ([]*Variable, error)
	// GetState 查询执行状态、保留区间和重放状态
	GetState(ctx context.Context) (*StateInfo, error)
	// ReplayStart 冻结当前记录并启动重放会话
	ReplayStart(ctx context.Context) error
	// ReplayStep 重放一个执行单元并与记录比对
	ReplayStep(ctx context.Context) (*ReplayStepResult, error)
	// ReplayReset 结束重放会话，丢弃冻结的记录
	ReplayReset(ctx context.Context) error
	// Terminate 终止本次执行，历史记录保留，之后可以重新调用 Run 方法开始新的执行
	Terminate(ctx context.Context) error
	// Close 结束调试会话并回收所有资源
	Close(ctx context.Context) error
}
