package debugger

import "io"

// RuntimeState 执行一个单元之后观察到的运行时状态
type RuntimeState struct {
	// Line 即将执行的行号，程序结束后为0
	Line int
	// Stack 调用栈，最内层帧在前
	Stack []*StackFrame
	// Variables 活跃作用域中的变量
	Variables map[string]string
	// Input 该步消费掉的输入行
	Input string
}

// Runtime 被观察的脚本运行时
// 调试核心只通过这个窄接口驱动执行，不关心语言求值的细节
// 同一份程序构造出来的实例在相同输入下必须产生相同的状态序列
type Runtime interface {
	// Step 执行一个执行单元，返回执行后的状态
	Step() (*RuntimeState, error)
	// Terminated 程序是否已执行结束
	Terminated() bool
	// IsExecutableLine 某一行是否是可执行代码，断点校验使用
	IsExecutableLine(file string, line int) bool
	// StackTrace 当前调用栈，最内层帧在前，id从0开始
	StackTrace() []*StackFrame
	// LocalVariables 某个栈帧中的局部变量，栈帧不存在时返回false
	LocalVariables(frameId int) (map[string]string, bool)
	// GlobalVariables 主程序帧中的变量
	GlobalVariables() map[string]string
}

// RuntimeFactory 构造一个全新的运行时实例
// 重放引擎用它从头重建执行环境，喂入记录的输入并丢弃输出
type RuntimeFactory func(stdin io.Reader, stdout io.Writer) (Runtime, error)
