package debugger

import (
	"github.com/fansqz/timetravel-debugger/utils"
)

// ExecutionSnapshot 程序停在某个执行单元边界上的快照
// 每执行一个单元产生一条，写入记录后不再修改
type ExecutionSnapshot struct {
	// Sequence 快照序号，单调递增，淘汰后也不会复用
	Sequence int64 `json:"sequence"`
	// Line 即将执行的行号，程序结束时为0
	Line int `json:"line"`
	// ProgramName 被调试程序的名称
	ProgramName string `json:"programName"`
	// Stack 调用栈，最内层帧在前
	Stack []*StackFrame `json:"stack"`
	// Variables 活跃作用域中的变量
	Variables map[string]string `json:"variables"`
	// Input 该步消费掉的输入行，没有输入时为空
	Input string `json:"input,omitempty"`
}

// Clone 深拷贝一份快照
func (s *ExecutionSnapshot) Clone() *ExecutionSnapshot {
	c := &ExecutionSnapshot{
		Sequence:    s.Sequence,
		Line:        s.Line,
		ProgramName: s.ProgramName,
		Variables:   utils.CopyMap(s.Variables),
		Input:       s.Input,
	}
	if s.Stack != nil {
		c.Stack = make([]*StackFrame, len(s.Stack))
		for i, frame := range s.Stack {
			f := *frame
			c.Stack[i] = &f
		}
	}
	return c
}

// Diff 逐字段比较两份快照，返回不一致的字段名，完全一致时返回空
func (s *ExecutionSnapshot) Diff(other *ExecutionSnapshot) []string {
	var fields []string
	if s.Sequence != other.Sequence {
		fields = append(fields, "sequence")
	}
	if s.Line != other.Line {
		fields = append(fields, "line")
	}
	if s.ProgramName != other.ProgramName {
		fields = append(fields, "programName")
	}
	if !stackEqual(s.Stack, other.Stack) {
		fields = append(fields, "stack")
	}
	if !variablesEqual(s.Variables, other.Variables) {
		fields = append(fields, "variables")
	}
	if s.Input != other.Input {
		fields = append(fields, "input")
	}
	return fields
}

func stackEqual(a, b []*StackFrame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if *a[i] != *b[i] {
			return false
		}
	}
	return true
}

func variablesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, value := range a {
		if other, ok := b[name]; !ok || other != value {
			return false
		}
	}
	return true
}

// DivergenceReport 重放结果与记录不一致时的现场
// Recorded是记录中的快照，Replayed是重放产生的快照，Fields是不一致的字段名
type DivergenceReport struct {
	Sequence int64              `json:"sequence"`
	Recorded *ExecutionSnapshot `json:"recorded"`
	Replayed *ExecutionSnapshot `json:"replayed"`
	Fields   []string           `json:"fields"`
}
