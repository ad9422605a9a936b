package interpreter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fansqz/timetravel-debugger/debugger"
)

// maxCallDepth 调用栈深度上限，超过时该步执行失败
const maxCallDepth = 256

// frame 一个调用栈帧
type frame struct {
	// fn 主程序帧为nil
	fn   *function
	vars map[string]int64
	// callLine 调用者中call语句所在的行
	callLine int
	// resume 返回后调用者继续执行的行，0表示调用者区域结束
	resume int
	// retVar 接收返回值的变量名，空串表示丢弃返回值
	retVar string
}

// Runtime 脚本程序的运行时
// 实现了调试核心消费的窄接口：单步执行并上报行号、调用栈和变量
// Step在读input时会阻塞到stdin有数据或者被关闭
type Runtime struct {
	lock    sync.Mutex
	program *Program
	stdin   *bufio.Reader
	stdout  io.Writer
	// frames 调用栈，下标0是主程序帧
	frames []*frame
	// pc 下一条要执行的语句行号，0表示程序结束
	pc   int
	done bool
}

func newRuntime(program *Program, stdin io.Reader, stdout io.Writer) *Runtime {
	r := &Runtime{
		program: program,
		stdin:   bufio.NewReader(stdin),
		stdout:  stdout,
		frames:  []*frame{{vars: make(map[string]int64)}},
		pc:      program.first,
	}
	if r.pc == 0 {
		r.done = true
	}
	return r
}

// Step 执行一个执行单元
// 返回执行后的状态：即将执行的行号、调用栈、活跃作用域变量和该步消费的输入
func (r *Runtime) Step() (*debugger.RuntimeState, error) {
	defer r.lock.Unlock()
	r.lock.Lock()
	if r.done {
		return nil, errors.New("program already finished")
	}
	st := r.program.stmts[r.pc]
	input := ""
	switch st.kind {
	case stmtLet:
		value, err := st.expr.Eval(r.env())
		if err != nil {
			return nil, r.fail(st, err)
		}
		r.top().vars[st.target] = value
		r.advance(st)
	case stmtPrint:
		parts := make([]string, 0, len(st.printArgs))
		for _, arg := range st.printArgs {
			if arg.expr == nil {
				parts = append(parts, arg.text)
				continue
			}
			value, err := arg.expr.Eval(r.env())
			if err != nil {
				return nil, r.fail(st, err)
			}
			parts = append(parts, strconv.FormatInt(value, 10))
		}
		if _, err := fmt.Fprintln(r.stdout, strings.Join(parts, " ")); err != nil {
			return nil, r.fail(st, err)
		}
		r.advance(st)
	case stmtInput:
		line, err := r.stdin.ReadString('\n')
		if err != nil && line == "" {
			return nil, r.fail(st, fmt.Errorf("read input: %w", err))
		}
		// input保留原始输入行，重放时要按字节还原stdin
		input = line
		value, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			// 解析失败不算错误，值为0
			value = 0
		}
		r.top().vars[st.target] = value
		r.advance(st)
	case stmtCall:
		fn := r.program.funcs[st.callee]
		if fn == nil {
			return nil, r.fail(st, fmt.Errorf("undefined function %q", st.callee))
		}
		if len(st.args) != len(fn.params) {
			return nil, r.fail(st, fmt.Errorf("function %q expects %d arguments, got %d", fn.name, len(fn.params), len(st.args)))
		}
		if len(r.frames) >= maxCallDepth {
			return nil, r.fail(st, errors.New("call depth exceeded"))
		}
		vars := make(map[string]int64, len(fn.params))
		for i, arg := range st.args {
			value, err := arg.Eval(r.env())
			if err != nil {
				return nil, r.fail(st, err)
			}
			vars[fn.params[i]] = value
		}
		r.frames = append(r.frames, &frame{
			fn:       fn,
			vars:     vars,
			callLine: st.line,
			resume:   st.next,
			retVar:   st.target,
		})
		if fn.first == 0 {
			// 空函数体，调用后立即返回
			r.returnValue(0)
		} else {
			r.pc = fn.first
		}
	case stmtRet:
		if len(r.frames) == 1 {
			return nil, r.fail(st, errors.New("ret outside function"))
		}
		value := int64(0)
		if st.expr != nil {
			var err error
			if value, err = st.expr.Eval(r.env()); err != nil {
				return nil, r.fail(st, err)
			}
		}
		r.returnValue(value)
	case stmtIf:
		value, err := st.expr.Eval(r.env())
		if err != nil {
			return nil, r.fail(st, err)
		}
		if value != 0 {
			r.pc = st.gotoLine
		} else {
			r.advance(st)
		}
	case stmtGoto:
		r.pc = st.gotoLine
	case stmtHalt:
		r.finish()
	}
	return r.state(input), nil
}

// Terminated 程序是否已执行结束
func (r *Runtime) Terminated() bool {
	defer r.lock.Unlock()
	r.lock.Lock()
	return r.done
}

// IsExecutableLine 某一行是否是可执行代码
func (r *Runtime) IsExecutableLine(file string, line int) bool {
	return r.program.IsExecutableLine(file, line)
}

// StackTrace 当前调用栈，最内层帧在前，id从0开始
func (r *Runtime) StackTrace() []*debugger.StackFrame {
	defer r.lock.Unlock()
	r.lock.Lock()
	return r.stackTrace()
}

// LocalVariables 某个栈帧中的局部变量
func (r *Runtime) LocalVariables(frameId int) (map[string]string, bool) {
	defer r.lock.Unlock()
	r.lock.Lock()
	idx := len(r.frames) - 1 - frameId
	if frameId < 0 || idx < 0 {
		return nil, false
	}
	return formatVars(r.frames[idx].vars), true
}

// GlobalVariables 主程序帧中的变量
func (r *Runtime) GlobalVariables() map[string]string {
	defer r.lock.Unlock()
	r.lock.Lock()
	return formatVars(r.frames[0].vars)
}

func (r *Runtime) top() *frame {
	return r.frames[len(r.frames)-1]
}

// env 变量读取环境，先查当前栈帧再查主程序帧
func (r *Runtime) env() Env {
	top := r.top()
	main := r.frames[0]
	return func(name string) (int64, bool) {
		if value, ok := top.vars[name]; ok {
			return value, true
		}
		if top != main {
			if value, ok := main.vars[name]; ok {
				return value, true
			}
		}
		return 0, false
	}
}

// advance 顺序执行到同一区域的下一条语句
func (r *Runtime) advance(st *statement) {
	if st.next != 0 {
		r.pc = st.next
		return
	}
	if len(r.frames) == 1 {
		r.finish()
		return
	}
	// 函数体执行到头，隐式返回0
	r.returnValue(0)
}

// returnValue 弹出当前栈帧并把返回值写回调用者
func (r *Runtime) returnValue(value int64) {
	f := r.top()
	r.frames = r.frames[:len(r.frames)-1]
	if f.retVar != "" {
		r.top().vars[f.retVar] = value
	}
	if f.resume != 0 {
		r.pc = f.resume
		return
	}
	if len(r.frames) == 1 {
		r.finish()
		return
	}
	r.returnValue(0)
}

func (r *Runtime) finish() {
	r.done = true
	r.pc = 0
	r.frames = r.frames[:1]
}

// fail 运行时错误终止程序，该步不产生状态
func (r *Runtime) fail(st *statement, err error) error {
	r.finish()
	return fmt.Errorf("line %d: %w", st.line, err)
}

func (r *Runtime) state(input string) *debugger.RuntimeState {
	return &debugger.RuntimeState{
		Line:      r.pc,
		Stack:     r.stackTrace(),
		Variables: formatVars(r.top().vars),
		Input:     input,
	}
}

func (r *Runtime) stackTrace() []*debugger.StackFrame {
	result := make([]*debugger.StackFrame, 0, len(r.frames))
	for i := len(r.frames) - 1; i >= 0; i-- {
		f := r.frames[i]
		line := r.pc
		if i < len(r.frames)-1 {
			line = r.frames[i+1].callLine
		}
		name := "main"
		if f.fn != nil {
			name = f.fn.name
		}
		result = append(result, &debugger.StackFrame{
			ID:   len(r.frames) - 1 - i,
			Name: name,
			Path: r.program.path,
			Line: line,
		})
	}
	return result
}

func formatVars(vars map[string]int64) map[string]string {
	result := make(map[string]string, len(vars))
	for name, value := range vars {
		result[name] = strconv.FormatInt(value, 10)
	}
	return result
}
