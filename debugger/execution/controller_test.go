package execution

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/debugger/breakpoint"
	e "github.com/fansqz/timetravel-debugger/error"
	"github.com/fansqz/timetravel-debugger/interpreter"
	"github.com/fansqz/timetravel-debugger/utils"
)

// newTestController 用真实解释器构造控制器
func newTestController(t *testing.T, source string, capacity int, stdin io.Reader, cha chan interface{}) (*Controller, *breakpoint.Manager) {
	program, err := interpreter.LoadSource("main.x", source)
	assert.Nil(t, err)
	manager := breakpoint.NewManager()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	c := NewController(program.Name(), capacity, func() (debugger.Runtime, error) {
		return program.NewRuntime(stdin, io.Discard), nil
	}, manager, func(data interface{}) {
		cha <- data
	})
	c.Start(context.Background())
	return c, manager
}

func assertContinuedEvent(t *testing.T, cha chan interface{}) {
	data := <-cha
	_, ok := data.(*debugger.ContinuedEvent)
	assert.True(t, ok, "expect continued event, got %T", data)
}

func assertStoppedEvent(t *testing.T, cha chan interface{}, reason constants.StoppedReasonType, line int, sequence int64) {
	data := <-cha
	event, ok := data.(*debugger.StoppedEvent)
	assert.True(t, ok, "expect stopped event, got %T", data)
	if ok {
		assert.Equal(t, reason, event.Reason)
		assert.Equal(t, line, event.Line)
		assert.Equal(t, sequence, event.Sequence)
	}
}

func assertExitedEvent(t *testing.T, cha chan interface{}, exitCode int) {
	data := <-cha
	event, ok := data.(*debugger.ExitedEvent)
	assert.True(t, ok, "expect exited event, got %T", data)
	if ok {
		assert.Equal(t, exitCode, event.ExitCode)
	}
}

func TestController_RunToCompletion(t *testing.T) {
	var cha = make(chan interface{}, 10)
	src := `let a = 1
let b = 2
print a + b
`
	c, _ := newTestController(t, src, 10, nil, cha)
	defer c.Close()

	err := c.Run(context.Background(), false)
	assert.Nil(t, err)
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	assert.Equal(t, utils.Stopped, c.Status())
	// 每个执行单元产生一份快照
	log := c.Log()
	assert.Equal(t, 3, log.Count())
	assert.Equal(t, 2, log.Get(0).Line)
	assert.Equal(t, 0, log.Latest().Line)
	assert.Empty(t, c.Journal())
	// 程序已结束，continue是非法状态转移
	err = c.Continue(context.Background())
	assert.ErrorIs(t, err, e.ErrInvalidTransition)
	assert.Equal(t, utils.Stopped, c.Status())
}

func TestController_BreakpointHit(t *testing.T) {
	var cha = make(chan interface{}, 10)
	src := `let i = 0
let i = i + 1
let i = i + 2
print i
`
	c, manager := newTestController(t, src, 10, nil, cha)
	defer c.Close()
	bp := manager.Add("main.x", 3, true)
	assert.True(t, bp.Verified)

	assert.Nil(t, c.Run(context.Background(), false))
	assertContinuedEvent(t, cha)
	// 第二步执行完停在第3行
	assertStoppedEvent(t, cha, constants.BreakpointStopped, 3, 1)
	assert.Equal(t, utils.Paused, c.Status())
	stack, err := c.StackTrace()
	assert.Nil(t, err)
	assert.Len(t, stack, 1)
	assert.Equal(t, 3, stack[0].Line)
	variables, err := c.LocalVariables(0)
	assert.Nil(t, err)
	assert.Equal(t, "1", variables["i"])

	// 继续执行到程序结束
	assert.Nil(t, c.Continue(context.Background()))
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	assert.Equal(t, utils.Stopped, c.Status())
	assert.Equal(t, 4, c.Log().Count())
}

func TestController_StepCommands(t *testing.T) {
	var cha = make(chan interface{}, 10)
	src := `let a = 2
call add a 3 -> c
print c
func add x y
ret x + y
end
`
	c, _ := newTestController(t, src, 10, nil, cha)
	defer c.Close()

	assert.Nil(t, c.Run(context.Background(), true))
	assertContinuedEvent(t, cha)
	// stopOnEntry停在入口行，第一步还没执行，没有快照
	assertStoppedEvent(t, cha, constants.EntryStopped, 1, -1)
	assert.Equal(t, 0, c.Log().Count())

	// 最外层栈帧无法跳出
	assert.ErrorIs(t, c.StepOut(context.Background()), e.ErrInvalidTransition)

	// 单步越过一条普通语句
	assert.Nil(t, c.StepOver(context.Background()))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.StepStopped, 2, 0)

	// 单步进入函数
	assert.Nil(t, c.StepIn(context.Background()))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.StepStopped, 5, 1)
	stack, err := c.StackTrace()
	assert.Nil(t, err)
	assert.Len(t, stack, 2)
	assert.Equal(t, "add", stack[0].Name)

	// 跳出函数，返回值已经写入结果变量
	assert.Nil(t, c.StepOut(context.Background()))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.StepStopped, 3, 2)
	variables, err := c.LocalVariables(0)
	assert.Nil(t, err)
	assert.Equal(t, "5", variables["c"])

	// 最后一步走完程序，收到的是exited而不是stopped
	assert.Nil(t, c.StepOver(context.Background()))
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	assert.Equal(t, utils.Stopped, c.Status())
}

func TestController_PauseAndJournal(t *testing.T) {
	var cha = make(chan interface{}, 10)
	src := `input n
let m = n * 2
print m
`
	pr, pw := io.Pipe()
	c, _ := newTestController(t, src, 10, pr, cha)
	defer c.Close()

	assert.Nil(t, c.Run(context.Background(), false))
	assertContinuedEvent(t, cha)
	// 程序阻塞在input上，此时处于运行状态
	assert.Equal(t, utils.Running, c.Status())
	assert.Nil(t, c.Pause(context.Background()))

	// 输入到达后第一步完成，执行循环在安全点暂停
	_, err := pw.Write([]byte("5\n"))
	assert.Nil(t, err)
	assertStoppedEvent(t, cha, constants.PauseStopped, 2, 0)
	assert.Equal(t, utils.Paused, c.Status())
	assert.Equal(t, []string{"5\n"}, c.Journal())

	// 暂停状态下pause是非法状态转移
	assert.ErrorIs(t, c.Pause(context.Background()), e.ErrInvalidTransition)

	assert.Nil(t, c.Continue(context.Background()))
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	assert.Equal(t, []string{"5\n"}, c.Journal())
}

func TestController_TerminateAndRerun(t *testing.T) {
	var cha = make(chan interface{}, 16)
	src := `let i = 1
let i = i + 1
print i
`
	c, manager := newTestController(t, src, 10, nil, cha)
	defer c.Close()
	manager.Add("main.x", 2, true)

	assert.Nil(t, c.Run(context.Background(), false))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.BreakpointStopped, 2, 0)

	// 终止本轮执行，历史保留
	assert.Nil(t, c.Terminate(context.Background()))
	assert.Equal(t, utils.Stopped, c.Status())
	assert.Equal(t, 1, c.Log().Count())
	// 重复terminate幂等
	assert.Nil(t, c.Terminate(context.Background()))

	// 终止后可以重新run，事件日志从头开始
	assert.Nil(t, c.Run(context.Background(), false))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.BreakpointStopped, 2, 0)
	assert.Nil(t, c.Continue(context.Background()))
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	assert.Equal(t, 3, c.Log().Count())
}

func TestController_InvalidTransitions(t *testing.T) {
	var cha = make(chan interface{}, 10)
	src := "let a = 1\n"
	c, _ := newTestController(t, src, 10, nil, cha)
	defer c.Close()

	ctx := context.Background()
	// 尚未run
	assert.ErrorIs(t, c.Continue(ctx), e.ErrInvalidTransition)
	assert.ErrorIs(t, c.StepOver(ctx), e.ErrInvalidTransition)
	assert.ErrorIs(t, c.StepIn(ctx), e.ErrInvalidTransition)
	assert.ErrorIs(t, c.StepOut(ctx), e.ErrInvalidTransition)
	assert.ErrorIs(t, c.Pause(ctx), e.ErrInvalidTransition)
	_, err := c.StackTrace()
	assert.ErrorIs(t, err, e.ErrDebuggerNotStarted)

	assert.Nil(t, c.Run(ctx, false))
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	// 程序结束后单步同样被拒绝
	assert.ErrorIs(t, c.StepIn(ctx), e.ErrInvalidTransition)
	// 结束后的调用栈停留在主程序帧
	stack, err := c.StackTrace()
	assert.Nil(t, err)
	assert.Len(t, stack, 1)
	assert.Equal(t, 0, stack[0].Line)
}

func TestController_EvictionDuringRun(t *testing.T) {
	var cha = make(chan interface{}, 10)
	src := `let i = 0
let total = 0
let total = total + i
let i = i + 1
if i < 3 goto 3
print total
`
	c, _ := newTestController(t, src, 3, nil, cha)
	defer c.Close()
	assert.Nil(t, c.Run(context.Background(), false))
	assertContinuedEvent(t, cha)
	assertExitedEvent(t, cha, 0)
	// 12步执行，容量3，只保留最近3份
	log := c.Log()
	assert.Equal(t, 3, log.Count())
	min, max, ok := log.RetainedRange()
	assert.True(t, ok)
	assert.Equal(t, int64(9), min)
	assert.Equal(t, int64(11), max)
	assert.Nil(t, log.Get(0))
}

func TestController_BreakpointInsideStepOver(t *testing.T) {
	var cha = make(chan interface{}, 16)
	src := `let a = 1
call f
print a
func f
let b = 9
ret
end
`
	c, manager := newTestController(t, src, 10, nil, cha)
	defer c.Close()
	manager.Add("main.x", 5, true)

	assert.Nil(t, c.Run(context.Background(), true))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.EntryStopped, 1, -1)

	assert.Nil(t, c.StepOver(context.Background()))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.StepStopped, 2, 0)

	// 越过调用时函数体内的断点依然生效
	assert.Nil(t, c.StepOver(context.Background()))
	assertContinuedEvent(t, cha)
	assertStoppedEvent(t, cha, constants.BreakpointStopped, 5, 1)
	stack, err := c.StackTrace()
	assert.Nil(t, err)
	assert.Len(t, stack, 2)
}
