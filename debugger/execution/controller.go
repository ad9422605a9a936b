package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/debugger/breakpoint"
	"github.com/fansqz/timetravel-debugger/debugger/record"
	e "github.com/fansqz/timetravel-debugger/error"
	"github.com/fansqz/timetravel-debugger/utils"
	"github.com/fansqz/timetravel-debugger/utils/gosync"
)

// commandType 执行协程串行消费的命令
type commandType int

const (
	commandRun commandType = iota
	commandContinue
	commandStepOver
	commandStepIn
	commandStepOut
	commandStop
)

type command struct {
	typ         commandType
	stopOnEntry bool
	reply       chan error
}

// Controller 驱动目标程序执行并记录执行历史
// 推进执行的命令全部由唯一的执行协程串行处理，同一时刻最多一个在执行，
// 排队中的命令要等轮到自己时才做状态校验
// pause和terminate通过原子标志传递，执行循环在每步之间的安全点检查标志，
// 保证长时间的continue在一步的延迟内可以被打断
type Controller struct {
	// callback 事件产生时触发
	callback debugger.NotificationCallback

	// statusManager 执行状态管理
	statusManager *utils.StatusManager

	// breakpoints 每步执行后检查是否命中
	breakpoints *breakpoint.Manager

	// eventLog 执行历史，只有执行协程写入
	eventLog *record.EventLog

	// newRuntime 每轮run创建一个全新的运行时
	newRuntime func() (debugger.Runtime, error)

	// programName 写入快照的目标程序名
	programName string

	queue     chan *command
	closed    chan struct{}
	closeOnce sync.Once

	pauseFlag int64
	stopFlag  int64

	lock sync.RWMutex
	// rt 当前运行时，每轮run替换
	rt debugger.Runtime
	// journal 本轮执行消费过的输入，重放时按原样还原stdin
	journal []string
}

func NewController(programName string, capacity int, newRuntime func() (debugger.Runtime, error), breakpoints *breakpoint.Manager, callback debugger.NotificationCallback) *Controller {
	return &Controller{
		callback:      callback,
		statusManager: utils.NewStatusManager(),
		breakpoints:   breakpoints,
		eventLog:      record.NewEventLog(capacity),
		newRuntime:    newRuntime,
		programName:   programName,
		queue:         make(chan *command, 16),
		closed:        make(chan struct{}),
	}
}

// Start 启动执行协程
func (c *Controller) Start(ctx context.Context) {
	gosync.Go(ctx, func(ctx context.Context) {
		c.loop()
	})
}

// Run 从头开始执行目标程序
func (c *Controller) Run(ctx context.Context, stopOnEntry bool) error {
	logrus.Infof("[Controller] Run")
	return c.submit(ctx, &command{typ: commandRun, stopOnEntry: stopOnEntry, reply: make(chan error, 1)})
}

// Continue 恢复执行，直到命中断点、被暂停或程序结束
func (c *Controller) Continue(ctx context.Context) error {
	logrus.Infof("[Controller] Continue")
	return c.submit(ctx, &command{typ: commandContinue, reply: make(chan error, 1)})
}

// StepOver 单步越过，遇到函数调用时执行到回到当前栈帧深度
func (c *Controller) StepOver(ctx context.Context) error {
	logrus.Infof("[Controller] StepOver")
	return c.submit(ctx, &command{typ: commandStepOver, reply: make(chan error, 1)})
}

// StepIn 单步进入，只执行一个执行单元
func (c *Controller) StepIn(ctx context.Context) error {
	logrus.Infof("[Controller] StepIn")
	return c.submit(ctx, &command{typ: commandStepIn, reply: make(chan error, 1)})
}

// StepOut 跳出当前函数，执行到当前栈帧返回
func (c *Controller) StepOut(ctx context.Context) error {
	logrus.Infof("[Controller] StepOut")
	return c.submit(ctx, &command{typ: commandStepOut, reply: make(chan error, 1)})
}

// Pause 请求暂停，不进入命令队列，正在执行的循环在下一个安全点停住
func (c *Controller) Pause(ctx context.Context) error {
	logrus.Infof("[Controller] Pause")
	if !c.statusManager.Is(utils.Running) {
		return e.ErrInvalidTransition
	}
	atomic.StoreInt64(&c.pauseFlag, 1)
	return nil
}

// RequestStop 只设置停止标志，不排队收尾命令也不等待
// 外层需要先关闭控制台解除阻塞读时，用它保证阻塞中的步进安静退出
func (c *Controller) RequestStop() {
	atomic.StoreInt64(&c.stopFlag, 1)
}

// Terminate 停止本轮执行，事件日志保留，之后可以重新run
// 先设置停止标志让执行循环尽快退出，再排队一条stop命令收尾
func (c *Controller) Terminate(ctx context.Context) error {
	logrus.Infof("[Controller] Terminate")
	atomic.StoreInt64(&c.stopFlag, 1)
	return c.submit(ctx, &command{typ: commandStop, reply: make(chan error, 1)})
}

// Close 关闭控制器，执行协程退出，之后的命令全部拒绝
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt64(&c.stopFlag, 1)
		close(c.closed)
	})
}

// Status 当前执行状态
func (c *Controller) Status() string {
	return c.statusManager.Get()
}

// Log 事件日志，时间旅行导航和重放通过它读取历史
func (c *Controller) Log() *record.EventLog {
	return c.eventLog
}

// Journal 本轮执行消费过的输入日志副本
func (c *Controller) Journal() []string {
	defer c.lock.RUnlock()
	c.lock.RLock()
	return append([]string(nil), c.journal...)
}

// StackTrace 当前调用栈，程序运行中不允许读取
func (c *Controller) StackTrace() ([]*debugger.StackFrame, error) {
	if c.statusManager.Is(utils.Running) {
		return nil, e.ErrProgramIsRunning
	}
	rt := c.runtime()
	if rt == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	return rt.StackTrace(), nil
}

// LocalVariables 指定栈帧的本地变量
func (c *Controller) LocalVariables(frameId int) (map[string]string, error) {
	if c.statusManager.Is(utils.Running) {
		return nil, e.ErrProgramIsRunning
	}
	rt := c.runtime()
	if rt == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	variables, ok := rt.LocalVariables(frameId)
	if !ok {
		return nil, fmt.Errorf("frame %d not found", frameId)
	}
	return variables, nil
}

// GlobalVariables 主程序帧的变量
func (c *Controller) GlobalVariables() (map[string]string, error) {
	if c.statusManager.Is(utils.Running) {
		return nil, e.ErrProgramIsRunning
	}
	rt := c.runtime()
	if rt == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	return rt.GlobalVariables(), nil
}

// submit 命令入队并等待执行协程的受理结果
// 受理发生在命令出队做完状态校验之后，执行循环本身不会阻塞受理结果
func (c *Controller) submit(ctx context.Context, cmd *command) error {
	select {
	case c.queue <- cmd:
	case <-c.closed:
		return e.ErrDebuggerIsClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.closed:
		return e.ErrDebuggerIsClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop 执行协程主循环
func (c *Controller) loop() {
	for {
		select {
		case <-c.closed:
			c.statusManager.Set(utils.Finish)
			return
		case cmd := <-c.queue:
			c.handle(cmd)
		}
	}
}

func (c *Controller) handle(cmd *command) {
	switch cmd.typ {
	case commandRun:
		c.handleRun(cmd)
	case commandContinue:
		c.handleContinue(cmd)
	case commandStepOver:
		c.handleStepOver(cmd)
	case commandStepIn:
		c.handleStepIn(cmd)
	case commandStepOut:
		c.handleStepOut(cmd)
	case commandStop:
		c.handleStop(cmd)
	}
}

// handleRun 开始一轮全新的执行，上一轮的事件日志和输入日志全部清空
func (c *Controller) handleRun(cmd *command) {
	if !c.statusManager.Is(utils.Init, utils.Stopped) {
		cmd.reply <- e.ErrInvalidTransition
		return
	}
	rt, err := c.newRuntime()
	if err != nil {
		logrus.Errorf("[Controller] create runtime fail, err = %v", err)
		cmd.reply <- err
		return
	}
	c.lock.Lock()
	c.rt = rt
	c.journal = nil
	c.lock.Unlock()
	c.eventLog.Reset()
	atomic.StoreInt64(&c.pauseFlag, 0)
	c.statusManager.Set(utils.Running)
	c.callback(debugger.NewContinuedEvent())
	cmd.reply <- nil

	// 程序入口可能直接停住：stopOnEntry或入口行上有断点
	// 停住发生在第一步之前，还没有快照，序号用-1表示
	if !rt.Terminated() {
		if frames := rt.StackTrace(); len(frames) > 0 {
			if cmd.stopOnEntry {
				c.statusManager.Set(utils.Paused)
				c.callback(debugger.NewStoppedEvent(constants.EntryStopped, frames[0].Path, frames[0].Line, -1))
				return
			}
			if c.breakpoints.IsActive(frames[0].Path, frames[0].Line) {
				c.statusManager.Set(utils.Paused)
				c.callback(debugger.NewStoppedEvent(constants.BreakpointStopped, frames[0].Path, frames[0].Line, -1))
				return
			}
		}
	}
	c.stepLoop(rt, nil)
}

func (c *Controller) handleContinue(cmd *command) {
	if !c.statusManager.Is(utils.Paused) {
		cmd.reply <- e.ErrInvalidTransition
		return
	}
	c.statusManager.Set(utils.Running)
	c.callback(debugger.NewContinuedEvent())
	cmd.reply <- nil
	c.stepLoop(c.runtime(), nil)
}

func (c *Controller) handleStepOver(cmd *command) {
	if !c.statusManager.Is(utils.Paused) {
		cmd.reply <- e.ErrInvalidTransition
		return
	}
	rt := c.runtime()
	depth := len(rt.StackTrace())
	c.statusManager.Set(utils.Running)
	c.callback(debugger.NewContinuedEvent())
	cmd.reply <- nil
	c.stepLoop(rt, func(snapshot *debugger.ExecutionSnapshot) bool {
		return len(snapshot.Stack) <= depth
	})
}

func (c *Controller) handleStepIn(cmd *command) {
	if !c.statusManager.Is(utils.Paused) {
		cmd.reply <- e.ErrInvalidTransition
		return
	}
	c.statusManager.Set(utils.Running)
	c.callback(debugger.NewContinuedEvent())
	cmd.reply <- nil
	c.stepLoop(c.runtime(), func(*debugger.ExecutionSnapshot) bool {
		return true
	})
}

func (c *Controller) handleStepOut(cmd *command) {
	if !c.statusManager.Is(utils.Paused) {
		cmd.reply <- e.ErrInvalidTransition
		return
	}
	rt := c.runtime()
	depth := len(rt.StackTrace())
	// 已经在最外层栈帧，没有可以跳出的函数
	if depth <= 1 {
		cmd.reply <- e.ErrInvalidTransition
		return
	}
	c.statusManager.Set(utils.Running)
	c.callback(debugger.NewContinuedEvent())
	cmd.reply <- nil
	c.stepLoop(rt, func(snapshot *debugger.ExecutionSnapshot) bool {
		return len(snapshot.Stack) < depth
	})
}

// handleStop terminate的收尾，停止标志在Terminate里已经设置，
// 活跃的执行循环退出之后才会轮到这条命令
func (c *Controller) handleStop(cmd *command) {
	atomic.StoreInt64(&c.stopFlag, 0)
	c.statusManager.Set(utils.Stopped)
	cmd.reply <- nil
}

// stepLoop 连续推进执行
// 每个底层step产生一份快照写入事件日志，然后检查断点，
// 最后才轮到本次命令自己的到达条件，断点的优先级高于步进边界
// 每步之间的安全点检查暂停与停止标志
func (c *Controller) stepLoop(rt debugger.Runtime, arrived func(*debugger.ExecutionSnapshot) bool) {
	defer atomic.StoreInt64(&c.pauseFlag, 0)
	for {
		if atomic.LoadInt64(&c.stopFlag) == 1 {
			c.statusManager.Set(utils.Stopped)
			return
		}
		if rt.Terminated() {
			// 程序正常结束，事件日志保留供回看
			logrus.Infof("[Controller] program %s exited", c.programName)
			c.statusManager.Set(utils.Stopped)
			c.callback(debugger.NewExitedEvent(0, ""))
			return
		}
		if atomic.LoadInt64(&c.pauseFlag) == 1 {
			atomic.StoreInt64(&c.pauseFlag, 0)
			file, line, seq := c.position(rt)
			c.statusManager.Set(utils.Paused)
			c.callback(debugger.NewStoppedEvent(constants.PauseStopped, file, line, seq))
			return
		}
		state, err := rt.Step()
		if err != nil {
			if atomic.LoadInt64(&c.stopFlag) == 1 {
				c.statusManager.Set(utils.Stopped)
				return
			}
			// 运行时错误，目标程序异常结束
			logrus.Errorf("[Controller] step fail, err = %v", err)
			c.statusManager.Set(utils.Stopped)
			c.callback(debugger.NewOutputEvent(err.Error() + "\n"))
			c.callback(debugger.NewExitedEvent(1, err.Error()))
			return
		}
		snapshot := c.record(state)
		if state.Line > 0 && c.breakpoints.IsActive(frameFile(state), state.Line) {
			c.statusManager.Set(utils.Paused)
			c.callback(debugger.NewStoppedEvent(constants.BreakpointStopped, frameFile(state), state.Line, snapshot.Sequence))
			return
		}
		if rt.Terminated() {
			continue
		}
		if arrived != nil && arrived(snapshot) {
			c.statusManager.Set(utils.Paused)
			c.callback(debugger.NewStoppedEvent(constants.StepStopped, frameFile(state), state.Line, snapshot.Sequence))
			return
		}
	}
}

// record 把一步的执行状态转成快照写入事件日志
// 消费过输入的步还要把输入追加进输入日志
func (c *Controller) record(state *debugger.RuntimeState) *debugger.ExecutionSnapshot {
	if state.Input != "" {
		c.lock.Lock()
		c.journal = append(c.journal, state.Input)
		c.lock.Unlock()
	}
	snapshot := &debugger.ExecutionSnapshot{
		Line:        state.Line,
		ProgramName: c.programName,
		Stack:       state.Stack,
		Variables:   state.Variables,
		Input:       state.Input,
	}
	c.eventLog.Push(snapshot)
	return snapshot
}

// position 暂停事件要展示的停留位置，取最近一份快照
func (c *Controller) position(rt debugger.Runtime) (string, int, int64) {
	if snapshot := c.eventLog.Latest(); snapshot != nil {
		return stackFile(snapshot.Stack), snapshot.Line, snapshot.Sequence
	}
	if frames := rt.StackTrace(); len(frames) > 0 {
		return frames[0].Path, frames[0].Line, -1
	}
	return "", 0, -1
}

func (c *Controller) runtime() debugger.Runtime {
	defer c.lock.RUnlock()
	c.lock.RLock()
	return c.rt
}

func frameFile(state *debugger.RuntimeState) string {
	return stackFile(state.Stack)
}

func stackFile(stack []*debugger.StackFrame) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[0].Path
}
