package script_debugger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/fansqz/timetravel-debugger/constants"
	. "github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/debugger/breakpoint"
	"github.com/fansqz/timetravel-debugger/debugger/execution"
	"github.com/fansqz/timetravel-debugger/debugger/record"
	e "github.com/fansqz/timetravel-debugger/error"
	"github.com/fansqz/timetravel-debugger/interpreter"
	"github.com/fansqz/timetravel-debugger/utils"
	"github.com/fansqz/timetravel-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// ScriptDebugger 脚本程序的时间旅行调试器
// 活体执行由controller串行驱动并逐步记录快照，
// 时间旅行导航和重放都在记录上工作，不会打扰真实执行
type ScriptDebugger struct {
	startOption *StartOption

	// 事件产生时，触发该回调
	callback NotificationCallback

	// manager 断点管理，Start之前添加的断点会在加载成功后重新校验
	manager *breakpoint.Manager

	// controller 推进目标程序并记录执行历史
	controller *execution.Controller

	// navigator 执行历史上的时间旅行光标
	navigator *record.Navigator

	// replay 重放引擎，在冻结的历史副本上重新执行
	replay *record.Replay

	// watcher 源文件变更监听，驱动断点重新校验
	watcher *sourceWatcher

	closeOnce sync.Once

	lock sync.RWMutex

	// starting Start进行中的占位，并发的重复Start靠它分出胜负
	starting bool

	// closed 会话已关闭，拒绝之后的Start
	closed bool

	// execFile 调试目标文件路径
	execFile string

	// workPath 内联代码模式下生成的临时工作目录
	workPath string

	// program 最近一次成功加载的程序
	program *interpreter.Program

	// runProgram 本轮run绑定的程序，重放用它保证和记录同源
	runProgram *interpreter.Program

	// console 本轮run的虚拟终端
	console *console

	// travel 是否停留在历史快照上
	travel bool
}

func NewScriptDebugger() *ScriptDebugger {
	return &ScriptDebugger{
		manager: breakpoint.NewManager(),
	}
}

func (s *ScriptDebugger) Start(ctx context.Context, option *StartOption) error {
	logrus.Infof("[ScriptDebugger] Start")
	callback := option.Callback
	// 占位和检查在同一个临界区，并发的重复Start只放行一个
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return e.ErrDebuggerIsClosed
	}
	if s.starting || s.controller != nil {
		s.lock.Unlock()
		return errors.New("debugger already started")
	}
	s.starting = true
	s.startOption = option
	s.callback = callback
	s.lock.Unlock()

	execFile := option.ExecFile
	// 内联代码写入临时工作目录再加载
	if option.MainCode != "" {
		workPath := path.Join(os.TempDir(), utils.GetUUID())
		if err := os.MkdirAll(workPath, os.ModePerm); err != nil {
			s.abortStart()
			return err
		}
		s.lock.Lock()
		s.workPath = workPath
		s.lock.Unlock()
		execFile = path.Join(workPath, "main.x")
		if err := os.WriteFile(execFile, []byte(option.MainCode), 0644); err != nil {
			s.abortStart()
			return err
		}
	}

	program, err := interpreter.Load(execFile)
	if err != nil {
		s.abortStart()
		callback(LaunchFailEvent)
		return fmt.Errorf("%w: %v", e.ErrLoadProgramFailed, err)
	}

	// 组件在锁外构造完成，连同执行协程的启动一次性发布
	controller := execution.NewController(program.Name(), option.RecordCapacity, s.newRuntime, s.manager, s.onExecutionEvent)
	s.lock.Lock()
	if s.closed {
		// Start期间会话已经关闭，发布出去就没有人回收执行协程了
		s.starting = false
		workPath := s.workPath
		s.workPath = ""
		s.lock.Unlock()
		if workPath != "" {
			os.RemoveAll(workPath)
		}
		return e.ErrDebuggerIsClosed
	}
	s.execFile = execFile
	s.program = program
	s.controller = controller
	s.navigator = record.NewNavigator(controller.Log())
	s.replay = record.NewReplay(s.replayRuntime, callback)
	s.starting = false
	controller.Start(ctx)
	s.lock.Unlock()

	// 提前设置的断点按加载结果重新校验
	s.reverifyBreakpoints(program)

	watcher, err := newSourceWatcher(execFile, s.onSourceChange)
	if err != nil {
		logrus.Errorf("[ScriptDebugger] watch source fail, err = %v", err)
	} else {
		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			watcher.Close()
		} else {
			s.watcher = watcher
			s.lock.Unlock()
		}
	}

	callback(LaunchSuccessEvent)
	return nil
}

// abortStart 启动失败，释放占位允许修正参数后重新Start
func (s *ScriptDebugger) abortStart() {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.starting = false
}

// getController 读取当前控制器，Start发布成功之前为nil
// navigator和replay与controller在同一临界区发布，看到非nil之后可以直接读取
func (s *ScriptDebugger) getController() *execution.Controller {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.controller
}

// notify 回调未设置时丢弃事件，Start之前就允许操作断点
func (s *ScriptDebugger) notify(event interface{}) {
	s.lock.RLock()
	callback := s.callback
	s.lock.RUnlock()
	if callback != nil {
		callback(event)
	}
}

// newRuntime 为一轮新的执行启动虚拟终端并创建运行时
// 由controller在接受run命令之后调用，上一轮执行此时一定已经结束
func (s *ScriptDebugger) newRuntime() (Runtime, error) {
	defer s.lock.Unlock()
	s.lock.Lock()
	if s.program == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	console, err := openConsole()
	if err != nil {
		return nil, err
	}
	if s.console != nil {
		s.console.Close()
	}
	s.console = console
	// 本轮执行绑定当前加载的程序，重放始终和记录同源
	s.runProgram = s.program
	s.travel = false
	callback := s.callback
	// 启动协程读取用户输出
	gosync.Go(context.Background(), func(ctx context.Context) {
		console.processUserOutput(callback)
	})
	return s.runProgram.NewRuntime(console.pts, console.pts), nil
}

// onExecutionEvent 活体执行产生的事件经过这里转发
// 出现新的停留位置时退出时间旅行，把导航光标拉回最新快照
func (s *ScriptDebugger) onExecutionEvent(event interface{}) {
	switch event.(type) {
	case *StoppedEvent, *ExitedEvent:
		s.lock.Lock()
		s.travel = false
		navigator := s.navigator
		s.lock.Unlock()
		navigator.SyncToLatest()
	}
	s.notify(event)
}

func (s *ScriptDebugger) Run(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] Run")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	return controller.Run(ctx, s.startOption.StopOnEntry)
}

// Send 输入
func (s *ScriptDebugger) Send(ctx context.Context, input string) error {
	logrus.Infof("[ScriptDebugger] Send")
	s.lock.RLock()
	console := s.console
	s.lock.RUnlock()
	if console == nil {
		return e.ErrProgramNotRunning
	}
	return console.Send(input)
}

func (s *ScriptDebugger) StepOver(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] StepOver")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	if s.travelForward() {
		return nil
	}
	return controller.StepOver(ctx)
}

func (s *ScriptDebugger) StepIn(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] StepIn")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	if s.travelForward() {
		return nil
	}
	return controller.StepIn(ctx)
}

func (s *ScriptDebugger) StepOut(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] StepOut")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	s.exitTravel()
	return controller.StepOut(ctx)
}

func (s *ScriptDebugger) Continue(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] Continue")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	s.exitTravel()
	return controller.Continue(ctx)
}

func (s *ScriptDebugger) Pause(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] Pause")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	return controller.Pause(ctx)
}

func (s *ScriptDebugger) SetBreakpoints(ctx context.Context, file string, lines []int) ([]*Breakpoint, error) {
	logrus.Infof("[ScriptDebugger] SetBreakpoints")
	// 替换语义，先移除不在新列表里的断点
	want := utils.List2set(lines)
	for _, bp := range s.manager.ListForFile(file) {
		if !want.Contains(bp.Line) {
			s.manager.Remove(file, bp.Line)
		}
	}
	result := make([]*Breakpoint, 0, len(lines))
	for _, line := range lines {
		result = append(result, s.manager.Add(file, line, s.verifyLine(file, line)))
	}
	return result, nil
}

func (s *ScriptDebugger) AddBreakpoints(ctx context.Context, file string, lines []int) ([]*Breakpoint, error) {
	logrus.Infof("[ScriptDebugger] AddBreakpoints")
	result := make([]*Breakpoint, 0, len(lines))
	for _, line := range lines {
		bp := s.manager.Add(file, line, s.verifyLine(file, line))
		result = append(result, bp)
		// 返回断点事件
		s.notify(NewBreakpointEvent(constants.NewType, []*Breakpoint{bp}))
	}
	return result, nil
}

func (s *ScriptDebugger) RemoveBreakpoints(ctx context.Context, file string, lines []int) error {
	logrus.Infof("[ScriptDebugger] RemoveBreakpoints")
	for _, line := range lines {
		if !s.manager.Remove(file, line) {
			continue
		}
		// 返回断点事件
		s.notify(NewBreakpointEvent(constants.RemovedType, []*Breakpoint{{File: file, Line: line}}))
	}
	return nil
}

func (s *ScriptDebugger) SetBreakpointEnabled(ctx context.Context, file string, line int, enabled bool) error {
	logrus.Infof("[ScriptDebugger] SetBreakpointEnabled")
	if !s.manager.SetEnabled(file, line, enabled) {
		return e.ErrBreakpointNotExist
	}
	for _, bp := range s.manager.ListForFile(file) {
		if bp.Line != line {
			continue
		}
		s.notify(NewBreakpointEvent(constants.ChangeType, []*Breakpoint{bp}))
		break
	}
	return nil
}

// verifyLine 校验行号是否落在可执行行上
// 程序还没加载成功时一律不通过，加载后会统一重新校验
func (s *ScriptDebugger) verifyLine(file string, line int) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	if s.program == nil {
		return false
	}
	return s.program.IsExecutableLine(file, line)
}

// reverifyBreakpoints 程序加载结果变化后重新校验全部断点，校验结果变化时上报
func (s *ScriptDebugger) reverifyBreakpoints(program *interpreter.Program) {
	for _, file := range s.manager.Files() {
		verify := func(line int) bool { return false }
		if program != nil {
			verify = func(line int) bool { return program.IsExecutableLine(file, line) }
		}
		changed := s.manager.ReverifyFile(file, verify)
		if len(changed) == 0 {
			continue
		}
		s.notify(NewBreakpointEvent(constants.ChangeType, changed))
	}
}

// onSourceChange 源文件变化后重新加载程序并重新校验断点
// 加载失败时保留上一次成功的程序，断点全部降级为未校验
func (s *ScriptDebugger) onSourceChange() {
	logrus.Infof("[ScriptDebugger] source changed, reload %s", s.execFile)
	program, err := interpreter.Load(s.execFile)
	if err != nil {
		logrus.Errorf("[ScriptDebugger] reload fail, err = %v", err)
		s.reverifyBreakpoints(nil)
		return
	}
	s.lock.Lock()
	s.program = program
	s.lock.Unlock()
	s.reverifyBreakpoints(program)
}

func (s *ScriptDebugger) GetState(ctx context.Context) (*StateInfo, error) {
	controller := s.getController()
	if controller == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	s.lock.RLock()
	travel := s.travel
	s.lock.RUnlock()
	state := &StateInfo{
		Execution:   externalStatus(controller.Status()),
		RetainedMin: -1,
		RetainedMax: -1,
		Position:    -1,
		TimeTravel:  travel,
		Replay:      s.replay.Status(),
	}
	log := controller.Log()
	if min, max, ok := log.RetainedRange(); ok {
		state.RetainedMin = min
		state.RetainedMax = max
		state.RetainedCount = log.Count()
		if travel {
			state.Position = s.navigator.Position()
		} else {
			state.Position = max
		}
	}
	return state, nil
}

// externalStatus 内部执行状态到对外状态的映射
func externalStatus(status string) string {
	switch status {
	case utils.Running:
		return "running"
	case utils.Paused:
		return "paused"
	case utils.Finish:
		return "terminated"
	default:
		// Init和Stopped对外都表现为停止
		return "stopped"
	}
}

// Terminate 停止本轮执行，记录保留，之后可以重新Run
func (s *ScriptDebugger) Terminate(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] Terminate")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	// 先标记停止再关终端，阻塞在输入读取上的步进会安静退出
	controller.RequestStop()
	s.lock.Lock()
	console := s.console
	s.console = nil
	s.lock.Unlock()
	if console != nil {
		console.Close()
	}
	return controller.Terminate(ctx)
}

func (s *ScriptDebugger) Close(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] Close")
	s.closeOnce.Do(func() {
		s.lock.Lock()
		s.closed = true
		watcher := s.watcher
		s.watcher = nil
		controller := s.controller
		replay := s.replay
		console := s.console
		s.console = nil
		workPath := s.workPath
		s.workPath = ""
		s.lock.Unlock()
		if watcher != nil {
			watcher.Close()
		}
		if controller != nil {
			controller.RequestStop()
		}
		if console != nil {
			console.Close()
		}
		if controller != nil {
			_ = controller.Terminate(ctx)
			controller.Close()
		}
		if replay != nil {
			replay.Reset()
		}
		if workPath != "" {
			os.RemoveAll(workPath)
		}
	})
	return nil
}
