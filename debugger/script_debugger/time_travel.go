package script_debugger

import (
	"context"
	"fmt"
	"io"

	"github.com/emirpasic/gods/sets"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/timetravel-debugger/constants"
	. "github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/debugger/execution"
	e "github.com/fansqz/timetravel-debugger/error"
	"github.com/fansqz/timetravel-debugger/utils"
)

// StepBack 在已记录的历史中后退一步
// 第一次后退会进入时间旅行模式，光标从最新快照出发
func (s *ScriptDebugger) StepBack(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] StepBack")
	if _, err := s.checkNavigable(); err != nil {
		return err
	}
	s.lock.Lock()
	if !s.travel {
		s.navigator.SyncToLatest()
	}
	snapshot, moved := s.navigator.StepBackward()
	if snapshot == nil {
		s.lock.Unlock()
		return e.ErrNotRetained
	}
	if !moved {
		// 更早的快照已经被淘汰或从未存在
		s.lock.Unlock()
		return fmt.Errorf("snapshot %d: %w", snapshot.Sequence-1, e.ErrNotRetained)
	}
	s.travel = true
	s.lock.Unlock()
	s.notify(NewStoppedEvent(constants.TimeTravelStopped, snapshotFile(snapshot), snapshot.Line, snapshot.Sequence))
	return nil
}

// ReverseContinue 在历史中向后移动
// 停在上一个落在激活断点上的快照，没有就停在最旧的保留快照
func (s *ScriptDebugger) ReverseContinue(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] ReverseContinue")
	controller, err := s.checkNavigable()
	if err != nil {
		return err
	}
	log := controller.Log()
	s.lock.Lock()
	if !s.travel {
		s.navigator.SyncToLatest()
	}
	min, _, ok := log.RetainedRange()
	if !ok {
		s.lock.Unlock()
		return e.ErrNotRetained
	}
	// 断点行取一次一致快照，扫描期间的断点修改不影响本次停靠
	var active sets.Set
	var target *ExecutionSnapshot
	reason := constants.TimeTravelStopped
	for seq := s.navigator.Position() - 1; seq >= min; seq-- {
		snapshot := log.Get(seq)
		if snapshot == nil {
			break
		}
		if active == nil {
			active = s.manager.ActiveLines(snapshotFile(snapshot))
		}
		if snapshot.Line > 0 && active.Contains(snapshot.Line) {
			target = snapshot
			reason = constants.BreakpointStopped
			break
		}
	}
	if target == nil {
		if target = log.Oldest(); target == nil {
			s.lock.Unlock()
			return e.ErrNotRetained
		}
	}
	if _, err := s.navigator.Goto(target.Sequence); err != nil {
		s.lock.Unlock()
		return err
	}
	s.travel = true
	s.lock.Unlock()
	s.notify(NewStoppedEvent(reason, snapshotFile(target), target.Line, target.Sequence))
	return nil
}

// GotoSnapshot 跳转到历史中指定序号的快照
func (s *ScriptDebugger) GotoSnapshot(ctx context.Context, sequence int64) error {
	logrus.Infof("[ScriptDebugger] GotoSnapshot")
	if _, err := s.checkNavigable(); err != nil {
		return err
	}
	s.lock.Lock()
	snapshot, err := s.navigator.Goto(sequence)
	if err != nil {
		s.lock.Unlock()
		return err
	}
	s.travel = true
	s.lock.Unlock()
	s.notify(NewStoppedEvent(constants.TimeTravelStopped, snapshotFile(snapshot), snapshot.Line, snapshot.Sequence))
	return nil
}

// travelForward 时间旅行模式下向最新方向前进一步
// 已经在最新快照上时退出时间旅行，返回false让调用方转为活体执行
func (s *ScriptDebugger) travelForward() bool {
	s.lock.Lock()
	if !s.travel {
		s.lock.Unlock()
		return false
	}
	snapshot, moved := s.navigator.StepForward()
	if !moved {
		s.travel = false
		s.lock.Unlock()
		return false
	}
	s.lock.Unlock()
	s.notify(NewStoppedEvent(constants.TimeTravelStopped, snapshotFile(snapshot), snapshot.Line, snapshot.Sequence))
	return true
}

// exitTravel 退出时间旅行模式，回到活体执行的最新位置
func (s *ScriptDebugger) exitTravel() {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.travel = false
}

// checkNavigable 时间旅行导航要求程序不在运行中
func (s *ScriptDebugger) checkNavigable() (*execution.Controller, error) {
	controller := s.getController()
	if controller == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	if controller.Status() == utils.Running {
		return nil, e.ErrProgramIsRunning
	}
	return controller, nil
}

// ReplayStart 冻结当前保留的快照和输入日志，启动重放会话
func (s *ScriptDebugger) ReplayStart(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] ReplayStart")
	controller := s.getController()
	if controller == nil {
		return e.ErrDebuggerNotStarted
	}
	s.lock.RLock()
	bound := s.runProgram
	if bound == nil {
		bound = s.program
	}
	s.lock.RUnlock()
	if bound == nil {
		return e.ErrDebuggerNotStarted
	}
	frozen := controller.Log().Retained()
	inputs := controller.Journal()
	return s.replay.Start(bound.Name(), frozen, inputs)
}

// ReplayStep 重放一个执行单元并与记录比对
func (s *ScriptDebugger) ReplayStep(ctx context.Context) (*ReplayStepResult, error) {
	logrus.Infof("[ScriptDebugger] ReplayStep")
	if s.getController() == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	return s.replay.Step()
}

// ReplayReset 结束重放会话，丢弃冻结的记录
func (s *ScriptDebugger) ReplayReset(ctx context.Context) error {
	logrus.Infof("[ScriptDebugger] ReplayReset")
	if s.getController() == nil {
		return e.ErrDebuggerNotStarted
	}
	s.replay.Reset()
	return nil
}

// replayRuntime 重放引擎的运行时工厂，始终使用本轮run绑定的程序
func (s *ScriptDebugger) replayRuntime(stdin io.Reader, stdout io.Writer) (Runtime, error) {
	defer s.lock.RUnlock()
	s.lock.RLock()
	if s.runProgram == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	return s.runProgram.NewRuntime(stdin, stdout), nil
}

// snapshotFile 快照停留位置所在的文件
func snapshotFile(snapshot *ExecutionSnapshot) string {
	if snapshot == nil || len(snapshot.Stack) == 0 {
		return ""
	}
	return snapshot.Stack[0].Path
}
