package record

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
	e "github.com/fansqz/timetravel-debugger/error"
)

// Replay 确定性重放引擎
// 对冻结的一段记录重新驱动一个全新的运行时，逐快照比对执行结果，
// 证明"相同的程序和相同的输入会产生相同的状态序列"
// 重放永远不碰在线的EventLog，所以和正向调试互不干扰
type Replay struct {
	lock     sync.Mutex
	status   constants.ReplayStatusType
	factory  debugger.RuntimeFactory
	callback debugger.NotificationCallback

	// frozen 启动时冻结的记录副本，从旧到新
	frozen []*debugger.ExecutionSnapshot
	// inputs 整个执行消费过的输入，包括已淘汰前缀消费的部分
	inputs      []string
	programName string
	// cursor 下一个待重放的快照在frozen中的下标
	cursor int
	rt     debugger.Runtime
	report *debugger.DivergenceReport
}

func NewReplay(factory debugger.RuntimeFactory, callback debugger.NotificationCallback) *Replay {
	return &Replay{
		status:   constants.ReplayIdle,
		factory:  factory,
		callback: callback,
	}
}

// Start 冻结一份记录并启动重放
// 记录的前缀可能已经被淘汰，先静默执行到第一个保留快照之前的位置，
// 之后每次Step重放一个执行单元
// 重复调用会丢弃上一次的重放从头开始
func (r *Replay) Start(programName string, frozen []*debugger.ExecutionSnapshot, inputs []string) error {
	defer r.lock.Unlock()
	r.lock.Lock()
	if len(frozen) == 0 {
		return errors.New("no recorded snapshots to replay")
	}
	rt, err := r.factory(strings.NewReader(joinInputs(inputs)), io.Discard)
	if err != nil {
		return fmt.Errorf("replay runtime: %w", err)
	}
	// 序号0到first-1的快照已经被淘汰，重新执行但不比对
	first := frozen[0].Sequence
	for i := int64(0); i < first; i++ {
		if rt.Terminated() {
			return fmt.Errorf("program ended at step %d before reaching the retained range", i)
		}
		if _, err = rt.Step(); err != nil {
			return fmt.Errorf("fast-forward to sequence %d: %w", first, err)
		}
	}
	r.status = constants.ReplayReplaying
	r.frozen = frozen
	r.inputs = inputs
	r.programName = programName
	r.cursor = 0
	r.rt = rt
	r.report = nil
	return nil
}

// Step 重放一个执行单元，和记录中的快照逐字段比对
// 比对不一致时重放会话进入Diverged状态并上报现场，
// 全部快照比对通过后进入Completed状态
func (r *Replay) Step() (*debugger.ReplayStepResult, error) {
	defer r.lock.Unlock()
	r.lock.Lock()
	if r.status != constants.ReplayReplaying {
		return nil, e.ErrReplayNotActive
	}
	recorded := r.frozen[r.cursor]
	if r.rt.Terminated() {
		// 记录里还有快照但程序已经执行结束
		return r.diverge(recorded, nil, []string{"terminated"}), nil
	}
	state, err := r.rt.Step()
	if err != nil {
		logrus.Warnf("[Replay] step failed at sequence %d: %v", recorded.Sequence, err)
		return r.diverge(recorded, nil, []string{"error"}), nil
	}
	replayed := &debugger.ExecutionSnapshot{
		Sequence:    recorded.Sequence,
		Line:        state.Line,
		ProgramName: r.programName,
		Stack:       state.Stack,
		Variables:   state.Variables,
		Input:       state.Input,
	}
	if fields := recorded.Diff(replayed); len(fields) > 0 {
		return r.diverge(recorded, replayed, fields), nil
	}
	r.cursor++
	if r.cursor == len(r.frozen) {
		r.status = constants.ReplayCompleted
	}
	return &debugger.ReplayStepResult{
		Status:   r.status,
		Sequence: recorded.Sequence,
	}, nil
}

// diverge 记录分歧现场并上报，重放会话就此终止
func (r *Replay) diverge(recorded, replayed *debugger.ExecutionSnapshot, fields []string) *debugger.ReplayStepResult {
	r.status = constants.ReplayDiverged
	r.report = &debugger.DivergenceReport{
		Sequence: recorded.Sequence,
		Recorded: recorded,
		Replayed: replayed,
		Fields:   fields,
	}
	logrus.Warnf("[Replay] diverged at sequence %d, fields: %v", recorded.Sequence, fields)
	if r.callback != nil {
		r.callback(debugger.NewReplayEvent(constants.ReplayDiverged, recorded.Sequence, r.report))
	}
	return &debugger.ReplayStepResult{
		Status:     r.status,
		Sequence:   recorded.Sequence,
		Divergence: r.report,
	}
}

// Reset 回到Idle状态，丢弃冻结的记录
func (r *Replay) Reset() {
	defer r.lock.Unlock()
	r.lock.Lock()
	r.status = constants.ReplayIdle
	r.frozen = nil
	r.inputs = nil
	r.cursor = 0
	r.rt = nil
	r.report = nil
}

// Status 重放会话当前状态
func (r *Replay) Status() constants.ReplayStatusType {
	defer r.lock.Unlock()
	r.lock.Lock()
	return r.status
}

// Report 分歧现场，没有分歧时返回nil
func (r *Replay) Report() *debugger.DivergenceReport {
	defer r.lock.Unlock()
	r.lock.Lock()
	return r.report
}

// joinInputs 输入日志中的每一项都保留着原始的行结束符，直接拼接就是当时的stdin字节流
func joinInputs(inputs []string) string {
	return strings.Join(inputs, "")
}
