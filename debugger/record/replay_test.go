package record

import (
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
	e "github.com/fansqz/timetravel-debugger/error"
)

// fakeRuntime 按脚本产出状态序列的运行时
type fakeRuntime struct {
	states []*debugger.RuntimeState
	idx    int
}

func (f *fakeRuntime) Step() (*debugger.RuntimeState, error) {
	if f.idx >= len(f.states) {
		return nil, errors.New("program finished")
	}
	state := f.states[f.idx]
	f.idx++
	return state, nil
}

func (f *fakeRuntime) Terminated() bool {
	return f.idx >= len(f.states)
}

func (f *fakeRuntime) IsExecutableLine(file string, line int) bool {
	return true
}

func (f *fakeRuntime) StackTrace() []*debugger.StackFrame {
	if f.idx == 0 || f.idx > len(f.states) {
		return nil
	}
	return f.states[f.idx-1].Stack
}

func (f *fakeRuntime) LocalVariables(frameId int) (map[string]string, bool) {
	return nil, false
}

func (f *fakeRuntime) GlobalVariables() map[string]string {
	return nil
}

func fakeFactory(states []*debugger.RuntimeState) debugger.RuntimeFactory {
	return func(stdin io.Reader, stdout io.Writer) (debugger.Runtime, error) {
		return &fakeRuntime{states: states}, nil
	}
}

func fakeStates(lines ...int) []*debugger.RuntimeState {
	states := make([]*debugger.RuntimeState, 0, len(lines))
	for i, line := range lines {
		states = append(states, &debugger.RuntimeState{
			Line:      line,
			Stack:     []*debugger.StackFrame{{ID: 0, Name: "main", Path: "main.x", Line: line}},
			Variables: map[string]string{"i": strconv.Itoa(i)},
		})
	}
	return states
}

func recordStates(log *EventLog, states []*debugger.RuntimeState) {
	for _, state := range states {
		log.Push(&debugger.ExecutionSnapshot{
			Line:        state.Line,
			ProgramName: "main.x",
			Stack:       state.Stack,
			Variables:   state.Variables,
			Input:       state.Input,
		})
	}
}

func TestReplay_Fidelity(t *testing.T) {
	states := fakeStates(2, 3, 4, 5, 0)
	log := NewEventLog(10)
	recordStates(log, states)
	cha := make(chan interface{}, 10)
	r := NewReplay(fakeFactory(states), func(data interface{}) { cha <- data })
	// 确定性的运行时重放两次，两次都正常跑完
	for i := 0; i < 2; i++ {
		err := r.Start("main.x", log.Retained(), nil)
		assert.Nil(t, err)
		assert.Equal(t, constants.ReplayReplaying, r.Status())
		for seq := int64(0); seq < 5; seq++ {
			result, err := r.Step()
			assert.Nil(t, err)
			assert.Equal(t, seq, result.Sequence)
			assert.Nil(t, result.Divergence)
		}
		assert.Equal(t, constants.ReplayCompleted, r.Status())
		assert.Nil(t, r.Report())
	}
	// 没有分歧就没有事件
	assert.Len(t, cha, 0)
	// 重放结束后不能继续Step
	_, err := r.Step()
	assert.ErrorIs(t, err, e.ErrReplayNotActive)
}

func TestReplay_Divergence(t *testing.T) {
	states := fakeStates(2, 3, 4)
	log := NewEventLog(10)
	recordStates(log, states)
	// 重放时第三步观察到了不同的变量值
	divergent := fakeStates(2, 3, 4)
	divergent[2].Variables = map[string]string{"i": "9"}
	cha := make(chan interface{}, 10)
	r := NewReplay(fakeFactory(divergent), func(data interface{}) { cha <- data })
	assert.Nil(t, r.Start("main.x", log.Retained(), nil))
	for i := 0; i < 2; i++ {
		result, err := r.Step()
		assert.Nil(t, err)
		assert.Equal(t, constants.ReplayReplaying, result.Status)
	}
	result, err := r.Step()
	assert.Nil(t, err)
	assert.Equal(t, constants.ReplayDiverged, result.Status)
	assert.Equal(t, int64(2), result.Sequence)
	assert.Equal(t, []string{"variables"}, result.Divergence.Fields)
	assert.Equal(t, "2", result.Divergence.Recorded.Variables["i"])
	assert.Equal(t, "9", result.Divergence.Replayed.Variables["i"])
	// 分歧必须以事件形式上报
	event := (<-cha).(*debugger.ReplayEvent)
	assert.Equal(t, constants.ReplayDiverged, event.Status)
	assert.Equal(t, int64(2), event.Sequence)
	assert.NotNil(t, event.Divergence)
	// 分歧后重放会话终止
	_, err = r.Step()
	assert.ErrorIs(t, err, e.ErrReplayNotActive)
	assert.NotNil(t, r.Report())
}

func TestReplay_FastForward(t *testing.T) {
	states := fakeStates(2, 3, 4, 0)
	// 容量2，序号0和1已被淘汰
	log := NewEventLog(2)
	recordStates(log, states)
	var rt *fakeRuntime
	factory := func(stdin io.Reader, stdout io.Writer) (debugger.Runtime, error) {
		rt = &fakeRuntime{states: states}
		return rt, nil
	}
	r := NewReplay(factory, nil)
	assert.Nil(t, r.Start("main.x", log.Retained(), nil))
	// 已淘汰的前缀被静默执行
	assert.Equal(t, 2, rt.idx)
	result, err := r.Step()
	assert.Nil(t, err)
	assert.Equal(t, int64(2), result.Sequence)
	assert.Nil(t, result.Divergence)
	result, err = r.Step()
	assert.Nil(t, err)
	assert.Equal(t, int64(3), result.Sequence)
	assert.Equal(t, constants.ReplayCompleted, result.Status)
}

func TestReplay_TerminatedEarly(t *testing.T) {
	states := fakeStates(2, 3, 4)
	log := NewEventLog(10)
	recordStates(log, states)
	// 重放的程序比记录提前结束
	r := NewReplay(fakeFactory(states[:2]), nil)
	assert.Nil(t, r.Start("main.x", log.Retained(), nil))
	for i := 0; i < 2; i++ {
		_, err := r.Step()
		assert.Nil(t, err)
	}
	result, err := r.Step()
	assert.Nil(t, err)
	assert.Equal(t, constants.ReplayDiverged, result.Status)
	assert.Equal(t, []string{"terminated"}, result.Divergence.Fields)
	assert.Nil(t, result.Divergence.Replayed)
}

func TestReplay_Reset(t *testing.T) {
	states := fakeStates(2, 3)
	log := NewEventLog(10)
	recordStates(log, states)
	r := NewReplay(fakeFactory(states), nil)
	assert.Nil(t, r.Start("main.x", log.Retained(), nil))
	_, err := r.Step()
	assert.Nil(t, err)
	r.Reset()
	assert.Equal(t, constants.ReplayIdle, r.Status())
	_, err = r.Step()
	assert.ErrorIs(t, err, e.ErrReplayNotActive)
	// Reset之后可以重新开始
	assert.Nil(t, r.Start("main.x", log.Retained(), nil))
}

func TestReplay_StartEmpty(t *testing.T) {
	r := NewReplay(fakeFactory(nil), nil)
	err := r.Start("main.x", nil, nil)
	assert.NotNil(t, err)
	assert.Equal(t, constants.ReplayIdle, r.Status())
}
