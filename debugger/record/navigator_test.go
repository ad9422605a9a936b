package record

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/timetravel-debugger/debugger"
	e "github.com/fansqz/timetravel-debugger/error"
)

func TestNavigator_StepBackward(t *testing.T) {
	// 容量3的记录写入序号0到3，保留区间是[1,3]
	log := NewEventLog(3)
	recordStates(log, fakeStates(10, 20, 30, 40))
	n := NewNavigator(log)
	n.SyncToLatest()
	assert.Equal(t, int64(3), n.Position())
	assert.True(t, n.AtEnd())
	snapshot, moved := n.StepBackward()
	assert.True(t, moved)
	assert.Equal(t, int64(2), snapshot.Sequence)
	snapshot, moved = n.StepBackward()
	assert.True(t, moved)
	assert.Equal(t, int64(1), snapshot.Sequence)
	assert.True(t, n.AtStart())
	// 已经在最旧的保留快照上，继续后退是no-op
	snapshot, moved = n.StepBackward()
	assert.False(t, moved)
	assert.Equal(t, int64(1), snapshot.Sequence)
	assert.Equal(t, int64(1), n.Position())
}

func TestNavigator_StepForward(t *testing.T) {
	log := NewEventLog(10)
	recordStates(log, fakeStates(10, 20, 30))
	n := NewNavigator(log)
	n.SyncToLatest()
	n.StepBackward()
	n.StepBackward()
	assert.Equal(t, int64(0), n.Position())
	snapshot, moved := n.StepForward()
	assert.True(t, moved)
	assert.Equal(t, int64(1), snapshot.Sequence)
	snapshot, moved = n.StepForward()
	assert.True(t, moved)
	assert.Equal(t, int64(2), snapshot.Sequence)
	// 已经在最新快照上，前进是no-op
	snapshot, moved = n.StepForward()
	assert.False(t, moved)
	assert.Equal(t, int64(2), snapshot.Sequence)
}

func TestNavigator_Inverse(t *testing.T) {
	log := NewEventLog(10)
	recordStates(log, fakeStates(10, 20, 30))
	n := NewNavigator(log)
	n.SyncToLatest()
	n.StepBackward()
	// 不跨越保留边界时，前进一步再后退一步回到原位
	before := n.Position()
	_, moved := n.StepForward()
	assert.True(t, moved)
	snapshot, moved := n.StepBackward()
	assert.True(t, moved)
	assert.Equal(t, before, snapshot.Sequence)
}

func TestNavigator_Goto(t *testing.T) {
	log := NewEventLog(3)
	recordStates(log, fakeStates(10, 20, 30, 40))
	n := NewNavigator(log)
	n.SyncToLatest()
	snapshot, err := n.Goto(1)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), snapshot.Sequence)
	// 已淘汰的序号跳转失败，光标不动
	_, err = n.Goto(0)
	assert.ErrorIs(t, err, e.ErrNotRetained)
	assert.Equal(t, int64(1), n.Position())
	// 还未产生的序号同样失败
	_, err = n.Goto(9)
	assert.ErrorIs(t, err, e.ErrNotRetained)
}

func TestNavigator_ClampAfterEviction(t *testing.T) {
	log := NewEventLog(3)
	recordStates(log, fakeStates(10, 20, 30))
	n := NewNavigator(log)
	_, err := n.Goto(0)
	assert.Nil(t, err)
	// 光标指向的序号0被新写入淘汰后，自动钳回保留区间
	log.Push(&debugger.ExecutionSnapshot{Line: 40})
	snapshot := n.Current()
	assert.Equal(t, int64(1), snapshot.Sequence)
	assert.Equal(t, int64(1), n.Position())
}

func TestNavigator_EmptyLog(t *testing.T) {
	n := NewNavigator(NewEventLog(3))
	snapshot, moved := n.StepBackward()
	assert.Nil(t, snapshot)
	assert.False(t, moved)
	assert.Nil(t, n.Current())
	assert.True(t, n.AtStart())
	assert.True(t, n.AtEnd())
}
