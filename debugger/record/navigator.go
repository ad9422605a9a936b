package record

import (
	"fmt"
	"sync"

	"github.com/fansqz/timetravel-debugger/debugger"
	e "github.com/fansqz/timetravel-debugger/error"
)

// Navigator 历史快照上的导航光标
// 只读地在EventLog的保留区间内前后移动，不会影响程序的真实执行
// position是快照序号而不是物理槽位，被淘汰后会自动钳制回保留区间
type Navigator struct {
	lock     sync.Mutex
	log      *EventLog
	position int64
}

func NewNavigator(log *EventLog) *Navigator {
	return &Navigator{log: log}
}

// StepForward 向后一个执行单元的方向移动
// 返回落在的快照和是否真的移动了，已经在最新快照上时不移动
func (n *Navigator) StepForward() (*debugger.ExecutionSnapshot, bool) {
	defer n.lock.Unlock()
	n.lock.Lock()
	return n.move(1)
}

// StepBackward 向前一个执行单元的方向移动
// 返回落在的快照和是否真的移动了，已经在最旧快照上时不移动
func (n *Navigator) StepBackward() (*debugger.ExecutionSnapshot, bool) {
	defer n.lock.Unlock()
	n.lock.Lock()
	return n.move(-1)
}

func (n *Navigator) move(delta int64) (*debugger.ExecutionSnapshot, bool) {
	min, max, ok := n.log.RetainedRange()
	if !ok {
		return nil, false
	}
	target := clamp(n.position+delta, min, max)
	moved := target != n.position
	n.position = target
	return n.log.Get(target), moved
}

// Goto 直接跳转到指定序号的快照
// 序号不在保留区间内时返回错误，光标位置不变
func (n *Navigator) Goto(sequence int64) (*debugger.ExecutionSnapshot, error) {
	defer n.lock.Unlock()
	n.lock.Lock()
	snapshot := n.log.Get(sequence)
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot %d: %w", sequence, e.ErrNotRetained)
	}
	n.position = sequence
	return snapshot, nil
}

// Current 光标当前指向的快照，位置已被淘汰时钳回保留区间
func (n *Navigator) Current() *debugger.ExecutionSnapshot {
	defer n.lock.Unlock()
	n.lock.Lock()
	min, max, ok := n.log.RetainedRange()
	if !ok {
		return nil
	}
	n.position = clamp(n.position, min, max)
	return n.log.Get(n.position)
}

// SyncToLatest 把光标移动到最新的快照上
func (n *Navigator) SyncToLatest() *debugger.ExecutionSnapshot {
	defer n.lock.Unlock()
	n.lock.Lock()
	latest := n.log.Latest()
	if latest != nil {
		n.position = latest.Sequence
	}
	return latest
}

// AtStart 光标是否在最旧的保留快照上
func (n *Navigator) AtStart() bool {
	defer n.lock.Unlock()
	n.lock.Lock()
	min, _, ok := n.log.RetainedRange()
	return !ok || n.position <= min
}

// AtEnd 光标是否在最新的快照上
func (n *Navigator) AtEnd() bool {
	defer n.lock.Unlock()
	n.lock.Lock()
	_, max, ok := n.log.RetainedRange()
	return !ok || n.position >= max
}

// Position 光标当前的序号
func (n *Navigator) Position() int64 {
	defer n.lock.Unlock()
	n.lock.Lock()
	return n.position
}

func clamp(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
