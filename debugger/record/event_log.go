package record

import (
	"sync"

	"github.com/fansqz/timetravel-debugger/debugger"
)

// DefaultCapacity 未指定容量时的默认快照保留数
const DefaultCapacity = 1000

// EventLog 固定容量的执行快照环形缓冲区
// 写满之后继续写入会淘汰最旧的快照，先进先出
// 序号是独立于物理槽位的单调计数，淘汰后也不会复用，
// 所以任何时候都可以安全地问"序号K还在不在"
// 只有执行协程写入，导航和重放从别的协程读取
type EventLog struct {
	lock     sync.RWMutex
	buffer   []*debugger.ExecutionSnapshot
	capacity int
	// head 最旧快照所在的槽位
	head int
	// count 当前保留的快照数，不会超过capacity
	count int
	// nextSeq 下一个入栈快照的序号
	nextSeq int64
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		buffer:   make([]*debugger.ExecutionSnapshot, capacity),
		capacity: capacity,
	}
}

// Push 写入一份快照并分配序号
// 写满时覆盖最旧的槽位并推进head
func (l *EventLog) Push(snapshot *debugger.ExecutionSnapshot) int64 {
	defer l.lock.Unlock()
	l.lock.Lock()
	snapshot.Sequence = l.nextSeq
	l.nextSeq++
	if l.count < l.capacity {
		l.buffer[(l.head+l.count)%l.capacity] = snapshot
		l.count++
	} else {
		l.buffer[l.head] = snapshot
		l.head = (l.head + 1) % l.capacity
	}
	return snapshot.Sequence
}

// Latest 最新的快照，没有记录时返回nil
func (l *EventLog) Latest() *debugger.ExecutionSnapshot {
	defer l.lock.RUnlock()
	l.lock.RLock()
	if l.count == 0 {
		return nil
	}
	return l.buffer[(l.head+l.count-1)%l.capacity]
}

// Oldest 最旧的仍被保留的快照，没有记录时返回nil
func (l *EventLog) Oldest() *debugger.ExecutionSnapshot {
	defer l.lock.RUnlock()
	l.lock.RLock()
	if l.count == 0 {
		return nil
	}
	return l.buffer[l.head]
}

// Get 根据序号取快照，已淘汰或还未产生时返回nil
func (l *EventLog) Get(sequence int64) *debugger.ExecutionSnapshot {
	defer l.lock.RUnlock()
	l.lock.RLock()
	min := l.nextSeq - int64(l.count)
	if l.count == 0 || sequence < min || sequence >= l.nextSeq {
		return nil
	}
	return l.buffer[(l.head+int(sequence-min))%l.capacity]
}

// RetainedRange 当前保留的序号区间，没有记录时ok为false
func (l *EventLog) RetainedRange() (min int64, max int64, ok bool) {
	defer l.lock.RUnlock()
	l.lock.RLock()
	if l.count == 0 {
		return 0, 0, false
	}
	return l.nextSeq - int64(l.count), l.nextSeq - 1, true
}

// Retained 从旧到新返回当前保留的所有快照
// 返回的切片是副本，快照本身写入后不会再修改，可以安全地长期持有
func (l *EventLog) Retained() []*debugger.ExecutionSnapshot {
	defer l.lock.RUnlock()
	l.lock.RLock()
	result := make([]*debugger.ExecutionSnapshot, 0, l.count)
	for i := 0; i < l.count; i++ {
		result = append(result, l.buffer[(l.head+i)%l.capacity])
	}
	return result
}

// Count 当前保留的快照数
func (l *EventLog) Count() int {
	defer l.lock.RUnlock()
	l.lock.RLock()
	return l.count
}

// Capacity 容量
func (l *EventLog) Capacity() int {
	return l.capacity
}

// Reset 清空记录，序号也从0重新开始
func (l *EventLog) Reset() {
	defer l.lock.Unlock()
	l.lock.Lock()
	l.buffer = make([]*debugger.ExecutionSnapshot, l.capacity)
	l.head = 0
	l.count = 0
	l.nextSeq = 0
}
