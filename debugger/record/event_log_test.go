package record

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/timetravel-debugger/debugger"
)

func TestEventLog_Push(t *testing.T) {
	log := NewEventLog(3)
	assert.Equal(t, int64(0), log.Push(&debugger.ExecutionSnapshot{Line: 1}))
	assert.Equal(t, int64(1), log.Push(&debugger.ExecutionSnapshot{Line: 2}))
	assert.Equal(t, 2, log.Count())
	assert.Equal(t, 1, log.Oldest().Line)
	assert.Equal(t, 2, log.Latest().Line)
	assert.Equal(t, 3, log.Capacity())
}

func TestEventLog_Eviction(t *testing.T) {
	// 容量3写入4条，最旧的序号0被淘汰，保留区间是[1,3]
	log := NewEventLog(3)
	for line := 1; line <= 4; line++ {
		log.Push(&debugger.ExecutionSnapshot{Line: line * 10})
	}
	assert.Equal(t, 3, log.Count())
	min, max, ok := log.RetainedRange()
	assert.True(t, ok)
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(3), max)
	assert.Equal(t, int64(1), log.Oldest().Sequence)
	assert.Equal(t, int64(3), log.Latest().Sequence)
	// 序号是外部身份，淘汰后查询返回nil而不是串位
	assert.Nil(t, log.Get(0))
	assert.Equal(t, 20, log.Get(1).Line)
	assert.Equal(t, 40, log.Get(3).Line)
	assert.Nil(t, log.Get(4))
}

func TestEventLog_EvictionBound(t *testing.T) {
	// 容量N写入N+K条之后保留的正好是最近N条
	log := NewEventLog(5)
	for i := 0; i < 12; i++ {
		log.Push(&debugger.ExecutionSnapshot{})
	}
	assert.Equal(t, 5, log.Count())
	min, max, ok := log.RetainedRange()
	assert.True(t, ok)
	assert.Equal(t, int64(7), min)
	assert.Equal(t, int64(11), max)
	retained := log.Retained()
	assert.Len(t, retained, 5)
	for i, snapshot := range retained {
		assert.Equal(t, int64(7+i), snapshot.Sequence)
	}
}

func TestEventLog_Empty(t *testing.T) {
	log := NewEventLog(3)
	assert.Nil(t, log.Latest())
	assert.Nil(t, log.Oldest())
	assert.Nil(t, log.Get(0))
	_, _, ok := log.RetainedRange()
	assert.False(t, ok)
	assert.Empty(t, log.Retained())
}

func TestEventLog_Reset(t *testing.T) {
	log := NewEventLog(3)
	log.Push(&debugger.ExecutionSnapshot{Line: 1})
	log.Push(&debugger.ExecutionSnapshot{Line: 2})
	log.Reset()
	assert.Equal(t, 0, log.Count())
	assert.Nil(t, log.Latest())
	// 序号重新从0开始
	assert.Equal(t, int64(0), log.Push(&debugger.ExecutionSnapshot{Line: 3}))
}
