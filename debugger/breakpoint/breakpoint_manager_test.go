package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_Add(t *testing.T) {
	m := NewManager()
	b := m.Add("main.x", 42, true)
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, "main.x", b.File)
	assert.Equal(t, 42, b.Line)
	assert.True(t, b.Verified)
	assert.True(t, b.Enabled)
	assert.Equal(t, 1, m.Count())
	// 重复添加不产生新断点，id不变
	b2 := m.Add("main.x", 42, true)
	assert.Equal(t, b.ID, b2.ID)
	assert.Equal(t, 1, m.Count())
	assert.Len(t, m.ListForFile("main.x"), 1)
	// 不可执行的行保留但不verified
	b3 := m.Add("main.x", 43, false)
	assert.Equal(t, 2, b3.ID)
	assert.False(t, b3.Verified)
	// 行号不合法不算错误，只是永远不会verified
	b4 := m.Add("main.x", 0, true)
	assert.False(t, b4.Verified)
	assert.Equal(t, 3, m.Count())
}

func TestManager_Remove(t *testing.T) {
	m := NewManager()
	m.Add("main.x", 1, true)
	m.Add("main.x", 2, true)
	assert.True(t, m.Remove("main.x", 1))
	assert.False(t, m.Remove("main.x", 1))
	assert.False(t, m.Remove("other.x", 2))
	assert.Equal(t, 1, m.Count())
	// 删除后重新添加会分配新的id
	b := m.Add("main.x", 1, true)
	assert.Equal(t, 3, b.ID)
}

func TestManager_SetEnabled(t *testing.T) {
	m := NewManager()
	m.Add("main.x", 5, true)
	assert.True(t, m.SetEnabled("main.x", 5, false))
	assert.False(t, m.SetEnabled("main.x", 6, false))
	list := m.ListForFile("main.x")
	assert.Len(t, list, 1)
	assert.False(t, list[0].Enabled)
	// 禁用的断点不出现在活跃行中
	assert.False(t, m.ActiveLines("main.x").Contains(5))
	assert.True(t, m.SetEnabled("main.x", 5, true))
	assert.True(t, m.ActiveLines("main.x").Contains(5))
}

func TestManager_ListForFile(t *testing.T) {
	m := NewManager()
	m.Add("main.x", 9, true)
	m.Add("main.x", 3, true)
	m.Add("main.x", 6, true)
	m.Add("other.x", 1, true)
	list := m.ListForFile("main.x")
	// 插入顺序
	assert.Len(t, list, 3)
	assert.Equal(t, 9, list[0].Line)
	assert.Equal(t, 3, list[1].Line)
	assert.Equal(t, 6, list[2].Line)
	// 返回的是副本，修改不影响内部状态
	list[0].Enabled = false
	assert.True(t, m.ListForFile("main.x")[0].Enabled)
	assert.Empty(t, m.ListForFile("missing.x"))
}

func TestManager_ActiveLines(t *testing.T) {
	m := NewManager()
	m.Add("main.x", 1, true)
	m.Add("main.x", 2, false)
	m.Add("main.x", 3, true)
	m.SetEnabled("main.x", 3, false)
	lines := m.ActiveLines("main.x")
	assert.True(t, lines.Contains(1))
	// 未verified和禁用的断点都不算活跃
	assert.False(t, lines.Contains(2))
	assert.False(t, lines.Contains(3))
	assert.True(t, m.IsActive("main.x", 1))
	assert.False(t, m.IsActive("main.x", 2))
	assert.False(t, m.IsActive("main.x", 3))
}

func TestManager_ReverifyFile(t *testing.T) {
	m := NewManager()
	m.Add("main.x", 1, true)
	m.Add("main.x", 2, true)
	m.Add("main.x", 3, false)
	// 第2行变得不可执行，第3行变得可执行
	changed := m.ReverifyFile("main.x", func(line int) bool {
		return line != 2
	})
	assert.Len(t, changed, 2)
	assert.Equal(t, 2, changed[0].Line)
	assert.False(t, changed[0].Verified)
	assert.Equal(t, 3, changed[1].Line)
	assert.True(t, changed[1].Verified)
	// 结果没有变化时不上报
	assert.Empty(t, m.ReverifyFile("main.x", func(line int) bool { return line != 2 }))
}

func TestManager_ClearAll(t *testing.T) {
	m := NewManager()
	m.Add("main.x", 1, true)
	m.Add("other.x", 2, true)
	assert.Len(t, m.Files(), 2)
	m.ClearAll()
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.Files())
}

func TestManager_FileKey(t *testing.T) {
	m := NewManager()
	// 客户端用文件名设置断点，执行侧用完整路径查询
	bp := m.Add("main.x", 4, true)
	assert.True(t, m.IsActive("/tmp/session/main.x", 4))
	assert.True(t, m.ActiveLines("/tmp/session/main.x").Contains(4))

	// 两种写法指向同一个断点
	same := m.Add("/tmp/session/main.x", 4, true)
	assert.Equal(t, bp.ID, same.ID)
	assert.Equal(t, 1, m.Count())

	assert.True(t, m.Remove("/tmp/session/main.x", 4))
	assert.False(t, m.IsActive("main.x", 4))
}
