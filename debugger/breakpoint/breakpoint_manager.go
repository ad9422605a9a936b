package breakpoint

import (
	"path/filepath"
	"sync"

	"github.com/emirpasic/gods/sets"

	"github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/utils"
)

// Manager 管理一次调试会话中的所有断点
// 纯数据管理，不产生任何副作用
// 执行协程每步读取，协议协程写入，读写需要并发安全
type Manager struct {
	lock sync.RWMutex
	// breakpoints 按文件分组的断点，组内保持插入顺序
	// 客户端用文件名设置断点，执行侧用完整路径查询，所以按文件名归组
	breakpoints map[string][]*debugger.Breakpoint
	// nextId 断点id，添加时分配，删除后不复用
	nextId int
}

// fileKey 同一个文件可能以文件名或完整路径出现，统一按文件名归组
func fileKey(file string) string {
	return filepath.Base(file)
}

func NewManager() *Manager {
	return &Manager{
		breakpoints: make(map[string][]*debugger.Breakpoint),
		nextId:      1,
	}
}

// Add 添加断点，一个(file, line)组合最多只有一个断点
// 重复添加时返回已有断点，id保持不变
// 行号不合法不算错误，只是永远不会verified
func (m *Manager) Add(file string, line int, verified bool) *debugger.Breakpoint {
	defer m.lock.Unlock()
	m.lock.Lock()
	key := fileKey(file)
	if b := m.find(key, line); b != nil {
		return copyBreakpoint(b)
	}
	b := debugger.NewBreakpoint(file, line)
	b.ID = m.nextId
	b.Verified = verified && line > 0
	m.nextId++
	m.breakpoints[key] = append(m.breakpoints[key], b)
	return copyBreakpoint(b)
}

// Remove 移除断点，断点存在并且被移除时返回true
func (m *Manager) Remove(file string, line int) bool {
	defer m.lock.Unlock()
	m.lock.Lock()
	key := fileKey(file)
	list := m.breakpoints[key]
	for i, b := range list {
		if b.Line == line {
			m.breakpoints[key] = append(list[:i], list[i+1:]...)
			if len(m.breakpoints[key]) == 0 {
				delete(m.breakpoints, key)
			}
			return true
		}
	}
	return false
}

// SetEnabled 启用或禁用断点，断点不存在时返回false
func (m *Manager) SetEnabled(file string, line int, enabled bool) bool {
	defer m.lock.Unlock()
	m.lock.Lock()
	b := m.find(fileKey(file), line)
	if b == nil {
		return false
	}
	b.Enabled = enabled
	return true
}

// ListForFile 获取某个文件中的断点，按插入顺序返回副本
func (m *Manager) ListForFile(file string) []*debugger.Breakpoint {
	defer m.lock.RUnlock()
	m.lock.RLock()
	list := m.breakpoints[fileKey(file)]
	result := make([]*debugger.Breakpoint, 0, len(list))
	for _, b := range list {
		result = append(result, copyBreakpoint(b))
	}
	return result
}

// Files 返回设置过断点的文件列表
func (m *Manager) Files() []string {
	defer m.lock.RUnlock()
	m.lock.RLock()
	files := make([]string, 0, len(m.breakpoints))
	for file := range m.breakpoints {
		files = append(files, file)
	}
	return files
}

// ClearAll 清空所有断点
func (m *Manager) ClearAll() {
	defer m.lock.Unlock()
	m.lock.Lock()
	m.breakpoints = make(map[string][]*debugger.Breakpoint)
}

// Count 当前断点总数
func (m *Manager) Count() int {
	defer m.lock.RUnlock()
	m.lock.RLock()
	count := 0
	for _, list := range m.breakpoints {
		count += len(list)
	}
	return count
}

// ActiveLines 某个文件中所有启用并且verified的断点行
// 返回的是一致的行号快照，不受后续修改影响
func (m *Manager) ActiveLines(file string) sets.Set {
	defer m.lock.RUnlock()
	m.lock.RLock()
	key := fileKey(file)
	lines := make([]int, 0, len(m.breakpoints[key]))
	for _, b := range m.breakpoints[key] {
		if b.Enabled && b.Verified {
			lines = append(lines, b.Line)
		}
	}
	return utils.List2set(lines)
}

// IsActive 某一行上是否有启用并且verified的断点
func (m *Manager) IsActive(file string, line int) bool {
	defer m.lock.RUnlock()
	m.lock.RLock()
	b := m.find(fileKey(file), line)
	return b != nil && b.Enabled && b.Verified
}

// ReverifyFile 重新校验某个文件中的断点，源文件变化后调用
// 返回verified发生变化的断点副本
func (m *Manager) ReverifyFile(file string, verify func(line int) bool) []*debugger.Breakpoint {
	defer m.lock.Unlock()
	m.lock.Lock()
	var changed []*debugger.Breakpoint
	for _, b := range m.breakpoints[fileKey(file)] {
		verified := b.Line > 0 && verify(b.Line)
		if b.Verified != verified {
			b.Verified = verified
			changed = append(changed, copyBreakpoint(b))
		}
	}
	return changed
}

func (m *Manager) find(key string, line int) *debugger.Breakpoint {
	for _, b := range m.breakpoints[key] {
		if b.Line == line {
			return b
		}
	}
	return nil
}

func copyBreakpoint(b *debugger.Breakpoint) *debugger.Breakpoint {
	c := *b
	return &c
}
