package utils

import "sync"

const (
	// Init 调试初始化状态，程序尚未开始执行
	Init = "Init"
	// Running 用户程序运行中
	Running = "running"
	// Paused 用户程序暂停，停在某个执行单元的边界上
	Paused = "paused"
	// Stopped 用户程序已执行结束，历史记录仍可导航和重放
	Stopped = "stopped"
	// Finish 调试结束状态
	Finish = "finish"
)

// StatusManager 记录调试器的状态的
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
