package utils

import "sync"

// StatusManager 记录调试器或连接的状态
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager(initial string) *StatusManager {
	return &StatusManager{
		status: initial,
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

// Transition 只有当前状态属于from时才切换到to，返回是否切换成功
func (s *StatusManager) Transition(to string, from ...string) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}
