package ether_debugger

import (
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	. "github.com/fansqz/ether-debugger/debugger"
)

// BreakpointStore 按文件记录断点，每个文件内保持插入顺序
// 同一行允许存在多个断点，需要单行单断点的调用方自己去重
// 对外返回的都是断点的拷贝，断点本身只在store内部修改
type BreakpointStore struct {
	mu     sync.Mutex
	nextID int
	// files 文件路径 -> *arraylist.List(*Breakpoint)
	files *linkedhashmap.Map
	// onVerified 断点第一次被命中时回调，每个断点最多回调一次
	onVerified func(bp *Breakpoint)
}

func NewBreakpointStore(onVerified func(bp *Breakpoint)) *BreakpointStore {
	return &BreakpointStore{
		nextID:     1,
		files:      linkedhashmap.New(),
		onVerified: onVerified,
	}
}

// Set 分配新的id并添加一个未验证的断点
func (s *BreakpointStore) Set(file string, line int) *Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp := &Breakpoint{ID: s.nextID, File: file, Line: line}
	s.nextID++
	list, ok := s.list(file)
	if !ok {
		list = arraylist.New()
		s.files.Put(file, list)
	}
	list.Add(bp)
	return copyBreakpoint(bp)
}

// Clear 移除该行的第一个断点
func (s *BreakpointStore) Clear(file string, line int) *Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.list(file)
	if !ok {
		return nil
	}
	index, value := list.Find(func(_ int, value interface{}) bool {
		return value.(*Breakpoint).Line == line
	})
	if index < 0 {
		return nil
	}
	list.Remove(index)
	return copyBreakpoint(value.(*Breakpoint))
}

// ClearAll 移除文件的所有断点，文件没有断点时什么也不做
func (s *BreakpointStore) ClearAll(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files.Remove(file)
}

// Query 返回该行的所有断点
func (s *BreakpointStore) Query(file string, line int) []*Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.list(file)
	if !ok {
		return nil
	}
	var answer []*Breakpoint
	list.Each(func(_ int, value interface{}) {
		if bp := value.(*Breakpoint); bp.Line == line {
			answer = append(answer, copyBreakpoint(bp))
		}
	})
	return answer
}

// List 返回文件的所有断点
func (s *BreakpointStore) List(file string) []*Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.list(file)
	if !ok {
		return nil
	}
	answer := make([]*Breakpoint, 0, list.Size())
	list.Each(func(_ int, value interface{}) {
		answer = append(answer, copyBreakpoint(value.(*Breakpoint)))
	})
	return answer
}

// Files 返回存在断点记录的文件，按第一次添加的顺序
func (s *BreakpointStore) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make([]string, 0, s.files.Size())
	for _, key := range s.files.Keys() {
		files = append(files, key.(string))
	}
	return files
}

// MarkVerified 将断点标记为已验证，只有第一次调用会返回true并触发onVerified
func (s *BreakpointStore) MarkVerified(bp *Breakpoint) bool {
	s.mu.Lock()
	target := s.find(bp.File, bp.ID)
	if target == nil || target.Verified {
		s.mu.Unlock()
		return false
	}
	target.Verified = true
	verified := copyBreakpoint(target)
	s.mu.Unlock()

	if s.onVerified != nil {
		s.onVerified(verified)
	}
	return true
}

func (s *BreakpointStore) list(file string) (*arraylist.List, bool) {
	value, ok := s.files.Get(file)
	if !ok {
		return nil, false
	}
	return value.(*arraylist.List), true
}

func (s *BreakpointStore) find(file string, id int) *Breakpoint {
	list, ok := s.list(file)
	if !ok {
		return nil
	}
	_, value := list.Find(func(_ int, value interface{}) bool {
		return value.(*Breakpoint).ID == id
	})
	if value == nil {
		return nil
	}
	return value.(*Breakpoint)
}

func copyBreakpoint(bp *Breakpoint) *Breakpoint {
	answer := *bp
	return &answer
}
