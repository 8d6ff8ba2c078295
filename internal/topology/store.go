package topology

import "sync"

// Store 按注册顺序保存描述符，注册后不可修改，只能先 Unregister 再 Register。
type Store struct {
	mu      sync.RWMutex
	byID    map[string]int
	ordered []Descriptor
}

// NewStore 创建空的描述符存储。
func NewStore() *Store {
	return &Store{byID: make(map[string]int)}
}

// Register 校验并登记描述符，重复 ID 或越界模式返回 *ConfigError。
func (s *Store) Register(d Descriptor) error {
	compiled, err := d.compile()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[compiled.ID]; exists {
		return newConfigError(KindDuplicateID, compiled.ID, "already registered")
	}
	s.byID[compiled.ID] = len(s.ordered)
	s.ordered = append(s.ordered, compiled.clone())
	return nil
}

// Unregister 移除描述符，返回是否存在。
func (s *Store) Unregister(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.ordered = append(s.ordered[:idx], s.ordered[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.ordered); i++ {
		s.byID[s.ordered[i].ID] = i
	}
	return true
}

// Get 返回描述符副本。
func (s *Store) Get(id string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return s.ordered[idx].clone(), true
}

// List 按注册顺序返回描述符副本。
func (s *Store) List() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ordered) == 0 {
		return nil
	}
	result := make([]Descriptor, len(s.ordered))
	for i, d := range s.ordered {
		result[i] = d.clone()
	}
	return result
}

// Len 返回已注册的实例数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
