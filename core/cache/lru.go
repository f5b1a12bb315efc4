package cache

import (
	"container/list"
	"sync"
)

type lruEntry struct {
	key string
	val any
}

// LRU is a fixed-size least-recently-used cache.
type LRU struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU(size int) *LRU {
	if size <= 0 {
		size = 128
	}
	return &LRU{
		size:  size,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		return ele.Value.(*lruEntry).val, true
	}
	return nil, false
}

func (l *LRU) Put(key string, val any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		ele.Value.(*lruEntry).val = val
		return
	}
	ele := l.ll.PushFront(&lruEntry{key: key, val: val})
	l.items[key] = ele
	if l.ll.Len() > l.size {
		oldest := l.ll.Back()
		if oldest != nil {
			l.ll.Remove(oldest)
			delete(l.items, oldest.Value.(*lruEntry).key)
		}
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.Remove(ele)
		delete(l.items, key)
	}
}

var _ Cache = (*LRU)(nil)
