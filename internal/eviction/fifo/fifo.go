package fifo

import (
	"container/list"
	"sync"

	"github.com/lucasew/gallerycache/internal/eviction"
)

// FIFO implements eviction.Strategy by write order. Reads never reorder
// entries; a rewrite counts as a new write.
type FIFO struct {
	mu    sync.Mutex
	list  *list.List
	items map[string]*list.Element
}

type entry struct {
	key  string
	size int64
}

func init() {
	eviction.Register("fifo", func() eviction.Strategy {
		return New()
	})
}

func New() *FIFO {
	return &FIFO{
		list:  list.New(),
		items: make(map[string]*list.Element),
	}
}

func (f *FIFO) OnAdd(key string, size int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if elem, ok := f.items[key]; ok {
		f.list.MoveToFront(elem)
		ent := elem.Value.(*entry)
		oldSize := ent.size
		ent.size = size
		return size - oldSize
	}

	f.items[key] = f.list.PushFront(&entry{key: key, size: size})
	return size
}

func (f *FIFO) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if elem, ok := f.items[key]; ok {
		f.list.Remove(elem)
		delete(f.items, key)
	}
}

func (f *FIFO) Contains(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[key]
	return ok
}

func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.Len()
}

func (f *FIFO) Oldest(n int) []eviction.Victim {
	f.mu.Lock()
	defer f.mu.Unlock()

	var victims []eviction.Victim
	for elem := f.list.Back(); elem != nil && len(victims) < n; elem = elem.Prev() {
		ent := elem.Value.(*entry)
		victims = append(victims, eviction.Victim{Key: ent.key, Size: ent.size})
	}
	return victims
}

func (f *FIFO) GetVictims(currentSize int64, targetSize int64) []eviction.Victim {
	f.mu.Lock()
	defer f.mu.Unlock()

	var victims []eviction.Victim
	size := currentSize

	for elem := f.list.Back(); size > targetSize && elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*entry)
		victims = append(victims, eviction.Victim{Key: ent.key, Size: ent.size})
		size -= ent.size
	}

	return victims
}
