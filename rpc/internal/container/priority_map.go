package container

// Priority is the set of number types usable as a priority value.
type Priority interface{ ~int64 | ~float64 }

// PriorityMap is a map with a built-in array-backed binary heap, so the
// lowest-priority entry can always be found or removed without a scan.
// The response cache uses it to track both the expiry time and the
// eviction cost of every cached entry, ordered two different ways over
// the same key space.
//
// Unlike container/heap, the heap arithmetic lives directly on the
// entries slice: siftUp/siftDown take an index and walk parent/child
// offsets themselves, and Set/Delete call them directly instead of going
// through a heap.Interface. There's only ever one heap per PriorityMap,
// so there's no value in the extra indirection container/heap is built
// for.
type PriorityMap[K comparable, V any, P Priority] struct {
	entries []heapEntry[K, V, P]
	index   map[K]int
}

type heapEntry[K comparable, V any, P Priority] struct {
	key K
	val V
	pri P
}

// NewPriorityMap creates an empty PriorityMap.
func NewPriorityMap[K comparable, V any, P Priority]() PriorityMap[K, V, P] {
	return PriorityMap[K, V, P]{index: make(map[K]int)}
}

// Len returns the number of entries in the map.
func (p *PriorityMap[K, V, P]) Len() int {
	return len(p.entries)
}

// Get returns the value stored for key, if any.
func (p *PriorityMap[K, V, P]) Get(key K) (V, bool) {
	if i, ok := p.index[key]; ok {
		return p.entries[i].val, true
	}
	var zv V
	return zv, false
}

// Set stores val under key at the given priority, inserting a new entry
// or repositioning the existing one.
func (p *PriorityMap[K, V, P]) Set(key K, val V, pri P) {
	if i, ok := p.index[key]; ok {
		old := p.entries[i].pri
		p.entries[i].val = val
		p.entries[i].pri = pri
		switch {
		case pri < old:
			p.siftUp(i)
		case pri > old:
			p.siftDown(i)
		}
		return
	}

	p.entries = append(p.entries, heapEntry[K, V, P]{key: key, val: val, pri: pri})
	i := len(p.entries) - 1
	p.index[key] = i
	p.siftUp(i)
}

// Next returns the key and value with the lowest priority, without
// removing it.
func (p *PriorityMap[K, V, P]) Next() (K, V, bool) {
	if len(p.entries) == 0 {
		var zk K
		var zv V
		return zk, zv, false
	}
	e := p.entries[0]
	return e.key, e.val, true
}

// Delete removes key from the map.
func (p *PriorityMap[K, V, P]) Delete(key K) {
	i, ok := p.index[key]
	if !ok {
		return
	}
	delete(p.index, key)

	last := len(p.entries) - 1
	if i != last {
		p.moveTo(i, p.entries[last])
		p.entries = p.entries[:last]
		p.siftDown(i)
		p.siftUp(i)
		return
	}
	p.entries = p.entries[:last]
}

func (p *PriorityMap[K, V, P]) moveTo(i int, e heapEntry[K, V, P]) {
	p.entries[i] = e
	p.index[e.key] = i
}

func (p *PriorityMap[K, V, P]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !(p.entries[i].pri < p.entries[parent].pri) {
			return
		}
		p.swap(i, parent)
		i = parent
	}
}

func (p *PriorityMap[K, V, P]) siftDown(i int) {
	n := len(p.entries)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && p.entries[left].pri < p.entries[smallest].pri {
			smallest = left
		}
		if right < n && p.entries[right].pri < p.entries[smallest].pri {
			smallest = right
		}
		if smallest == i {
			return
		}
		p.swap(i, smallest)
		i = smallest
	}
}

func (p *PriorityMap[K, V, P]) swap(i, j int) {
	p.entries[i], p.entries[j] = p.entries[j], p.entries[i]
	p.index[p.entries[i].key] = i
	p.index[p.entries[j].key] = j
}
