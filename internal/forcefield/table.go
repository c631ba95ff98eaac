package forcefield

// Handle identifies a term for the lifetime of a potential. Handles are
// never reused, so a removed term cannot be confused with a later one.
type Handle int

// table keeps terms in insertion order behind stable handles.
type table[T any] struct {
	next  Handle
	order []Handle
	items map[Handle]T
}

func (t *table[T]) add(v T) Handle {
	if t.items == nil {
		t.items = make(map[Handle]T)
	}
	h := t.next
	t.next++
	t.items[h] = v
	t.order = append(t.order, h)
	return h
}

func (t *table[T]) get(h Handle) (T, bool) {
	v, ok := t.items[h]
	return v, ok
}

func (t *table[T]) remove(h Handle) (T, bool) {
	v, ok := t.items[h]
	if !ok {
		return v, false
	}
	delete(t.items, h)
	for i, o := range t.order {
		if o == h {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return v, true
}

func (t *table[T]) len() int { return len(t.order) }

func (t *table[T]) values() []T {
	out := make([]T, 0, len(t.order))
	for _, h := range t.order {
		out = append(out, t.items[h])
	}
	return out
}

func (t *table[T]) handles() []Handle {
	return append([]Handle(nil), t.order...)
}

func (t *table[T]) clone() table[T] {
	c := table[T]{next: t.next, order: append([]Handle(nil), t.order...)}
	if t.items != nil {
		c.items = make(map[Handle]T, len(t.items))
		for h, v := range t.items {
			c.items[h] = v
		}
	}
	return c
}
