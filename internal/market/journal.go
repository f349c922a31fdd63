package market

// journal records how to undo each mutation made during an operation so a
// failed operation leaves no trace.
type journal struct {
	undo []func()
}

func (j *journal) append(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) length() int {
	return len(j.undo)
}

// revert undoes every mutation recorded after the given length, newest
// first.
func (j *journal) revert(to int) {
	for i := len(j.undo) - 1; i >= to; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:to]
}

func (j *journal) reset() {
	j.undo = j.undo[:0]
}

func setEntry[K comparable, V any](j *journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	j.append(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func deleteEntry[K comparable, V any](j *journal, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	j.append(func() { m[k] = prev })
	delete(m, k)
}

func setField[T any](j *journal, p *T, v T) {
	prev := *p
	j.append(func() { *p = prev })
	*p = v
}
