package chain

type revision struct {
	id           int
	journalIndex int
}

// journal is an undo log with nested revisions, in the manner of the EVM
// state database: Snapshot marks a point, RevertToSnapshot undoes back to
// it, and Commit forgets the mark while keeping the changes revertible by
// any enclosing snapshot.
type journal struct {
	undo      []func()
	revisions []revision
	nextID    int
}

func (j *journal) append(fn func()) {
	if len(j.revisions) == 0 {
		// Nothing can revert this change.
		return
	}
	j.undo = append(j.undo, fn)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.revisions = append(j.revisions, revision{id: id, journalIndex: len(j.undo)})
	return id
}

func (j *journal) find(id int) int {
	for i := len(j.revisions) - 1; i >= 0; i-- {
		if j.revisions[i].id == id {
			return i
		}
	}
	return -1
}

func (j *journal) revert(id int) bool {
	idx := j.find(id)
	if idx < 0 {
		return false
	}
	to := j.revisions[idx].journalIndex
	for i := len(j.undo) - 1; i >= to; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:to]
	j.revisions = j.revisions[:idx]
	if len(j.revisions) == 0 {
		j.undo = nil
	}
	return true
}

func (j *journal) commit(id int) bool {
	idx := j.find(id)
	if idx < 0 {
		return false
	}
	j.revisions = j.revisions[:idx]
	if len(j.revisions) == 0 {
		j.undo = nil
	}
	return true
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
