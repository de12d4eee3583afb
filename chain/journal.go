package chain

// journal records undo closures for every state write so a failed
// transaction can be rolled back to a snapshot.
type journal struct {
	entries []func()
}

func (j *journal) append(undo func()) {
	j.entries = append(j.entries, undo)
}

func (j *journal) snapshot() int {
	return len(j.entries)
}

// revert undoes all writes made after snapshot id, newest first.
func (j *journal) revert(id int) {
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:id]
}

func (j *journal) commit() {
	for i := range j.entries {
		j.entries[i] = nil
	}
	j.entries = j.entries[:0]
}

func (j *journal) length() int {
	return len(j.entries)
}
