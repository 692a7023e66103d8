package txn

import (
	"weak"

	"github.com/hashicorp/go-multierror"
)

// entry is a registered cursor. The cursor is referenced weakly, its engine
// rows strongly: rows of a cursor dropped by the application stay reachable
// until the registry closes them.
type entry struct {
	cursor weak.Pointer[Cursor]
	rows   Rows
	epoch  uint64
}

// registry tracks cursors with a pending result set and the epoch it started in.
type registry struct {
	entries map[uint64]entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint64]entry)}
}

func (r *registry) register(c *Cursor, epoch uint64) {
	c.epoch = epoch
	r.entries[c.id] = entry{cursor: weak.Make(c), rows: c.rows, epoch: epoch}
}

func (r *registry) unregister(c *Cursor) {
	delete(r.entries, c.id)
}

// invalidateEpoch resets every cursor whose result set started in epoch and
// closes the rows of cursors that were dropped. It returns how many were reset.
func (r *registry) invalidateEpoch(epoch uint64) int {
	n := 0
	for id, e := range r.entries {
		c := e.cursor.Value()
		if c == nil {
			_ = e.rows.Close()
			delete(r.entries, id)
			continue
		}
		if e.epoch != epoch {
			continue
		}
		c.reset()
		delete(r.entries, id)
		n++
	}
	return n
}

// closeAll closes the pending result sets of all registered cursors.
func (r *registry) closeAll() error {
	var result *multierror.Error
	for id, e := range r.entries {
		if err := e.rows.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if c := e.cursor.Value(); c != nil {
			c.rows = nil
			c.state = CursorClosed
		}
		delete(r.entries, id)
	}
	return result.ErrorOrNil()
}

func (r *registry) len() int {
	return len(r.entries)
}
