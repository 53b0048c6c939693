package badgerfs

import (
	"fmt"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sys/unix"
)

// vnode is the in-memory, reference counted face of an object.
type vnode struct {
	id  engine.ObjectID
	gen uint64
	typ engine.ObjectType

	refs  int
	opens int

	// unlinked is set once the last name is gone; the record is reclaimed
	// on the final Release.
	unlinked bool
}

func (v *vnode) ID() engine.ObjectID     { return v.id }
func (v *vnode) Generation() uint64      { return v.gen }
func (v *vnode) Type() engine.ObjectType { return v.typ }

func asVnode(obj engine.Object) *vnode {
	v, ok := obj.(*vnode)
	if !ok {
		panic(fmt.Sprintf("badgerfs: foreign object %T", obj))
	}
	return v
}

// Get resolves id to a held object. An object whose last link is gone but
// which is still being torn down yields EEXIST.
func (e *Engine) Get(id engine.ObjectID) (engine.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.vnodes[id]; ok {
		if v.unlinked {
			return nil, unix.EEXIST
		}
		v.refs++
		return v, nil
	}
	var rec *objectRecord
	err := e.view(func(txn *badger.Txn) error {
		var err error
		rec, err = loadObject(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.Nlink == 0 {
		return nil, unix.EEXIST
	}
	return e.installLocked(id, rec), nil
}

// installLocked returns a held vnode for a live record. e.mu must be held.
func (e *Engine) installLocked(id engine.ObjectID, rec *objectRecord) *vnode {
	if v, ok := e.vnodes[id]; ok {
		v.refs++
		return v
	}
	v := &vnode{id: id, gen: rec.Gen, typ: rec.Type, refs: 1}
	e.vnodes[id] = v
	return v
}

// Hold adds a reference to obj.
func (e *Engine) Hold(obj engine.Object) {
	v := asVnode(obj)
	e.mu.Lock()
	defer e.mu.Unlock()
	v.refs++
}

// Release drops a reference. The last reference to an unlinked object
// reclaims its record and data.
func (e *Engine) Release(obj engine.Object) {
	v := asVnode(obj)
	e.mu.Lock()
	defer e.mu.Unlock()
	v.refs--
	switch {
	case v.refs > 0:
		return
	case v.refs < 0:
		panic(fmt.Sprintf("badgerfs: release of unheld object %d", v.id))
	}
	delete(e.vnodes, v.id)
	if !v.unlinked || e.closed.Load() {
		return
	}
	if err := e.update(func(txn *badger.Txn) error {
		return destroyObject(txn, v.id)
	}); err != nil {
		panic(fmt.Sprintf("badgerfs: reclaim object %d: %v", v.id, err))
	}
}

// held reports whether id has an in-memory vnode. e.mu must be held.
func (e *Engine) held(id engine.ObjectID) (*vnode, bool) {
	v, ok := e.vnodes[id]
	return v, ok
}

// destroyObject removes an object record and all of its data blocks.
func destroyObject(txn *badger.Txn, id engine.ObjectID) error {
	if err := freeBlocks(txn, id, 0); err != nil {
		return err
	}
	if err := txn.Delete(objectKey(id)); err != nil {
		return ioError(err)
	}
	return nil
}
