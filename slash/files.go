package slash

import (
	"sync"

	"github.com/dendrascience/slashfs/engine"
	"golang.org/x/sys/unix"
)

// HandleID is the caller-opaque token of an open file or directory.
type HandleID uint64

// DefaultMaxOpenFiles caps a FileTable when no limit is configured.
const DefaultMaxOpenFiles = 1 << 16

type openFile struct {
	obj   engine.Object
	flags engine.FileFlag
}

// FileTable maps handles to the object reference and flags of each open.
type FileTable struct {
	mu    sync.Mutex
	next  HandleID
	max   int
	files map[HandleID]*openFile
}

// NewFileTable returns a table holding at most limit opens.
func NewFileTable(limit int) *FileTable {
	if limit <= 0 {
		limit = DefaultMaxOpenFiles
	}
	return &FileTable{max: limit, files: make(map[HandleID]*openFile)}
}

// Len returns the number of live handles.
func (t *FileTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// acquire stores obj, taking over the caller's reference.
func (t *FileTable) acquire(obj engine.Object, flags engine.FileFlag) (HandleID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.files) >= t.max {
		return 0, unix.ENOMEM
	}
	t.next++
	for t.next == 0 || t.files[t.next] != nil {
		t.next++
	}
	t.files[t.next] = &openFile{obj: obj, flags: flags}
	return t.next, nil
}

// use returns the open behind h with an extra reference on its object, so
// a concurrent release cannot free it mid-operation. The handle must belong
// to object id.
func (t *FileTable) use(eng engine.Engine, h HandleID, id engine.ObjectID) (*objRef, engine.FileFlag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[h]
	if !ok || of.obj.ID() != id {
		return nil, 0, unix.EBADF
	}
	eng.Hold(of.obj)
	return &objRef{eng: eng, obj: of.obj}, of.flags, nil
}

// remove forgets h and hands its reference to the caller.
func (t *FileTable) remove(h HandleID, id engine.ObjectID) (*openFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[h]
	if !ok || of.obj.ID() != id {
		return nil, unix.EBADF
	}
	delete(t.files, h)
	return of, nil
}
