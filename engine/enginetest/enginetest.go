// Package enginetest wraps an engine.Engine to count object references and
// inject failures into primitives.
package enginetest

import (
	"iter"
	"sync"

	"github.com/dendrascience/slashfs/engine"
	"golang.org/x/sys/unix"
)

// Engine counts every reference it hands out or takes back and can fail
// the N-th fallible primitive. Hold, Release, Exit and Close never fail.
type Engine struct {
	engine.Engine

	mu     sync.Mutex
	refs   map[engine.ObjectID]int
	calls  int
	failAt int
	err    error
	failOn map[string]error
}

// Wrap returns a counting wrapper around eng.
func Wrap(eng engine.Engine) *Engine {
	return &Engine{Engine: eng, refs: make(map[engine.ObjectID]int)}
}

// FailAt makes the n-th fallible primitive from now on return err. n of 0
// disables injection.
func (e *Engine) FailAt(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = 0
	e.failAt = n
	e.err = err
}

// FailOn makes every call of the named primitive return err until cleared
// with a nil err.
func (e *Engine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOn == nil {
		e.failOn = make(map[string]error)
	}
	if err == nil {
		delete(e.failOn, op)
		return
	}
	e.failOn[op] = err
}

// Calls returns how many fallible primitives ran since the last FailAt.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Outstanding returns the number of references currently held through the
// wrapper.
func (e *Engine) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.refs {
		n += c
	}
	return n
}

// Held returns the references currently held on id.
func (e *Engine) Held(id engine.ObjectID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs[id]
}

func (e *Engine) inject(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.failOn[op]; ok {
		return err
	}
	e.calls++
	if e.failAt > 0 && e.calls == e.failAt {
		if e.err != nil {
			return e.err
		}
		return unix.EIO
	}
	return nil
}

func (e *Engine) track(obj engine.Object, err error) (engine.Object, error) {
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.refs[obj.ID()]++
	e.mu.Unlock()
	return obj, nil
}

func (e *Engine) Enter() error {
	if err := e.inject("Enter"); err != nil {
		return err
	}
	return e.Engine.Enter()
}

func (e *Engine) Get(id engine.ObjectID) (engine.Object, error) {
	if err := e.inject("Get"); err != nil {
		return nil, err
	}
	return e.track(e.Engine.Get(id))
}

func (e *Engine) Hold(obj engine.Object) {
	e.Engine.Hold(obj)
	e.mu.Lock()
	e.refs[obj.ID()]++
	e.mu.Unlock()
}

func (e *Engine) Release(obj engine.Object) {
	e.mu.Lock()
	e.refs[obj.ID()]--
	if e.refs[obj.ID()] < 0 {
		e.mu.Unlock()
		panic("enginetest: release without matching hold")
	}
	if e.refs[obj.ID()] == 0 {
		delete(e.refs, obj.ID())
	}
	e.mu.Unlock()
	e.Engine.Release(obj)
}

func (e *Engine) Lookup(dir engine.Object, name string, cred engine.Cred) (engine.Object, error) {
	if err := e.inject("Lookup"); err != nil {
		return nil, err
	}
	return e.track(e.Engine.Lookup(dir, name, cred))
}

func (e *Engine) GetAttr(obj engine.Object, va *engine.VAttr, cred engine.Cred) error {
	if err := e.inject("GetAttr"); err != nil {
		return err
	}
	return e.Engine.GetAttr(obj, va, cred)
}

func (e *Engine) SetAttr(obj engine.Object, va *engine.VAttr, flags engine.SetAttrFlag, cred engine.Cred) error {
	if err := e.inject("SetAttr"); err != nil {
		return err
	}
	return e.Engine.SetAttr(obj, va, flags, cred)
}

func (e *Engine) Access(obj engine.Object, mode engine.AccessMode, cred engine.Cred) error {
	if err := e.inject("Access"); err != nil {
		return err
	}
	return e.Engine.Access(obj, mode, cred)
}

func (e *Engine) Open(obj engine.Object, flags engine.FileFlag, cred engine.Cred) error {
	if err := e.inject("Open"); err != nil {
		return err
	}
	return e.Engine.Open(obj, flags, cred)
}

func (e *Engine) Create(dir engine.Object, name string, va *engine.VAttr, excl bool, mode engine.AccessMode, cred engine.Cred) (engine.Object, error) {
	if err := e.inject("Create"); err != nil {
		return nil, err
	}
	return e.track(e.Engine.Create(dir, name, va, excl, mode, cred))
}

func (e *Engine) Mkdir(dir engine.Object, name string, va *engine.VAttr, cred engine.Cred) (engine.Object, error) {
	if err := e.inject("Mkdir"); err != nil {
		return nil, err
	}
	return e.track(e.Engine.Mkdir(dir, name, va, cred))
}

func (e *Engine) Symlink(dir engine.Object, name string, va *engine.VAttr, target string, cred engine.Cred) error {
	if err := e.inject("Symlink"); err != nil {
		return err
	}
	return e.Engine.Symlink(dir, name, va, target, cred)
}

func (e *Engine) Readlink(obj engine.Object, uio *engine.UIO, cred engine.Cred) error {
	if err := e.inject("Readlink"); err != nil {
		return err
	}
	return e.Engine.Readlink(obj, uio, cred)
}

func (e *Engine) Link(dir engine.Object, src engine.Object, name string, cred engine.Cred) error {
	if err := e.inject("Link"); err != nil {
		return err
	}
	return e.Engine.Link(dir, src, name, cred)
}

func (e *Engine) Rename(srcDir engine.Object, srcName string, dstDir engine.Object, dstName string, cred engine.Cred) error {
	if err := e.inject("Rename"); err != nil {
		return err
	}
	return e.Engine.Rename(srcDir, srcName, dstDir, dstName, cred)
}

func (e *Engine) Remove(dir engine.Object, name string, cred engine.Cred) error {
	if err := e.inject("Remove"); err != nil {
		return err
	}
	return e.Engine.Remove(dir, name, cred)
}

func (e *Engine) Rmdir(dir engine.Object, name string, cred engine.Cred) error {
	if err := e.inject("Rmdir"); err != nil {
		return err
	}
	return e.Engine.Rmdir(dir, name, cred)
}

func (e *Engine) Read(obj engine.Object, uio *engine.UIO, flags engine.FileFlag, cred engine.Cred) error {
	if err := e.inject("Read"); err != nil {
		return err
	}
	return e.Engine.Read(obj, uio, flags, cred)
}

func (e *Engine) Write(obj engine.Object, uio *engine.UIO, flags engine.FileFlag, cred engine.Cred) error {
	if err := e.inject("Write"); err != nil {
		return err
	}
	return e.Engine.Write(obj, uio, flags, cred)
}

func (e *Engine) ReadDir(dir engine.Object, offset int64, cred engine.Cred) iter.Seq2[engine.DirEntry, error] {
	if err := e.inject("ReadDir"); err != nil {
		return func(yield func(engine.DirEntry, error) bool) {
			yield(engine.DirEntry{}, err)
		}
	}
	return e.Engine.ReadDir(dir, offset, cred)
}

func (e *Engine) Space(obj engine.Object, start int64, flags engine.FileFlag, cred engine.Cred) error {
	if err := e.inject("Space"); err != nil {
		return err
	}
	return e.Engine.Space(obj, start, flags, cred)
}

func (e *Engine) Fsync(obj engine.Object, flags engine.FileFlag, cred engine.Cred) error {
	if err := e.inject("Fsync"); err != nil {
		return err
	}
	return e.Engine.Fsync(obj, flags, cred)
}

func (e *Engine) StatFS() (engine.FSStat, error) {
	if err := e.inject("StatFS"); err != nil {
		return engine.FSStat{}, err
	}
	return e.Engine.StatFS()
}

func (e *Engine) Unmount(force bool) error {
	if err := e.inject("Unmount"); err != nil {
		return err
	}
	return e.Engine.Unmount(force)
}
