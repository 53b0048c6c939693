package badgerfs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/dendrascience/slashfs/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var root = engine.RootCred

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Format(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func getRoot(t *testing.T, e *Engine) engine.Object {
	t.Helper()
	obj, err := e.Get(engine.RootID)
	require.NoError(t, err)
	t.Cleanup(func() { e.Release(obj) })
	return obj
}

func createFile(t *testing.T, e *Engine, dir engine.Object, name string) engine.Object {
	t.Helper()
	va := engine.VAttr{Mask: engine.AttrType | engine.AttrMode, Type: engine.TypeRegular, Mode: 0o644}
	obj, err := e.Create(dir, name, &va, true, engine.VWrite, root)
	require.NoError(t, err)
	return obj
}

func mkdir(t *testing.T, e *Engine, dir engine.Object, name string) engine.Object {
	t.Helper()
	va := engine.VAttr{Mask: engine.AttrType | engine.AttrMode, Type: engine.TypeDir, Mode: 0o755}
	obj, err := e.Mkdir(dir, name, &va, root)
	require.NoError(t, err)
	return obj
}

func getattr(t *testing.T, e *Engine, obj engine.Object) engine.VAttr {
	t.Helper()
	va := engine.VAttr{Mask: engine.AttrStat | engine.AttrNblocks | engine.AttrBlksize}
	require.NoError(t, e.GetAttr(obj, &va, root))
	return va
}

func TestFormatAndReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Open(Options{Path: dir})
	require.ErrorIs(t, err, ErrNotFormatted)

	e, err := Format(Options{Path: dir, RootUID: 1000, RootGID: 100})
	require.NoError(t, err)
	guid := e.GUID()
	r, err := e.Get(engine.RootID)
	require.NoError(t, err)
	f := createFile(t, e, r, "kept")
	e.Release(f)
	e.Release(r)
	require.NoError(t, e.Unmount(false))

	_, err = Format(Options{Path: dir})
	require.ErrorIs(t, err, ErrFormatted)

	e, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer e.Shutdown()
	assert.Equal(t, guid, e.GUID())

	r = getRoot(t, e)
	va := getattr(t, e, r)
	assert.Equal(t, engine.TypeDir, va.Type)
	assert.Equal(t, uint32(1000), va.UID)
	assert.Equal(t, uint32(100), va.GID)
	assert.Equal(t, uint64(rootGeneration), r.Generation())

	kept, err := e.Lookup(r, "kept", root)
	require.NoError(t, err)
	defer e.Release(kept)

	// Allocation resumes above the persisted high-water mark.
	next := createFile(t, e, r, "next")
	defer e.Release(next)
	assert.Greater(t, next.ID(), kept.ID())
	assert.Greater(t, next.Generation(), kept.Generation())
}

func TestCreateWriteRead(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)

	f := createFile(t, e, r, "f")
	defer e.Release(f)
	assert.Greater(t, f.ID(), engine.RootID)

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	uio := engine.NewUIO(3000, payload)
	require.NoError(t, e.Write(f, uio, engine.FWrite, root))
	assert.Zero(t, uio.Resid)
	assert.Equal(t, int64(3000+len(payload)), uio.Offset)

	va := getattr(t, e, f)
	assert.Equal(t, uint64(3000+len(payload)), va.Size)
	assert.Equal(t, uint32(BlockSize), va.Blksize)
	assert.Equal(t, uint32(1), va.Nlink)

	buf := make([]byte, 20000)
	uio = engine.NewUIO(0, buf)
	require.NoError(t, e.Read(f, uio, engine.FRead, root))
	n := len(buf) - uio.Resid
	require.Equal(t, 3000+len(payload), n)
	assert.Equal(t, make([]byte, 3000), buf[:3000])
	assert.Equal(t, payload, buf[3000:n])

	uio = engine.NewUIO(1<<20, make([]byte, 10))
	require.NoError(t, e.Read(f, uio, engine.FRead, root))
	assert.Equal(t, 10, uio.Resid)
}

func TestReadWriteNeedOpenMode(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)
	f := createFile(t, e, r, "f")
	defer e.Release(f)

	assert.ErrorIs(t, e.Write(f, engine.NewUIO(0, []byte("x")), engine.FRead, root), unix.EBADF)
	assert.ErrorIs(t, e.Read(f, engine.NewUIO(0, make([]byte, 1)), engine.FWrite, root), unix.EBADF)
	assert.ErrorIs(t, e.Read(r, engine.NewUIO(0, make([]byte, 1)), engine.FRead, root), unix.EISDIR)
}

func TestAppend(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)
	f := createFile(t, e, r, "log")
	defer e.Release(f)

	require.NoError(t, e.Write(f, engine.NewUIO(0, []byte("one ")), engine.FWrite, root))
	require.NoError(t, e.Write(f, engine.NewUIO(0, []byte("two")), engine.FWrite|engine.FAppend, root))

	buf := make([]byte, 16)
	uio := engine.NewUIO(0, buf)
	require.NoError(t, e.Read(f, uio, engine.FRead, root))
	assert.Equal(t, "one two", string(buf[:len(buf)-uio.Resid]))
}

func TestSpaceTruncatesAndExtends(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)
	f := createFile(t, e, r, "f")
	defer e.Release(f)

	data := bytes.Repeat([]byte{0xAB}, 3*BlockSize)
	require.NoError(t, e.Write(f, engine.NewUIO(0, data), engine.FWrite, root))

	require.ErrorIs(t, e.Space(f, 10, engine.FRead, root), unix.EBADF)
	require.ErrorIs(t, e.Space(r, 0, engine.FWrite, root), unix.EINVAL)

	require.NoError(t, e.Space(f, BlockSize+5, engine.FWrite, root))
	assert.Equal(t, uint64(BlockSize+5), getattr(t, e, f).Size)

	// Growing again must expose zeros, not the old bytes.
	require.NoError(t, e.Space(f, 2*BlockSize, engine.FWrite, root))
	buf := make([]byte, 2*BlockSize)
	uio := engine.NewUIO(0, buf)
	require.NoError(t, e.Read(f, uio, engine.FRead, root))
	assert.Equal(t, data[:BlockSize+5], buf[:BlockSize+5])
	assert.Equal(t, make([]byte, BlockSize-5), buf[BlockSize+5:])
}

func TestCreateExisting(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)
	f := createFile(t, e, r, "f")
	defer e.Release(f)
	require.NoError(t, e.Write(f, engine.NewUIO(0, []byte("data")), engine.FWrite, root))

	va := engine.VAttr{Mask: engine.AttrType | engine.AttrMode, Type: engine.TypeRegular, Mode: 0o600}
	_, err := e.Create(r, "f", &va, true, engine.VWrite, root)
	require.ErrorIs(t, err, unix.EEXIST)

	same, err := e.Create(r, "f", &va, false, engine.VWrite, root)
	require.NoError(t, err)
	assert.Equal(t, f.ID(), same.ID())
	assert.Equal(t, uint64(4), getattr(t, e, same).Size)
	e.Release(same)

	va.Mask |= engine.AttrSize
	trunc, err := e.Create(r, "f", &va, false, engine.VWrite, root)
	require.NoError(t, err)
	defer e.Release(trunc)
	after := getattr(t, e, trunc)
	assert.Zero(t, after.Size)
	assert.Equal(t, uint32(0o644), after.Mode, "truncation keeps the mode")

	d := mkdir(t, e, r, "d")
	defer e.Release(d)
	_, err = e.Create(r, "d", &va, false, engine.VWrite, root)
	assert.ErrorIs(t, err, unix.EISDIR)
}

func TestRmdir(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)

	d := mkdir(t, e, r, "d")
	f := createFile(t, e, d, "inner")
	e.Release(f)
	assert.Equal(t, uint32(3), getattr(t, e, r).Nlink)

	require.ErrorIs(t, e.Rmdir(r, "d", root), unix.EEXIST)
	require.ErrorIs(t, e.Rmdir(d, "inner", root), unix.ENOTDIR)
	require.ErrorIs(t, e.Remove(r, "d", root), unix.EISDIR)

	require.NoError(t, e.Remove(d, "inner", root))
	require.NoError(t, e.Rmdir(r, "d", root))
	assert.Equal(t, uint32(2), getattr(t, e, r).Nlink)

	// The held directory is gone from the namespace.
	_, err := e.Lookup(d, ".", root)
	assert.ErrorIs(t, err, unix.ENOENT)
	e.Release(d)

	_, err = e.Lookup(r, "d", root)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestUnlinkedButHeldIsBeingReclaimed(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)

	f := createFile(t, e, r, "f")
	id := f.ID()
	require.NoError(t, e.Write(f, engine.NewUIO(0, []byte("still here")), engine.FWrite, root))
	require.NoError(t, e.Remove(r, "f", root))

	_, err := e.Get(id)
	require.ErrorIs(t, err, unix.EEXIST)

	// The holder can still read the data.
	buf := make([]byte, 10)
	require.NoError(t, e.Read(f, engine.NewUIO(0, buf), engine.FRead, root))
	assert.Equal(t, "still here", string(buf))

	e.Release(f)
	_, err = e.Get(id)
	require.ErrorIs(t, err, unix.ENOENT)

	rep, err := e.Fsck()
	require.NoError(t, err)
	assert.Empty(t, rep.Problems)
	assert.Zero(t, rep.Blocks)
}

func TestLink(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)
	f := createFile(t, e, r, "a")
	defer e.Release(f)

	require.NoError(t, e.Link(r, f, "b", root))
	assert.Equal(t, uint32(2), getattr(t, e, f).Nlink)
	require.ErrorIs(t, e.Link(r, f, "b", root), unix.EEXIST)
	require.ErrorIs(t, e.Link(r, r, "self", root), unix.EPERM)

	b, err := e.Lookup(r, "b", root)
	require.NoError(t, err)
	assert.Equal(t, f.ID(), b.ID())
	e.Release(b)

	require.NoError(t, e.Remove(r, "a", root))
	assert.Equal(t, uint32(1), getattr(t, e, f).Nlink)
	again, err := e.Get(f.ID())
	require.NoError(t, err)
	e.Release(again)
}

func TestSymlink(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)

	va := engine.VAttr{Mask: engine.AttrType | engine.AttrMode, Type: engine.TypeSymlink, Mode: 0o777}
	require.NoError(t, e.Symlink(r, "ln", &va, "../target/file", root))

	ln, err := e.Lookup(r, "ln", root)
	require.NoError(t, err)
	defer e.Release(ln)
	assert.Equal(t, engine.TypeSymlink, ln.Type())

	buf := make([]byte, engine.MaxPathLen)
	uio := engine.NewUIO(0, buf)
	require.NoError(t, e.Readlink(ln, uio, root))
	assert.Equal(t, "../target/file", string(buf[:len(buf)-uio.Resid]))
	assert.Equal(t, uint32(0o777), getattr(t, e, ln).Mode)

	require.ErrorIs(t, e.Readlink(r, engine.NewUIO(0, buf), root), unix.EINVAL)
}

func TestRename(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)

	a := mkdir(t, e, r, "a")
	defer e.Release(a)
	b := mkdir(t, e, a, "b")
	defer e.Release(b)
	f := createFile(t, e, r, "f")
	defer e.Release(f)
	g := createFile(t, e, r, "g")
	gid := g.ID()
	e.Release(g)

	t.Run("into own subtree", func(t *testing.T) {
		assert.ErrorIs(t, e.Rename(r, "a", b, "a", root), unix.EINVAL)
	})

	t.Run("file over file", func(t *testing.T) {
		require.NoError(t, e.Rename(r, "f", r, "g", root))
		moved, err := e.Lookup(r, "g", root)
		require.NoError(t, err)
		assert.Equal(t, f.ID(), moved.ID())
		e.Release(moved)
		_, err = e.Get(gid)
		assert.ErrorIs(t, err, unix.ENOENT)
		_, err = e.Lookup(r, "f", root)
		assert.ErrorIs(t, err, unix.ENOENT)
	})

	t.Run("dir over non-empty dir", func(t *testing.T) {
		c := mkdir(t, e, r, "c")
		e.Release(c)
		assert.ErrorIs(t, e.Rename(r, "c", r, "a", root), unix.EEXIST)
		assert.ErrorIs(t, e.Rename(r, "g", r, "c", root), unix.EISDIR)
		assert.ErrorIs(t, e.Rename(r, "c", r, "g", root), unix.ENOTDIR)
	})

	t.Run("dir across parents", func(t *testing.T) {
		require.NoError(t, e.Rename(a, "b", r, "b", root))
		assert.Equal(t, uint32(2), getattr(t, e, a).Nlink)
		parent, err := e.Lookup(b, "..", root)
		require.NoError(t, err)
		assert.Equal(t, engine.RootID, parent.ID())
		e.Release(parent)
	})

	rep, err := e.Fsck()
	require.NoError(t, err)
	assert.Empty(t, rep.Problems)
}

func TestReadDirPaging(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)

	const count = 150
	for i := range count {
		e.Release(createFile(t, e, r, fmt.Sprintf("file-%03d", i)))
	}

	var all []engine.DirEntry
	for ent, err := range e.ReadDir(r, 0, root) {
		require.NoError(t, err)
		all = append(all, ent)
	}
	require.Len(t, all, count+2)
	assert.Equal(t, ".", all[0].Name)
	assert.Equal(t, "..", all[1].Name)
	assert.Equal(t, engine.RootID, all[1].ID)
	for i, ent := range all {
		assert.Equal(t, int64(i+1), ent.Offset)
	}

	// Resuming from any entry's offset continues with the next entry.
	resume := all[70].Offset
	var rest []engine.DirEntry
	for ent, err := range e.ReadDir(r, resume, root) {
		require.NoError(t, err)
		rest = append(rest, ent)
	}
	assert.Equal(t, all[71:], rest)

	f := createFile(t, e, r, "plain")
	defer e.Release(f)
	for _, err := range e.ReadDir(f, 0, root) {
		assert.ErrorIs(t, err, unix.ENOTDIR)
	}
}

func TestPermissions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	r := getRoot(t, e)
	user := engine.Cred{UID: 1000, GID: 1000}
	other := engine.Cred{UID: 2000, GID: 2000}
	member := engine.Cred{UID: 3000, GID: 3000, Groups: []uint32{1000}}

	_, err := e.Create(r, "nope", &engine.VAttr{Mode: 0o644}, true, engine.VWrite, user)
	require.ErrorIs(t, err, unix.EACCES)

	require.NoError(t, e.SetAttr(r, &engine.VAttr{Mask: engine.AttrMode, Mode: 0o777}, 0, root))
	f, err := e.Create(r, "mine", &engine.VAttr{Mode: 0o640}, true, engine.VWrite, user)
	require.NoError(t, err)
	defer e.Release(f)

	assert.NoError(t, e.Access(f, engine.VRead|engine.VWrite, user))
	assert.NoError(t, e.Access(f, engine.VRead, member))
	assert.ErrorIs(t, e.Access(f, engine.VWrite, member), unix.EACCES)
	assert.ErrorIs(t, e.Access(f, engine.VRead, other), unix.EACCES)
	assert.NoError(t, e.Access(f, engine.VRead|engine.VWrite, root))
	assert.ErrorIs(t, e.Access(f, engine.VExec, root), unix.EACCES)

	assert.ErrorIs(t, e.SetAttr(f, &engine.VAttr{Mask: engine.AttrMode, Mode: 0o777}, 0, other), unix.EPERM)
	assert.ErrorIs(t, e.SetAttr(f, &engine.VAttr{Mask: engine.AttrUID, UID: 1}, 0, user), unix.EPERM)
	assert.NoError(t, e.SetAttr(f, &engine.VAttr{Mask: engine.AttrGID, GID: 1000}, 0, user))
	assert.ErrorIs(t, e.SetAttr(f, &engine.VAttr{Mask: engine.AttrMtime}, engine.AttrUTime, member), unix.EPERM)
}

func TestUnmountBusy(t *testing.T) {
	t.Parallel()
	e, err := Format(Options{InMemory: true})
	require.NoError(t, err)

	r, err := e.Get(engine.RootID)
	require.NoError(t, err)
	require.ErrorIs(t, e.Unmount(false), unix.EBUSY)
	e.Release(r)

	require.NoError(t, e.Enter())
	require.ErrorIs(t, e.Unmount(false), unix.EBUSY)
	e.Exit()

	require.NoError(t, e.Unmount(false))
	require.ErrorIs(t, e.Enter(), unix.EIO)

	// a closed pool stays closed
	require.NoError(t, e.Unmount(false))
	require.NoError(t, e.Shutdown())
	require.ErrorIs(t, e.Enter(), unix.EIO)
}

func TestStatFS(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	st, err := e.StatFS()
	require.NoError(t, err)
	assert.Equal(t, uint32(BlockSize), st.FragmentSize)
	assert.Equal(t, uint64(DefaultCapacity/BlockSize), st.Blocks)
	assert.Equal(t, st.Files-1, st.FilesFree)
	assert.NotZero(t, st.FSID)
}
