package fusefs

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/dendrascience/slashfs/engine/badgerfs"
	"github.com/dendrascience/slashfs/slash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rootHeader = fuse.Header{Uid: 0, Gid: 0, Pid: 1}

func newTestFS(t *testing.T) (*FS, *Node) {
	t.Helper()
	eng, err := badgerfs.Format(badgerfs.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown() })
	f := New(slash.New(eng, slash.Options{}))
	root, err := f.Root()
	require.NoError(t, err)
	return f, root.(*Node)
}

// within fails the test if fn does not return in time.
func within(t *testing.T, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete - possible deadlock")
		return nil
	}
}

func create(t *testing.T, dir *Node, name string) (*Node, *Handle) {
	t.Helper()
	ctx := context.Background()
	req := &fuse.CreateRequest{
		Header: rootHeader,
		Name:   name,
		Flags:  fuse.OpenReadWrite | fuse.OpenCreate,
		Mode:   0o644,
		Umask:  0o022,
	}
	node, handle, err := dir.Create(ctx, req, &fuse.CreateResponse{})
	require.NoError(t, err)
	return node.(*Node), handle.(*Handle)
}

func TestRootAttr(t *testing.T) {
	_, root := newTestFS(t)

	var a fuse.Attr
	require.NoError(t, root.Attr(context.Background(), &a))
	assert.Equal(t, uint64(1), a.Inode)
	assert.Equal(t, os.ModeDir|0o755, a.Mode)
	assert.Equal(t, uint32(2), a.Nlink)
}

func TestCreateWriteRead(t *testing.T) {
	ctx := context.Background()
	_, root := newTestFS(t)

	node, h := create(t, root, "data.json")
	var a fuse.Attr
	require.NoError(t, node.Attr(ctx, &a))
	assert.Equal(t, os.FileMode(0o644), a.Mode)
	assert.Equal(t, node.ID().Fid, a.Inode)

	wresp := &fuse.WriteResponse{}
	err := h.Write(ctx, &fuse.WriteRequest{Header: rootHeader, Data: []byte(`{"v":1}`)}, wresp)
	require.NoError(t, err)
	assert.Equal(t, 7, wresp.Size)

	rresp := &fuse.ReadResponse{}
	err = h.Read(ctx, &fuse.ReadRequest{Header: rootHeader, Offset: 1, Size: 64}, rresp)
	require.NoError(t, err)
	assert.Equal(t, `"v":1}`, string(rresp.Data))

	require.NoError(t, h.Release(ctx, &fuse.ReleaseRequest{Header: rootHeader}))

	found, err := root.Lookup(ctx, &fuse.LookupRequest{Header: rootHeader, Name: "data.json"}, &fuse.LookupResponse{})
	require.NoError(t, err)
	assert.Equal(t, node.ID(), found.(*Node).ID())

	gresp := &fuse.GetattrResponse{}
	require.NoError(t, found.(*Node).Getattr(ctx, &fuse.GetattrRequest{Header: rootHeader}, gresp))
	assert.Equal(t, uint64(7), gresp.Attr.Size)
}

func TestReadDirectory(t *testing.T) {
	ctx := context.Background()
	_, root := newTestFS(t)

	for _, name := range []string{"a", "b", "c"} {
		_, h := create(t, root, name)
		require.NoError(t, h.Release(ctx, &fuse.ReleaseRequest{Header: rootHeader}))
	}
	_, err := root.Mkdir(ctx, &fuse.MkdirRequest{Header: rootHeader, Name: "sub", Mode: os.ModeDir | 0o777, Umask: 0o022})
	require.NoError(t, err)

	dh, err := root.Open(ctx, &fuse.OpenRequest{Header: rootHeader, Dir: true}, &fuse.OpenResponse{})
	require.NoError(t, err)
	h := dh.(*Handle)

	names := make(map[string]uint32)
	offset := int64(0)
	for range 10 {
		resp := &fuse.ReadResponse{}
		err := h.Read(ctx, &fuse.ReadRequest{Header: rootHeader, Dir: true, Offset: offset, Size: 80}, resp)
		require.NoError(t, err)
		if len(resp.Data) == 0 {
			break
		}
		ents, err := slash.DecodeDirents(resp.Data)
		require.NoError(t, err)
		for _, ent := range ents {
			names[ent.Name] = ent.Type
		}
		offset = ents[len(ents)-1].Off
	}
	assert.Len(t, names, 6)
	assert.Equal(t, uint32(syscall.S_IFDIR>>12), names["sub"])
	assert.Equal(t, uint32(syscall.S_IFREG>>12), names["a"])
	require.NoError(t, h.Release(ctx, &fuse.ReleaseRequest{Header: rootHeader, Dir: true}))
}

// TestSetattrDoesNotDeadlock truncates through the node's open write
// handle, which takes the node lock before the mount does any work.
func TestSetattrDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	_, root := newTestFS(t)
	node, h := create(t, root, "test.json")
	defer h.Release(ctx, &fuse.ReleaseRequest{Header: rootHeader})

	err := h.Write(ctx, &fuse.WriteRequest{Header: rootHeader, Data: []byte("test data")}, &fuse.WriteResponse{})
	require.NoError(t, err)

	newTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	req := &fuse.SetattrRequest{
		Header: rootHeader,
		Valid:  fuse.SetattrSize | fuse.SetattrHandle | fuse.SetattrMtime,
		Size:   2,
		Mtime:  newTime,
	}
	resp := &fuse.SetattrResponse{}
	err = within(t, func() error { return node.Setattr(ctx, req, resp) })
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.Attr.Size)
	assert.True(t, resp.Attr.Mtime.Equal(newTime))

	rresp := &fuse.ReadResponse{}
	require.NoError(t, h.Read(ctx, &fuse.ReadRequest{Header: rootHeader, Size: 16}, rresp))
	assert.Equal(t, "te", string(rresp.Data))
}

func TestErrorsReachTheKernelAsErrno(t *testing.T) {
	ctx := context.Background()
	_, root := newTestFS(t)

	_, err := root.Lookup(ctx, &fuse.LookupRequest{Header: rootHeader, Name: "missing"}, &fuse.LookupResponse{})
	assert.Equal(t, fuse.Errno(syscall.ENOENT), err)

	sub, err := root.Mkdir(ctx, &fuse.MkdirRequest{Header: rootHeader, Name: "d", Mode: os.ModeDir | 0o755})
	require.NoError(t, err)
	_, h := create(t, sub.(*Node), "child")
	require.NoError(t, h.Release(ctx, &fuse.ReleaseRequest{Header: rootHeader}))

	err = root.Remove(ctx, &fuse.RemoveRequest{Header: rootHeader, Name: "d", Dir: true})
	assert.Equal(t, fuse.Errno(syscall.ENOTEMPTY), err)

	user := fuse.Header{Uid: 1000, Gid: 1000}
	_, err = root.Mkdir(ctx, &fuse.MkdirRequest{Header: user, Name: "nope", Mode: os.ModeDir | 0o755})
	assert.Equal(t, fuse.Errno(syscall.EACCES), err)

	node := sub.(*Node)
	assert.Equal(t, fuse.Errno(syscall.EBADF), node.Fsync(ctx, &fuse.FsyncRequest{Header: rootHeader}))
}

func TestNamespaceOperations(t *testing.T) {
	ctx := context.Background()
	_, root := newTestFS(t)

	file, h := create(t, root, "orig")
	require.NoError(t, file.Fsync(ctx, &fuse.FsyncRequest{Header: rootHeader, Flags: 1}))
	require.NoError(t, h.Release(ctx, &fuse.ReleaseRequest{Header: rootHeader}))

	sub, err := root.Mkdir(ctx, &fuse.MkdirRequest{Header: rootHeader, Name: "sub", Mode: os.ModeDir | 0o755})
	require.NoError(t, err)

	linked, err := sub.(*Node).Link(ctx, &fuse.LinkRequest{Header: rootHeader, NewName: "hard"}, file)
	require.NoError(t, err)
	assert.Equal(t, file.ID(), linked.(*Node).ID())

	sym, err := root.Symlink(ctx, &fuse.SymlinkRequest{Header: rootHeader, NewName: "sym", Target: "sub/hard"})
	require.NoError(t, err)
	target, err := sym.(*Node).Readlink(ctx, &fuse.ReadlinkRequest{Header: rootHeader})
	require.NoError(t, err)
	assert.Equal(t, "sub/hard", target)

	require.NoError(t, root.Rename(ctx, &fuse.RenameRequest{Header: rootHeader, OldName: "orig", NewName: "moved"}, sub))
	_, err = sub.(*Node).Lookup(ctx, &fuse.LookupRequest{Header: rootHeader, Name: "moved"}, &fuse.LookupResponse{})
	require.NoError(t, err)

	require.NoError(t, sub.(*Node).Remove(ctx, &fuse.RemoveRequest{Header: rootHeader, Name: "moved"}))
	require.NoError(t, sub.(*Node).Remove(ctx, &fuse.RemoveRequest{Header: rootHeader, Name: "hard"}))
	require.NoError(t, root.Remove(ctx, &fuse.RemoveRequest{Header: rootHeader, Name: "sub", Dir: true}))

	_, err = root.Lookup(ctx, &fuse.LookupRequest{Header: rootHeader, Name: "sub"}, &fuse.LookupResponse{})
	assert.Equal(t, fuse.Errno(syscall.ENOENT), err)
}

func TestStatfsAndDestroy(t *testing.T) {
	ctx := context.Background()
	f, root := newTestFS(t)

	resp := &fuse.StatfsResponse{}
	require.NoError(t, f.Statfs(ctx, &fuse.StatfsRequest{Header: rootHeader}, resp))
	assert.Equal(t, resp.Frsize, resp.Bsize)
	assert.Equal(t, uint32(255), resp.Namelen)

	err := within(t, func() error {
		f.Destroy()
		f.Destroy()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, fuse.Errno(syscall.EIO), root.Getattr(ctx, &fuse.GetattrRequest{Header: rootHeader}, &fuse.GetattrResponse{}))
}

func TestModeConversion(t *testing.T) {
	tests := []struct {
		mode uint32
		want os.FileMode
	}{
		{syscall.S_IFREG | 0o644, 0o644},
		{syscall.S_IFDIR | 0o755, os.ModeDir | 0o755},
		{syscall.S_IFLNK | 0o777, os.ModeSymlink | 0o777},
		{syscall.S_IFDIR | 0o1777, os.ModeDir | os.ModeSticky | 0o777},
		{syscall.S_IFREG | 0o4755, os.ModeSetuid | 0o755},
	}
	for _, tt := range tests {
		got := FileMode(tt.mode)
		if got != tt.want {
			t.Errorf("FileMode(%o) = %v, expected %v", tt.mode, got, tt.want)
		}
		if perm := permBits(got); perm != tt.mode&0o7777 {
			t.Errorf("permBits(%v) = %o, expected %o", got, perm, tt.mode&0o7777)
		}
	}
}
