package fusefs

import (
	"context"
	"os"
	"sync"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/internal/logger"
	"github.com/dendrascience/slashfs/slash"
	"golang.org/x/sys/unix"
)

// FS implements the slashfs FUSE filesystem
type FS struct {
	mount   *slash.Mount
	destroy sync.Once
}

var (
	_ fs.FS          = (*FS)(nil)
	_ fs.FSStatfser  = (*FS)(nil)
	_ fs.FSDestroyer = (*FS)(nil)
)

// New returns a filesystem serving m.
func New(m *slash.Mount) *FS {
	return &FS{mount: m}
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return f.node(slash.FidGen{Fid: slash.RootID}, slash.Attributes{}), nil
}

func (f *FS) node(fg slash.FidGen, attr slash.Attributes) *Node {
	return &Node{fs: f, fid: fg, attr: attr, handles: make(map[*Handle]struct{})}
}

// Statfs reports pool capacity
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	st, err := f.mount.Statfs(requestContext(ctx, req.Header))
	if err != nil {
		return errno(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = st.Bsize
	resp.Frsize = st.Frsize
	resp.Namelen = st.Namemax
	return nil
}

// Destroy blocks until the engine unmounts cleanly. The kernel sends
// destroy only for some mounts, so the CLI calls it too after Serve
// returns; later calls do nothing.
func (f *FS) Destroy() {
	f.destroy.Do(func() {
		f.mount.Destroy(context.Background())
	})
}

// errno converts an adapter error for the kernel.
func errno(err error) error {
	if err == nil {
		return nil
	}
	return fuse.Errno(slash.Errno(err))
}

func credOf(h fuse.Header) engine.Cred {
	return engine.Cred{UID: h.Uid, GID: h.Gid}
}

func requestContext(ctx context.Context, h fuse.Header) context.Context {
	return logger.WithContext(ctx, &logger.LogContext{UID: h.Uid, GID: h.Gid, PID: h.Pid})
}

// FileMode converts a stat mode to an os.FileMode.
func FileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		m |= os.ModeDir
	case unix.S_IFLNK:
		m |= os.ModeSymlink
	case unix.S_IFIFO:
		m |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		m |= os.ModeSocket
	case unix.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		m |= os.ModeDevice
	}
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}

// permBits converts the permission part of an os.FileMode to stat bits.
func permBits(m os.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		bits |= unix.S_ISUID
	}
	if m&os.ModeSetgid != 0 {
		bits |= unix.S_ISGID
	}
	if m&os.ModeSticky != 0 {
		bits |= unix.S_ISVTX
	}
	return bits
}

func fillAttr(a *fuse.Attr, attr slash.Attributes) {
	a.Inode = attr.Ino
	a.Size = attr.Size
	a.Blocks = attr.Blocks
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
	a.Mode = FileMode(attr.Mode)
	a.Nlink = attr.Nlink
	a.Uid = attr.UID
	a.Gid = attr.GID
	a.Rdev = uint32(attr.Rdev)
	a.BlockSize = attr.BlockSize
}

// Node is one object as the kernel sees it.
type Node struct {
	fs  *FS
	fid slash.FidGen

	mu      sync.Mutex
	attr    slash.Attributes
	handles map[*Handle]struct{}
}

var (
	_ fs.Node                = (*Node)(nil)
	_ fs.NodeGetattrer       = (*Node)(nil)
	_ fs.NodeSetattrer       = (*Node)(nil)
	_ fs.NodeRequestLookuper = (*Node)(nil)
	_ fs.NodeCreater         = (*Node)(nil)
	_ fs.NodeMkdirer         = (*Node)(nil)
	_ fs.NodeOpener          = (*Node)(nil)
	_ fs.NodeRemover         = (*Node)(nil)
	_ fs.NodeRenamer         = (*Node)(nil)
	_ fs.NodeLinker          = (*Node)(nil)
	_ fs.NodeSymlinker       = (*Node)(nil)
	_ fs.NodeReadlinker      = (*Node)(nil)
	_ fs.NodeAccesser        = (*Node)(nil)
	_ fs.NodeFsyncer         = (*Node)(nil)
)

// ID returns the protocol id and generation of n.
func (n *Node) ID() slash.FidGen {
	return n.fid
}

func (n *Node) remember(attr slash.Attributes) {
	n.mu.Lock()
	n.attr = attr
	n.mu.Unlock()
}

// Attr reports the attributes fetched by the operation that produced n.
// The server calls it right after a lookup, without a request to take
// credentials from; a node with nothing cached is fetched as root.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	n.mu.Lock()
	attr := n.attr
	n.mu.Unlock()
	if attr.Ino == 0 {
		var err error
		attr, err = n.fs.mount.Getattr(ctx, n.fid.Fid, engine.RootCred)
		if err != nil {
			return errno(err)
		}
		n.remember(attr)
	}
	fillAttr(a, attr)
	return nil
}

// Getattr fetches fresh attributes.
func (n *Node) Getattr(ctx context.Context, req *fuse.GetattrRequest, resp *fuse.GetattrResponse) error {
	attr, err := n.fs.mount.Getattr(requestContext(ctx, req.Header), n.fid.Fid, credOf(req.Header))
	if err != nil {
		return errno(err)
	}
	n.remember(attr)
	fillAttr(&resp.Attr, attr)
	return nil
}

// Setattr changes attributes. A size change on a node with a file open for
// writing goes through that handle.
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	var (
		in    slash.SetattrIn
		valid slash.SetattrMask
	)
	if req.Valid.Mode() {
		valid |= slash.SetMode
		in.Mode = permBits(req.Mode)
	}
	if req.Valid.Uid() {
		valid |= slash.SetUID
		in.UID = req.Uid
	}
	if req.Valid.Gid() {
		valid |= slash.SetGID
		in.GID = req.Gid
	}
	if req.Valid.Size() {
		valid |= slash.SetSize
		in.Size = req.Size
	}
	switch {
	case req.Valid.AtimeNow():
		valid |= slash.SetAtimeNow
	case req.Valid.Atime():
		valid |= slash.SetAtime
		in.Atime = req.Atime
	}
	switch {
	case req.Valid.MtimeNow():
		valid |= slash.SetMtimeNow
	case req.Valid.Mtime():
		valid |= slash.SetMtime
		in.Mtime = req.Mtime
	}

	var (
		h         slash.HandleID
		hasHandle bool
	)
	if req.Valid.Handle() && req.Valid.Size() {
		if wh := n.writeHandle(); wh != nil {
			h, hasHandle = wh.id, true
		}
	}
	attr, err := n.fs.mount.Setattr(requestContext(ctx, req.Header), n.fid.Fid, in, valid, h, hasHandle, credOf(req.Header))
	if err != nil {
		return errno(err)
	}
	n.remember(attr)
	fillAttr(&resp.Attr, attr)
	return nil
}

// Lookup resolves a name inside this directory.
func (n *Node) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fs.Node, error) {
	attr, fg, err := n.fs.mount.Lookup(requestContext(ctx, req.Header), n.fid.Fid, req.Name, credOf(req.Header))
	if err != nil {
		return nil, errno(err)
	}
	return n.fs.node(fg, attr), nil
}

// Create makes and opens a regular file.
func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	mode := permBits(req.Mode) &^ permBits(req.Umask)
	flags := int(req.Flags) | unix.O_CREAT
	fg, attr, h, err := n.fs.mount.OpenCreate(requestContext(ctx, req.Header), n.fid.Fid, flags, mode, req.Name, credOf(req.Header))
	if err != nil {
		return nil, nil, errno(err)
	}
	child := n.fs.node(fg, attr)
	return child, child.track(h, flags, false), nil
}

// Mkdir makes a directory.
func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	mode := permBits(req.Mode) &^ permBits(req.Umask)
	attr, fg, err := n.fs.mount.Mkdir(requestContext(ctx, req.Header), n.fid.Fid, req.Name, mode, credOf(req.Header))
	if err != nil {
		return nil, errno(err)
	}
	return n.fs.node(fg, attr), nil
}

// Open opens a file, or a directory for listing.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	rctx := requestContext(ctx, req.Header)
	if req.Dir {
		_, h, err := n.fs.mount.Opendir(rctx, n.fid.Fid, credOf(req.Header))
		if err != nil {
			return nil, errno(err)
		}
		return n.track(h, unix.O_RDONLY, true), nil
	}
	flags := int(req.Flags)
	_, attr, h, err := n.fs.mount.OpenCreate(rctx, n.fid.Fid, flags, 0, "", credOf(req.Header))
	if err != nil {
		return nil, errno(err)
	}
	n.remember(attr)
	return n.track(h, flags, false), nil
}

// Remove unlinks a file or removes an empty directory.
func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	rctx := requestContext(ctx, req.Header)
	if req.Dir {
		return errno(n.fs.mount.Rmdir(rctx, n.fid.Fid, req.Name, credOf(req.Header)))
	}
	return errno(n.fs.mount.Unlink(rctx, n.fid.Fid, req.Name, credOf(req.Header)))
}

// Rename moves a name, possibly into another directory.
func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	dst, ok := newDir.(*Node)
	if !ok {
		return fuse.Errno(unix.EXDEV)
	}
	return errno(n.fs.mount.Rename(requestContext(ctx, req.Header), n.fid.Fid, req.OldName, dst.fid.Fid, req.NewName, credOf(req.Header)))
}

// Link adds a name in this directory for old.
func (n *Node) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	src, ok := old.(*Node)
	if !ok {
		return nil, fuse.Errno(unix.EXDEV)
	}
	attr, fg, err := n.fs.mount.Link(requestContext(ctx, req.Header), src.fid.Fid, n.fid.Fid, req.NewName, credOf(req.Header))
	if err != nil {
		return nil, errno(err)
	}
	return n.fs.node(fg, attr), nil
}

// Symlink creates a symbolic link in this directory.
func (n *Node) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	attr, fg, err := n.fs.mount.Symlink(requestContext(ctx, req.Header), req.Target, n.fid.Fid, req.NewName, credOf(req.Header))
	if err != nil {
		return nil, errno(err)
	}
	return n.fs.node(fg, attr), nil
}

// Readlink returns the link target.
func (n *Node) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := n.fs.mount.Readlink(requestContext(ctx, req.Header), n.fid.Fid, credOf(req.Header))
	return target, errno(err)
}

// Access checks an access(2) mask.
func (n *Node) Access(ctx context.Context, req *fuse.AccessRequest) error {
	return errno(n.fs.mount.Access(requestContext(ctx, req.Header), n.fid.Fid, req.Mask, credOf(req.Header)))
}

// Fsync flushes the node through one of its open handles.
func (n *Node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	h := n.writeHandle()
	if h == nil {
		h = n.anyHandle()
	}
	if h == nil {
		return fuse.Errno(unix.EBADF)
	}
	// bit 0 of fsync_flags is FUSE_FSYNC_FDATASYNC
	datasync := req.Flags&1 != 0
	return errno(n.fs.mount.Fsync(requestContext(ctx, req.Header), n.fid.Fid, h.id, datasync, credOf(req.Header)))
}

func (n *Node) track(id slash.HandleID, flags int, dir bool) *Handle {
	h := &Handle{
		node:  n,
		id:    id,
		dir:   dir,
		write: flags&unix.O_ACCMODE != unix.O_RDONLY,
	}
	n.mu.Lock()
	n.handles[h] = struct{}{}
	n.mu.Unlock()
	return h
}

func (n *Node) forget(h *Handle) {
	n.mu.Lock()
	delete(n.handles, h)
	n.mu.Unlock()
}

func (n *Node) writeHandle() *Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	for h := range n.handles {
		if h.write {
			return h
		}
	}
	return nil
}

func (n *Node) anyHandle() *Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	for h := range n.handles {
		return h
	}
	return nil
}

// Handle is an open file or directory.
type Handle struct {
	node  *Node
	id    slash.HandleID
	dir   bool
	write bool
}

var (
	_ fs.Handle         = (*Handle)(nil)
	_ fs.HandleReader   = (*Handle)(nil)
	_ fs.HandleWriter   = (*Handle)(nil)
	_ fs.HandleReleaser = (*Handle)(nil)
)

// Read returns file data, or a page of packed directory records when the
// handle is a directory.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	m := h.node.fs.mount
	rctx := requestContext(ctx, req.Header)
	if req.Dir {
		buf, _, err := m.Readdir(rctx, h.node.fid.Fid, h.id, req.Size, req.Offset, credOf(req.Header))
		if err != nil {
			return errno(err)
		}
		resp.Data = buf
		return nil
	}
	buf := make([]byte, req.Size)
	n, err := m.Read(rctx, h.node.fid.Fid, h.id, buf, req.Offset, credOf(req.Header))
	if err != nil {
		return errno(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write stores req.Data at req.Offset.
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := h.node.fs.mount.Write(requestContext(ctx, req.Header), h.node.fid.Fid, h.id, req.Data, req.Offset, credOf(req.Header))
	if err != nil {
		return errno(err)
	}
	resp.Size = n
	return nil
}

// Release closes the handle.
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.node.forget(h)
	return errno(h.node.fs.mount.Release(requestContext(ctx, req.Header), h.node.fid.Fid, h.id, credOf(req.Header)))
}
