package slash

import (
	"context"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/internal/logger"
	"golang.org/x/sys/unix"
)

// lookup resolves name in dir and returns the attributes and FidGen of the
// result. Create-type operations finish with it so callers see what the
// engine actually stored.
func (m *Mount) lookup(dir engine.Object, name string, cred engine.Cred) (Attributes, FidGen, error) {
	obj, err := m.eng.Lookup(dir, name, cred)
	if err != nil {
		return Attributes{}, FidGen{}, translate(ctxResolve, err)
	}
	ref := m.own(obj)
	defer ref.release()
	attr, err := m.stat(obj, cred)
	if err != nil {
		return Attributes{}, FidGen{}, err
	}
	return attr, issue(obj), nil
}

// Lookup resolves name inside directory parent.
func (m *Mount) Lookup(ctx context.Context, parent uint64, name string, cred engine.Cred) (attr Attributes, fg FidGen, err error) {
	o, err := m.begin(ctx, "lookup", logger.KeyParentID, parent, logger.KeyName, name)
	if err != nil {
		return attr, fg, err
	}
	defer o.end(&err)

	if err := checkName(name); err != nil {
		return attr, fg, err
	}
	dir, err := m.resolve(parent)
	if err != nil {
		return attr, fg, err
	}
	defer dir.release()
	return m.lookup(dir.obj, name, cred)
}

// Opendir opens directory id for listing.
func (m *Mount) Opendir(ctx context.Context, id uint64, cred engine.Cred) (fg FidGen, h HandleID, err error) {
	o, err := m.begin(ctx, "opendir", logger.KeyID, id)
	if err != nil {
		return fg, 0, err
	}
	defer o.end(&err)

	ref, err := m.resolve(id)
	if err != nil {
		return fg, 0, err
	}
	defer ref.release()
	if ref.obj.Type() != engine.TypeDir {
		return fg, 0, unix.ENOTDIR
	}
	if err := m.eng.Access(ref.obj, engine.VRead|engine.VExec, cred); err != nil {
		return fg, 0, err
	}
	if err := m.eng.Open(ref.obj, engine.FRead, cred); err != nil {
		return fg, 0, err
	}
	h, err = m.files.acquire(ref.obj, engine.FRead)
	if err != nil {
		m.closeObject(ref.obj, engine.FRead, cred)
		return fg, 0, err
	}
	fg = issue(ref.take())
	m.metrics.SetOpenFiles(m.files.Len())
	return fg, h, nil
}

// Readdir packs the entries of the directory behind h, starting at native
// offset cursor, into at most capacity bytes. It returns the packed records
// and the cursor to resume from. An empty page means end of directory.
func (m *Mount) Readdir(ctx context.Context, id uint64, h HandleID, capacity int, cursor int64, cred engine.Cred) (buf []byte, next int64, err error) {
	o, err := m.begin(ctx, "readdir", logger.KeyID, id, logger.KeyHandle, h, logger.KeyOffset, cursor)
	if err != nil {
		return nil, cursor, err
	}
	defer o.end(&err)

	if capacity < 0 || cursor < 0 {
		return nil, cursor, unix.EINVAL
	}
	ref, _, err := m.files.use(m.eng, h, ToInternal(id))
	if err != nil {
		return nil, cursor, err
	}
	defer ref.release()
	if ref.obj.Type() != engine.TypeDir {
		return nil, cursor, unix.ENOTDIR
	}

	p := newDirentPacker(capacity)
	next = cursor
	for ent, err := range m.eng.ReadDir(ref.obj, cursor, cred) {
		if err != nil {
			return nil, cursor, err
		}
		if !p.add(ent) {
			break
		}
		next = ent.Offset
	}
	return p.buf, next, nil
}

// Readlink returns the target of symlink id.
func (m *Mount) Readlink(ctx context.Context, id uint64, cred engine.Cred) (target string, err error) {
	o, err := m.begin(ctx, "readlink", logger.KeyID, id)
	if err != nil {
		return "", err
	}
	defer o.end(&err)

	ref, err := m.resolve(id)
	if err != nil {
		return "", err
	}
	defer ref.release()

	buf := make([]byte, engine.MaxPathLen)
	uio := engine.NewUIO(0, buf)
	if err := m.eng.Readlink(ref.obj, uio, cred); err != nil {
		return "", err
	}
	return string(buf[:len(buf)-uio.Resid]), nil
}

// Mkdir creates directory name inside parent with permission bits mode.
func (m *Mount) Mkdir(ctx context.Context, parent uint64, name string, mode uint32, cred engine.Cred) (attr Attributes, fg FidGen, err error) {
	o, err := m.begin(ctx, "mkdir", logger.KeyParentID, parent, logger.KeyName, name, logger.KeyMode, mode)
	if err != nil {
		return attr, fg, err
	}
	defer o.end(&err)

	if err := checkName(name); err != nil {
		return attr, fg, err
	}
	dir, err := m.resolve(parent)
	if err != nil {
		return attr, fg, err
	}
	defer dir.release()

	va := engine.VAttr{
		Mask: engine.AttrType | engine.AttrMode,
		Type: engine.TypeDir,
		Mode: mode & permMask,
	}
	obj, err := m.eng.Mkdir(dir.obj, name, &va, cred)
	if err != nil {
		return attr, fg, err
	}
	ref := m.own(obj)
	defer ref.release()
	attr, err = m.stat(obj, cred)
	if err != nil {
		return attr, fg, err
	}
	return attr, issue(obj), nil
}

// Rmdir removes the empty directory name from parent.
func (m *Mount) Rmdir(ctx context.Context, parent uint64, name string, cred engine.Cred) (err error) {
	o, err := m.begin(ctx, "rmdir", logger.KeyParentID, parent, logger.KeyName, name)
	if err != nil {
		return err
	}
	defer o.end(&err)

	if err := checkName(name); err != nil {
		return err
	}
	dir, err := m.resolve(parent)
	if err != nil {
		return err
	}
	defer dir.release()
	return translate(ctxRmdir, m.eng.Rmdir(dir.obj, name, cred))
}

// Unlink removes the non-directory name from parent.
func (m *Mount) Unlink(ctx context.Context, parent uint64, name string, cred engine.Cred) (err error) {
	o, err := m.begin(ctx, "unlink", logger.KeyParentID, parent, logger.KeyName, name)
	if err != nil {
		return err
	}
	defer o.end(&err)

	if err := checkName(name); err != nil {
		return err
	}
	dir, err := m.resolve(parent)
	if err != nil {
		return err
	}
	defer dir.release()
	return m.eng.Remove(dir.obj, name, cred)
}

// Symlink creates name inside parent pointing at target.
func (m *Mount) Symlink(ctx context.Context, target string, parent uint64, name string, cred engine.Cred) (attr Attributes, fg FidGen, err error) {
	o, err := m.begin(ctx, "symlink", logger.KeyParentID, parent, logger.KeyName, name, logger.KeyPath, target)
	if err != nil {
		return attr, fg, err
	}
	defer o.end(&err)

	if err := checkName(name); err != nil {
		return attr, fg, err
	}
	dir, err := m.resolve(parent)
	if err != nil {
		return attr, fg, err
	}
	defer dir.release()

	va := engine.VAttr{
		Mask: engine.AttrType | engine.AttrMode,
		Type: engine.TypeSymlink,
		Mode: 0o777,
	}
	if err := m.eng.Symlink(dir.obj, name, &va, target, cred); err != nil {
		return attr, fg, err
	}
	return m.lookup(dir.obj, name, cred)
}

// Rename moves parent/name to newParent/newName.
func (m *Mount) Rename(ctx context.Context, parent uint64, name string, newParent uint64, newName string, cred engine.Cred) (err error) {
	o, err := m.begin(ctx, "rename", logger.KeyParentID, parent, logger.KeyName, name, logger.KeyNewName, newName)
	if err != nil {
		return err
	}
	defer o.end(&err)

	if err := checkName(name); err != nil {
		return err
	}
	if err := checkName(newName); err != nil {
		return err
	}
	src, err := m.resolve(parent)
	if err != nil {
		return err
	}
	defer src.release()
	dst, err := m.resolve(newParent)
	if err != nil {
		return err
	}
	defer dst.release()
	return m.eng.Rename(src.obj, name, dst.obj, newName, cred)
}

// Link adds newName inside newParent as another name for id.
func (m *Mount) Link(ctx context.Context, id uint64, newParent uint64, newName string, cred engine.Cred) (attr Attributes, fg FidGen, err error) {
	o, err := m.begin(ctx, "link", logger.KeyID, id, logger.KeyParentID, newParent, logger.KeyNewName, newName)
	if err != nil {
		return attr, fg, err
	}
	defer o.end(&err)

	if err := checkName(newName); err != nil {
		return attr, fg, err
	}
	src, err := m.resolve(id)
	if err != nil {
		return attr, fg, err
	}
	defer src.release()
	dir, err := m.resolve(newParent)
	if err != nil {
		return attr, fg, err
	}
	defer dir.release()

	if err := m.eng.Link(dir.obj, src.obj, newName, cred); err != nil {
		return attr, fg, err
	}
	return m.lookup(dir.obj, newName, cred)
}
