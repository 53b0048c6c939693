package slash

import (
	"context"
	"fmt"
	"math"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/internal/logger"
	"golang.org/x/sys/unix"
)

func checkName(name string) error {
	if len(name) >= engine.MaxNameLen {
		return unix.ENAMETOOLONG
	}
	return nil
}

// OpenCreate opens the object id, or when name is not empty creates name
// inside the directory id and opens the result. flags are protocol open
// flags and mode the permission bits of a new file.
func (m *Mount) OpenCreate(ctx context.Context, id uint64, flags int, mode uint32, name string, cred engine.Cred) (fg FidGen, attr Attributes, h HandleID, err error) {
	o, err := m.begin(ctx, "open", logger.KeyID, id, logger.KeyName, name, logger.KeyFlags, flags)
	if err != nil {
		return fg, attr, 0, err
	}
	defer o.end(&err)

	fflags, err := FlagsToEngine(flags)
	if err != nil {
		return fg, attr, 0, err
	}
	if err := checkName(name); err != nil {
		return fg, attr, 0, err
	}

	ref, err := m.resolve(id)
	if err != nil {
		return fg, attr, 0, err
	}
	defer ref.release()

	create := name != ""
	if create {
		va := engine.VAttr{
			Mask: engine.AttrType | engine.AttrMode,
			Type: engine.TypeRegular,
			Mode: mode & permMask,
		}
		if fflags&engine.FTrunc != 0 {
			va.Mask |= engine.AttrSize
			va.Size = 0
		}
		obj, err := m.eng.Create(ref.obj, name, &va, fflags&engine.FExcl != 0, accessMode(fflags), cred)
		if err != nil {
			return fg, attr, 0, err
		}
		ref.release()
		ref = m.own(obj)
		defer ref.release()
	} else if err := m.checkOpen(ref.obj, fflags, cred); err != nil {
		return fg, attr, 0, err
	}
	// a create that found an existing entry may have landed on a symlink
	if fflags&engine.FNoFollow != 0 && ref.obj.Type() == engine.TypeSymlink {
		return fg, attr, 0, unix.ELOOP
	}

	if err := m.eng.Open(ref.obj, fflags, cred); err != nil {
		return fg, attr, 0, err
	}
	opened := true
	defer func() {
		if opened {
			m.closeObject(ref.obj, fflags, cred)
		}
	}()

	if !create && fflags&(engine.FTrunc|engine.FWrite) == engine.FTrunc|engine.FWrite &&
		ref.obj.Type() == engine.TypeRegular {
		if err := m.eng.Space(ref.obj, 0, fflags, cred); err != nil {
			return fg, attr, 0, err
		}
	}

	attr, err = m.stat(ref.obj, cred)
	if err != nil {
		return fg, attr, 0, err
	}
	fg = issue(ref.obj)
	h, err = m.files.acquire(ref.obj, fflags)
	if err != nil {
		return fg, attr, 0, err
	}
	ref.take()
	opened = false
	m.metrics.SetOpenFiles(m.files.Len())
	return fg, attr, h, nil
}

// checkOpen applies the checks an open of an existing object needs before
// the engine sees it.
func (m *Mount) checkOpen(obj engine.Object, flags engine.FileFlag, cred engine.Cred) error {
	if flags&engine.FOffMax == 0 && obj.Type() == engine.TypeRegular {
		va := engine.VAttr{Mask: engine.AttrSize}
		if err := m.eng.GetAttr(obj, &va, cred); err != nil {
			return err
		}
		if va.Size > math.MaxInt32 {
			return unix.EOVERFLOW
		}
	}
	return m.eng.Access(obj, accessMode(flags), cred)
}

// closeObject ends an engine open. A close that fails leaves the engine's
// open count wrong for good, so it is not survivable.
func (m *Mount) closeObject(obj engine.Object, flags engine.FileFlag, cred engine.Cred) {
	if err := m.eng.Close(obj, flags, cred); err != nil {
		panic(fmt.Sprintf("slash: close of object %d failed: %v", obj.ID(), err))
	}
}

// Release closes handle h of object id and drops its reference.
func (m *Mount) Release(ctx context.Context, id uint64, h HandleID, cred engine.Cred) (err error) {
	o, err := m.begin(ctx, "release", logger.KeyID, id, logger.KeyHandle, h)
	if err != nil {
		return err
	}
	defer o.end(&err)

	of, err := m.files.remove(h, ToInternal(id))
	if err != nil {
		return err
	}
	m.metrics.SetOpenFiles(m.files.Len())
	ref := m.own(of.obj)
	defer ref.release()
	m.closeObject(of.obj, of.flags, cred)
	return nil
}

// Read reads into dst from offset off through handle h.
func (m *Mount) Read(ctx context.Context, id uint64, h HandleID, dst []byte, off int64, cred engine.Cred) (n int, err error) {
	o, err := m.begin(ctx, "read", logger.KeyID, id, logger.KeyHandle, h, logger.KeyOffset, off, logger.KeySize, len(dst))
	if err != nil {
		return 0, err
	}
	defer o.end(&err)

	ref, flags, err := m.files.use(m.eng, h, ToInternal(id))
	if err != nil {
		return 0, err
	}
	defer ref.release()

	uio := engine.NewUIO(off, dst)
	if err := m.eng.Read(ref.obj, uio, flags, cred); err != nil {
		return 0, err
	}
	n = len(dst) - uio.Resid
	m.metrics.AddBytes("read", n)
	return n, nil
}

// Write writes src at offset off through handle h. The engine must take
// the whole buffer; a short write is reported as EIO.
func (m *Mount) Write(ctx context.Context, id uint64, h HandleID, src []byte, off int64, cred engine.Cred) (n int, err error) {
	o, err := m.begin(ctx, "write", logger.KeyID, id, logger.KeyHandle, h, logger.KeyOffset, off, logger.KeySize, len(src))
	if err != nil {
		return 0, err
	}
	defer o.end(&err)

	ref, flags, err := m.files.use(m.eng, h, ToInternal(id))
	if err != nil {
		return 0, err
	}
	defer ref.release()

	uio := engine.NewUIO(off, src)
	if err := m.eng.Write(ref.obj, uio, flags, cred); err != nil {
		return 0, err
	}
	m.metrics.AddBytes("write", len(src)-uio.Resid)
	if uio.Resid != 0 {
		logger.Error("short write", logger.KeyID, id, logger.KeySize, len(src), logger.KeyCount, uio.Resid)
		return 0, unix.EIO
	}
	return len(src), nil
}

// Fsync flushes the object behind handle h. datasync asks for data only.
func (m *Mount) Fsync(ctx context.Context, id uint64, h HandleID, datasync bool, cred engine.Cred) (err error) {
	o, err := m.begin(ctx, "fsync", logger.KeyID, id, logger.KeyHandle, h)
	if err != nil {
		return err
	}
	defer o.end(&err)

	ref, _, err := m.files.use(m.eng, h, ToInternal(id))
	if err != nil {
		return err
	}
	defer ref.release()

	flags := engine.FSync
	if datasync {
		flags = engine.FDSync
	}
	return m.eng.Fsync(ref.obj, flags, cred)
}
