package engine

// UIO describes a vectored transfer. Offset is the file position and Resid
// the number of bytes still to move; both advance as data is transferred.
type UIO struct {
	Iov    [][]byte
	Offset int64
	Resid  int
}

// NewUIO builds a UIO spanning every buffer in bufs.
func NewUIO(offset int64, bufs ...[]byte) *UIO {
	u := &UIO{Iov: bufs, Offset: offset}
	for _, b := range bufs {
		u.Resid += len(b)
	}
	return u
}

func (u *UIO) total() int {
	n := 0
	for _, b := range u.Iov {
		n += len(b)
	}
	return n
}

// move walks the unconsumed part of the iovec, handing fn each chunk until
// fn returns 0 or the residual is exhausted.
func (u *UIO) move(fn func(chunk []byte) int) int {
	skip := u.total() - u.Resid
	moved := 0
	for _, b := range u.Iov {
		if u.Resid == 0 {
			break
		}
		if skip >= len(b) {
			skip -= len(b)
			continue
		}
		chunk := b[skip:]
		if len(chunk) > u.Resid {
			chunk = chunk[:u.Resid]
		}
		skip = 0
		n := fn(chunk)
		moved += n
		u.Resid -= n
		u.Offset += int64(n)
		if n < len(chunk) {
			break
		}
	}
	return moved
}

// CopyOut copies p into the caller's buffers and returns the bytes moved.
func (u *UIO) CopyOut(p []byte) int {
	return u.move(func(chunk []byte) int {
		n := copy(chunk, p)
		p = p[n:]
		return n
	})
}

// CopyIn fills p from the caller's buffers and returns the bytes moved.
func (u *UIO) CopyIn(p []byte) int {
	return u.move(func(chunk []byte) int {
		n := copy(p, chunk)
		p = p[n:]
		return n
	})
}
