package slash

import (
	"encoding/binary"
	"errors"

	"github.com/dendrascience/slashfs/engine"
)

const direntHeaderSize = 24

// ErrShortDirent reports a truncated record in a packed directory buffer.
var ErrShortDirent = errors.New("slash: truncated directory record")

// DirentSize is the packed size of a record whose name is nameLen bytes.
func DirentSize(nameLen int) int {
	return (direntHeaderSize + nameLen + 7) &^ 7
}

// direntPacker appends records to buf while they fit in capacity.
type direntPacker struct {
	buf      []byte
	capacity int
}

func newDirentPacker(capacity int) *direntPacker {
	return &direntPacker{buf: make([]byte, 0, max(0, min(capacity, 64<<10))), capacity: capacity}
}

// add appends one record and reports whether it fit. A record that does not
// fit leaves the buffer untouched.
func (p *direntPacker) add(ent engine.DirEntry) bool {
	size := DirentSize(len(ent.Name))
	if len(p.buf)+size > p.capacity {
		return false
	}
	start := len(p.buf)
	p.buf = append(p.buf, make([]byte, size)...)
	rec := p.buf[start:]
	binary.LittleEndian.PutUint64(rec[0:], ToExternal(ent.ID))
	binary.LittleEndian.PutUint64(rec[8:], uint64(ent.Offset))
	binary.LittleEndian.PutUint32(rec[16:], uint32(len(ent.Name)))
	binary.LittleEndian.PutUint32(rec[20:], ent.Type.IFMT()>>12)
	copy(rec[direntHeaderSize:], ent.Name)
	return true
}

// Dirent is one decoded directory record.
type Dirent struct {
	Ino  uint64
	Off  int64
	Type uint32
	Name string
}

// DecodeDirents unpacks a buffer produced by Readdir.
func DecodeDirents(buf []byte) ([]Dirent, error) {
	var out []Dirent
	for len(buf) > 0 {
		if len(buf) < direntHeaderSize {
			return out, ErrShortDirent
		}
		nameLen := int(binary.LittleEndian.Uint32(buf[16:]))
		size := DirentSize(nameLen)
		if len(buf) < size {
			return out, ErrShortDirent
		}
		out = append(out, Dirent{
			Ino:  binary.LittleEndian.Uint64(buf[0:]),
			Off:  int64(binary.LittleEndian.Uint64(buf[8:])),
			Type: binary.LittleEndian.Uint32(buf[20:]),
			Name: string(buf[direntHeaderSize : direntHeaderSize+nameLen]),
		})
		buf = buf[size:]
	}
	return out, nil
}
