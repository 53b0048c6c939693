package slash

import (
	"strings"
	"testing"

	"github.com/dendrascience/slashfs/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDirentSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 24, DirentSize(0))
	assert.Equal(t, 32, DirentSize(1))
	assert.Equal(t, 32, DirentSize(8))
	assert.Equal(t, 40, DirentSize(9))
}

func TestDirentPackerLayout(t *testing.T) {
	t.Parallel()

	p := newDirentPacker(4096)
	require.True(t, p.add(engine.DirEntry{ID: engine.RootID, Offset: 1, Name: ".", Type: engine.TypeDir}))
	require.True(t, p.add(engine.DirEntry{ID: 9, Offset: 3, Name: "hello.txt", Type: engine.TypeRegular}))
	assert.Len(t, p.buf, DirentSize(1)+DirentSize(9))
	assert.Zero(t, len(p.buf)%8)

	ents, err := DecodeDirents(p.buf)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, Dirent{Ino: RootID, Off: 1, Type: unix.S_IFDIR >> 12, Name: "."}, ents[0])
	assert.Equal(t, Dirent{Ino: 9, Off: 3, Type: unix.S_IFREG >> 12, Name: "hello.txt"}, ents[1])

	// padding is zeroed
	rec := p.buf[DirentSize(1):]
	for _, b := range rec[direntHeaderSize+9 : DirentSize(9)] {
		assert.Zero(t, b)
	}
}

func TestDirentPackerCapacity(t *testing.T) {
	t.Parallel()

	p := newDirentPacker(DirentSize(3) + DirentSize(4) - 1)
	assert.True(t, p.add(engine.DirEntry{ID: 4, Offset: 3, Name: "abc"}))
	assert.False(t, p.add(engine.DirEntry{ID: 5, Offset: 4, Name: "abcd"}))
	assert.Len(t, p.buf, DirentSize(3))
	// a shorter record still fits after a rejected one
	assert.True(t, p.add(engine.DirEntry{ID: 6, Offset: 5}))
	assert.LessOrEqual(t, len(p.buf), p.capacity)

	empty := newDirentPacker(0)
	assert.False(t, empty.add(engine.DirEntry{ID: 4, Name: "a"}))
	assert.Empty(t, empty.buf)
}

func TestDecodeDirentsShort(t *testing.T) {
	t.Parallel()

	p := newDirentPacker(1024)
	require.True(t, p.add(engine.DirEntry{ID: 4, Offset: 3, Name: strings.Repeat("x", 20)}))
	_, err := DecodeDirents(p.buf[:len(p.buf)-8])
	assert.ErrorIs(t, err, ErrShortDirent)
	_, err = DecodeDirents(p.buf[:10])
	assert.ErrorIs(t, err, ErrShortDirent)
}
