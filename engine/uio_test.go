package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIOCopyOutSpansBuffers(t *testing.T) {
	a := make([]byte, 3)
	b := make([]byte, 4)
	u := NewUIO(10, a, b)
	require.Equal(t, 7, u.Resid)

	n := u.CopyOut([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, u.Resid)
	assert.Equal(t, int64(15), u.Offset)
	assert.Equal(t, "hel", string(a))
	assert.Equal(t, "lo", string(b[:2]))

	n = u.CopyOut([]byte("world"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, u.Resid)
	assert.Equal(t, "lowo", string(b))
}

func TestUIOCopyIn(t *testing.T) {
	u := NewUIO(0, []byte("ab"), []byte("cde"))

	first := make([]byte, 3)
	assert.Equal(t, 3, u.CopyIn(first))
	assert.Equal(t, "abc", string(first))

	rest := make([]byte, 10)
	n := u.CopyIn(rest)
	assert.Equal(t, 2, n)
	assert.Equal(t, "de", string(rest[:n]))
	assert.Zero(t, u.Resid)
}

func TestObjectTypeIFMT(t *testing.T) {
	tests := []struct {
		typ  ObjectType
		want uint32
	}{
		{TypeRegular, 0o100000},
		{TypeDir, 0o040000},
		{TypeSymlink, 0o120000},
		{TypeFIFO, 0o010000},
		{TypeNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.IFMT())
		})
	}
}

func TestCredInGroup(t *testing.T) {
	c := Cred{UID: 1000, GID: 100, Groups: []uint32{4, 27}}
	assert.True(t, c.InGroup(100))
	assert.True(t, c.InGroup(27))
	assert.False(t, c.InGroup(0))
}
