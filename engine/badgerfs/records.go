package badgerfs

import (
	"encoding/binary"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/util"
	"github.com/fxamacker/cbor/v2"
)

// encMode writes records with Core Deterministic Encoding so identical
// records always produce identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badgerfs: CBOR encoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// poolRecord is the pool header. HighID and HighGen are the largest object
// id and generation handed out so far.
type poolRecord struct {
	GUID    string `cbor:"1,keyasint"`
	HighID  uint64 `cbor:"2,keyasint"`
	HighGen uint64 `cbor:"3,keyasint"`
	Created int64  `cbor:"4,keyasint"`
}

type objectRecord struct {
	Gen    uint64            `cbor:"1,keyasint"`
	Type   engine.ObjectType `cbor:"2,keyasint"`
	Mode   uint32            `cbor:"3,keyasint"`
	UID    uint32            `cbor:"4,keyasint"`
	GID    uint32            `cbor:"5,keyasint"`
	Nlink  uint32            `cbor:"6,keyasint"`
	Size   uint64            `cbor:"7,keyasint"`
	Atime  int64             `cbor:"8,keyasint"`
	Mtime  int64             `cbor:"9,keyasint"`
	Ctime  int64             `cbor:"10,keyasint"`
	Rdev   uint64            `cbor:"11,keyasint,omitempty"`
	Parent engine.ObjectID   `cbor:"12,keyasint,omitempty"`
	Target string            `cbor:"13,keyasint,omitempty"`
}

type direntRecord struct {
	ID   engine.ObjectID   `cbor:"1,keyasint"`
	Type engine.ObjectType `cbor:"2,keyasint"`
}

// Key layout:
//
//	m:pool                          pool record
//	o <id:8>                        object record
//	d <dir:8> <bucket:4> <name>     directory entry
//	b <id:8> <block:8>              data block
const (
	prefixObject byte = 'o'
	prefixDirent byte = 'd'
	prefixBlock  byte = 'b'
)

var poolKey = []byte("m:pool")

func objectKey(id engine.ObjectID) []byte {
	k := make([]byte, 9)
	k[0] = prefixObject
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func idFromObjectKey(k []byte) engine.ObjectID {
	return engine.ObjectID(binary.BigEndian.Uint64(k[1:9]))
}

func direntPrefix(dir engine.ObjectID) []byte {
	k := make([]byte, 9)
	k[0] = prefixDirent
	binary.BigEndian.PutUint64(k[1:], uint64(dir))
	return k
}

// direntKey orders entries of a directory by name hash bucket, then name.
func direntKey(dir engine.ObjectID, name string) []byte {
	k := make([]byte, 13, 13+len(name))
	copy(k, direntPrefix(dir))
	binary.BigEndian.PutUint32(k[9:], util.NameBucket(name))
	return append(k, name...)
}

func parseDirentKey(k []byte) (engine.ObjectID, string) {
	return engine.ObjectID(binary.BigEndian.Uint64(k[1:9])), string(k[13:])
}

func blockPrefix(id engine.ObjectID) []byte {
	k := make([]byte, 9)
	k[0] = prefixBlock
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func blockKey(id engine.ObjectID, blk uint64) []byte {
	k := make([]byte, 17)
	copy(k, blockPrefix(id))
	binary.BigEndian.PutUint64(k[9:], blk)
	return k
}

func blockFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[9:17])
}
