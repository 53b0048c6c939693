package slash

import "github.com/dendrascience/slashfs/engine"

// RootID is the protocol id of the mount root.
const RootID uint64 = 1

// ToInternal maps a protocol id to an engine id.
func ToInternal(id uint64) engine.ObjectID {
	if id == RootID {
		return engine.RootID
	}
	return engine.ObjectID(id)
}

// ToExternal maps an engine id to a protocol id.
func ToExternal(id engine.ObjectID) uint64 {
	if id == engine.RootID {
		return RootID
	}
	return uint64(id)
}
