package badgerfs

import (
	"fmt"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dgraph-io/badger/v4"
)

// Problem is one inconsistency found by Fsck.
type Problem struct {
	ID      engine.ObjectID
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("object %d: %s", p.ID, p.Message)
}

// Report summarises a consistency check.
type Report struct {
	Objects     int
	Directories int
	Entries     int
	Blocks      int
	Problems    []Problem
}

// Fsck walks every record and checks link counts, parent pointers and
// dangling entries. Objects with no links that are not held are reported
// as orphans.
func (e *Engine) Fsck() (Report, error) {
	var rep Report
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.view(func(txn *badger.Txn) error {
		objects := make(map[engine.ObjectID]*objectRecord)
		if err := scan(txn, []byte{prefixObject}, func(item *badger.Item) error {
			var rec objectRecord
			if err := item.Value(func(val []byte) error { return unmarshal(val, &rec) }); err != nil {
				return err
			}
			objects[idFromObjectKey(item.Key())] = &rec
			return nil
		}); err != nil {
			return err
		}

		links := make(map[engine.ObjectID]uint32)
		subdirs := make(map[engine.ObjectID]uint32)
		if err := scan(txn, []byte{prefixDirent}, func(item *badger.Item) error {
			var ent direntRecord
			if err := item.Value(func(val []byte) error { return unmarshal(val, &ent) }); err != nil {
				return err
			}
			rep.Entries++
			parent, name := parseDirentKey(item.Key())
			child, ok := objects[ent.ID]
			if !ok {
				rep.Problems = append(rep.Problems, Problem{parent, fmt.Sprintf("entry %q points at missing object %d", name, ent.ID)})
				return nil
			}
			if child.Type != ent.Type {
				rep.Problems = append(rep.Problems, Problem{ent.ID, fmt.Sprintf("entry %q says %s, object is %s", name, ent.Type, child.Type)})
			}
			links[ent.ID]++
			if child.Type == engine.TypeDir {
				subdirs[parent]++
				if child.Parent != parent {
					rep.Problems = append(rep.Problems, Problem{ent.ID, fmt.Sprintf("parent is %d, entry lives in %d", child.Parent, parent)})
				}
			}
			return nil
		}); err != nil {
			return err
		}

		if err := scan(txn, []byte{prefixBlock}, func(item *badger.Item) error {
			rep.Blocks++
			return nil
		}); err != nil {
			return err
		}

		for id, rec := range objects {
			rep.Objects++
			want := links[id]
			if rec.Type == engine.TypeDir {
				rep.Directories++
				want = 2 + subdirs[id]
				if id != engine.RootID && links[id] == 0 {
					want = 0
				}
			}
			if rec.Nlink == 0 {
				if _, held := e.held(id); !held {
					rep.Problems = append(rep.Problems, Problem{id, "orphaned object with no links"})
				}
				continue
			}
			if rec.Nlink != want {
				rep.Problems = append(rep.Problems, Problem{id, fmt.Sprintf("link count %d, expected %d", rec.Nlink, want)})
			}
		}
		if _, ok := objects[engine.RootID]; !ok {
			rep.Problems = append(rep.Problems, Problem{engine.RootID, "root directory missing"})
		}
		return nil
	})
	return rep, err
}

func scan(txn *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}
