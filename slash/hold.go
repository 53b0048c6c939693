package slash

import "github.com/dendrascience/slashfs/engine"

// objRef owns one engine reference. release is idempotent and take hands
// ownership to the caller, so a deferred release frees exactly what was not
// passed on.
type objRef struct {
	eng engine.Engine
	obj engine.Object
}

func (r *objRef) release() {
	if r.obj != nil {
		r.eng.Release(r.obj)
		r.obj = nil
	}
}

func (r *objRef) take() engine.Object {
	obj := r.obj
	r.obj = nil
	return obj
}

// resolve returns a held reference to the object with protocol id.
func (m *Mount) resolve(id uint64) (*objRef, error) {
	obj, err := m.eng.Get(ToInternal(id))
	if err != nil {
		return nil, translate(ctxResolve, err)
	}
	return &objRef{eng: m.eng, obj: obj}, nil
}

func (m *Mount) own(obj engine.Object) *objRef {
	return &objRef{eng: m.eng, obj: obj}
}
