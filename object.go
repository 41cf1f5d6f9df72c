package chainbase

// Object is the contract every container-managed type must satisfy: it
// must carry a mandatory id field, exposed for reads via ObjectID and
// assignable exactly once (by the container, at creation) via
// SetObjectID. Types typically get this for free by embedding Base.
type Object interface {
	ObjectID() ID
	SetObjectID(ID)
}

// Base gives a struct the ObjectID/SetObjectID pair required by Object.
// Embed it as the first field of any type registered with an Engine.
type Base struct {
	id ID
}

// ObjectID returns the object's identifier.
func (b *Base) ObjectID() ID { return b.id }

// SetObjectID assigns the object's identifier. Only the owning container
// calls this, at emplace time; client code must not call it.
func (b *Base) SetObjectID(id ID) { b.id = id }

// KeyExtractor associates a name with a function pulling a comparable key
// out of an object, used to maintain an auxiliary uniqueness index
// alongside the primary id index. Name identifies the index for
// FindByKey lookups; the extracted key must be comparable (used as a Go
// map key).
type KeyExtractor[T any] struct {
	Name  string
	KeyOf func(*T) any
}

// Descriptor supplies everything Engine.Register needs to allocate a
// container for T: its (space, type) tag and any auxiliary uniqueness
// keys beyond the primary id. This is the descriptor the design notes
// call for in place of curiously-recurring-template-parameter base
// classes: clone and move-assign are realized generically as plain Go
// struct value copies (T is assumed to hold no aliased mutable state,
// per the "objects reference each other only by id" convention), so
// they need no descriptor entry; only what genuinely varies by type
// (space/type tag, extra keys) is supplied here.
type Descriptor[T any] struct {
	Space, Type byte
	UniqueKeys  []KeyExtractor[T]

	// Encode is consulted only on the cold path: eviction of an undo
	// level past the configured depth bound (Engine.Flush does not use
	// it). Eviction persistence is best-effort against the persistent
	// store collaborator, so a nil Encode simply means evicted history is
	// dropped instead of persisted, never a request failure.
	Encode func(*T) ([]byte, error)
}
