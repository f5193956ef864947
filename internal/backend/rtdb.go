package backend

// Snapshot is what a value listener sees after a change somewhere under its
// path. Size counts direct children only.
type Snapshot struct {
	Path string
	Size int
}

// Child is one direct child of a tree node, in insertion order.
type Child struct {
	Key string
	Raw []byte // JSON value stored at the child
}

type (
	ChildFunc       func(key string, raw []byte)
	ValueFunc       func(snap Snapshot)
	UnsubscribeFunc func()
)

// RealtimeDB is the tree-structured realtime database every screen talks to.
// Listener callbacks are delivered synchronously and in write order; the
// returned unsubscribe func must be called when the screen goes away.
type RealtimeDB interface {
	// ChildAdded replays the existing children of path, then fires for every
	// child added afterwards.
	ChildAdded(path string, fn ChildFunc) UnsubscribeFunc

	// Value fires immediately with the current snapshot of path, then after
	// every write, update or delete at or below it.
	Value(path string, fn ValueFunc) UnsubscribeFunc

	// Write stores v (JSON-encoded) at path, replacing any previous value.
	Write(path string, v any) error

	// Update merges fields into the object stored at path.
	Update(path string, fields map[string]any) error

	// Delete removes path and everything under it.
	Delete(path string) error

	// GenerateKey returns a fresh unique key for a child of parent.
	GenerateKey(parent string) string

	// Children returns the direct children of path in insertion order.
	Children(path string) ([]Child, error)
}
