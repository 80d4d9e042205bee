// Package foreign is the embedded runtime that starbridge drives from Go.
//
// The runtime is a Starlark interpreter extended with a Python-style object
// model: type objects created with type(name, bases, dict), instances,
// bound and unbound methods, complex numbers, bytearrays, compiled code
// objects and an exception hierarchy rooted at BaseException.
//
// # Locking
//
// All access to runtime objects is serialized by a process-wide lock (the
// GIL). Take it with [Runtime.Lock] and release it with [Guard.Unlock]:
//
//	g := rt.Lock()
//	defer g.Unlock()
//
// The lock is reentrant on the goroutine that holds it. A hook running
// under the lock may call Lock again and gets a nested [Guard]; the lock is
// released when the outermost Guard unlocks. [Runtime.Unlocked] releases
// every level around a blocking wait and restores them afterwards.
//
// # References
//
// Values handed out to the host are tracked by a [Heap]. Every [Ref] is one
// increment of the owning value's count and must be released exactly once.
// The counts are the contract between this package and the marshalling
// layer; the Go collector still owns the memory.
//
// # Scheduling
//
// Foreign code may queue work with spawn(fn, *args). Queued tasks run at
// the next switch point, see [Runtime.RunPending].
package foreign
