// Package sandbox compiles untrusted, database-stored plugin source into
// callable units bound to a restricted capability set.
//
// Source is Lua, evaluated with gopher-lua. A chunk must return a function;
// that function is the handler invoked by the runtime registries. Compilation
// is cached by content hash, so identical source compiles once per process.
//
// Each invocation runs on a fresh LState (LStates are not goroutine-safe)
// with the dangerous stdlib surface removed. Host facilities such as the
// tenant-scoped database accessor and gated outbound HTTP are injected only
// when the corresponding capability was granted.
package sandbox
