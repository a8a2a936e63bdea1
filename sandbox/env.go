package sandbox

import (
	"io"
	"net/http"
	"net/url"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// maxHTTPResponseBytes caps the body a plugin may pull through http.get.
const maxHTTPResponseBytes = 1 << 20

// safeModules are the only built-in Lua modules plugin code may require.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// newRestrictedState creates an LState with only the safe library surface:
// base, string, table and math, no io/os/debug, no loading of further code,
// no module resolution from disk.
func newRestrictedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.LoadLibName, lua.OpenPackage},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}

	// Code-loading escape hatches are removed; all plugin code arrives
	// through the compiler.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "print"} {
		L.SetGlobal(name, lua.LNil)
	}

	restrictRequire(L)
	return L
}

// restrictRequire clears package.path/cpath and replaces require with a
// whitelist over the safe built-in modules.
func restrictRequire(L *lua.LState) {
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}

	originalRequire := L.GetGlobal("require")
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// installBinding injects the host modules matching the granted capabilities.
func installBinding(L *lua.LState, b Binding) {
	if b.Caps.HasDB() && b.DB != nil {
		installDBModule(L, b.DB)
	}
	if b.Caps.HasNetwork() {
		installHTTPModule(L, b.Caps)
	}
}

// installDBModule exposes db.query(sql, ...) and db.exec(sql, ...) backed by
// the tenant-scoped accessor.
func installDBModule(L *lua.LState, db DBAccessor) {
	mod := L.NewTable()

	L.SetField(mod, "query", L.NewFunction(func(L *lua.LState) int {
		query := L.CheckString(1)
		args := collectArgs(L, 2)
		rows, err := db.Query(L.Context(), query, args...)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		out := make([]any, len(rows))
		for i, row := range rows {
			out[i] = map[string]any(row)
		}
		L.Push(toLua(L, out))
		return 1
	}))

	L.SetField(mod, "exec", L.NewFunction(func(L *lua.LState) int {
		query := L.CheckString(1)
		args := collectArgs(L, 2)
		affected, err := db.Exec(L.Context(), query, args...)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LNumber(affected))
		return 1
	}))

	L.SetGlobal("db", mod)
}

// installHTTPModule exposes http.get(url) for hosts the manifest allows.
// Anything else raises in the plugin, not in the host.
func installHTTPModule(L *lua.LState, caps CapabilitySet) {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		rawURL := L.CheckString(1)
		u, err := url.Parse(rawURL)
		if err != nil || u.Hostname() == "" {
			L.RaiseError("http.get: invalid url")
			return 0
		}
		if !caps.AllowsHost(u.Hostname()) {
			L.RaiseError("http.get: host %q not allowed by manifest", u.Hostname())
			return 0
		}

		req, err := http.NewRequestWithContext(L.Context(), http.MethodGet, rawURL, nil)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		result := L.NewTable()
		result.RawSetString("status", lua.LNumber(resp.StatusCode))
		result.RawSetString("body", lua.LString(body))
		L.Push(result)
		return 1
	}))

	L.SetField(mod, "now_ms", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().UnixMilli()))
		return 1
	}))

	L.SetGlobal("http", mod)
}

// collectArgs converts positional Lua arguments from index start onward.
func collectArgs(L *lua.LState, start int) []any {
	var args []any
	for i := start; i <= L.GetTop(); i++ {
		args = append(args, toGo(L.Get(i)))
	}
	return args
}
