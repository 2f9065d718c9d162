// Package registry implements lazy module handles and the registry
// that installs them as Lua globals. A handle stands in for a module
// that has not been required yet; first use triggers the require, and
// sub-module access recursively yields cached child handles.
package registry

import (
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/autoreq/internal/luart"
)

// Handle is a lazy module handle. It records a module name and, once
// resolved, the underlying module value. Lua tables are shared by
// reference, so recording the reference mirrors every exposed
// attribute; later lookups go straight to the module table.
//
// The lowercase methods run on the session's VM thread (Lua
// metamethods already do); the exported Resolve/Get/Set/Call/Reload/
// Describe wrappers queue through the executor for Go callers.
type Handle struct {
	name    string
	session *luart.Session
	module  lua.LValue               // nil until resolved
	subs    map[string]*lua.LUserData // cached sub-module handles
	overlay map[string]lua.LValue     // assignments when module isn't a table
	ud      *lua.LUserData
}

func newHandle(session *luart.Session, name string, module lua.LValue) *Handle {
	h := &Handle{
		name:    name,
		session: session,
		subs:    make(map[string]*lua.LUserData),
	}
	if module != nil && module != lua.LNil {
		h.module = module
	}
	return h
}

// Name returns the dotted module name the handle stands in for.
func (h *Handle) Name() string {
	return h.name
}

// resolved reports whether the underlying module has been required.
func (h *Handle) resolved() bool {
	return h.module != nil
}

// wrap creates the userdata standing in for this handle in Lua.
func (h *Handle) wrap(L *lua.LState) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = h
	L.SetMetatable(ud, proxyMetatable(L))
	h.ud = ud
	return ud
}

// resolve requires the module if it has not been required yet.
// Idempotent once resolved.
//
// The handle userdata occupies the module's global slot, and the
// stdlib openers in package.preload bind their real global through
// RegisterModule, which raises on a non-table occupant. The slot is
// vacated for the duration of the require; when the require binds
// nothing there (plain file modules) the handle moves back in.
func (h *Handle) resolve() error {
	if h.resolved() {
		return nil
	}
	L := h.session.State
	vacated := false
	if h.ud != nil && L.GetGlobal(h.name) == h.ud {
		L.SetGlobal(h.name, lua.LNil)
		vacated = true
	}
	v, err := h.session.DirectRequire(h.name)
	if err != nil {
		if vacated {
			L.SetGlobal(h.name, h.ud)
		}
		return &ImportError{Module: h.name, Err: err}
	}
	if vacated && L.GetGlobal(h.name) == lua.LNil {
		L.SetGlobal(h.name, h.ud)
	}
	h.session.Log(3, "registry: resolved module '%s'", h.name)
	h.module = v
	return nil
}

// get resolves the handle and looks up key: first on the module
// itself, then in the cached sub-module handles, then by requiring
// the dotted sub-module name. A loader miss on the sub-module reports
// NotFound, matching what a plain module would give; a sub-module
// that exists but fails while loading surfaces its own error.
func (h *Handle) get(L *lua.LState, key string) (lua.LValue, error) {
	if err := h.resolve(); err != nil {
		return lua.LNil, err
	}

	if tbl, ok := h.module.(*lua.LTable); ok {
		if v := L.GetField(tbl, key); v != lua.LNil {
			return v, nil
		}
	} else if v, ok := h.overlay[key]; ok {
		return v, nil
	}

	if sub, ok := h.subs[key]; ok {
		return sub, nil
	}

	subName := h.name + "." + key
	v, err := h.session.DirectRequire(subName)
	if err != nil {
		if isLoaderMiss(err, subName) {
			return lua.LNil, &NotFoundError{Module: h.name, Key: key}
		}
		return lua.LNil, &ImportError{Module: subName, Err: err}
	}
	child := newHandle(h.session, subName, v)
	ud := child.wrap(L)
	h.subs[key] = ud
	return ud, nil
}

// set resolves the handle and stores the value. Writes land on the
// module table itself (shared-reference aliasing); when the module is
// not a table they stay in the handle's own overlay.
func (h *Handle) set(L *lua.LState, key string, value lua.LValue) error {
	if err := h.resolve(); err != nil {
		return err
	}
	if tbl, ok := h.module.(*lua.LTable); ok {
		L.SetField(tbl, key, value)
		return nil
	}
	if h.overlay == nil {
		h.overlay = make(map[string]lua.LValue)
	}
	h.overlay[key] = value
	return nil
}

// reload resolves an unresolved handle, and re-requires an already
// resolved one after dropping the package.loaded cache entry. The
// handle itself is the result so callers can chain.
func (h *Handle) reload(L *lua.LState) error {
	if !h.resolved() {
		return h.resolve()
	}
	h.session.DirectClearLoaded(h.name)
	v, err := h.session.DirectRequire(h.name)
	if err != nil {
		return &ImportError{Module: h.name, Err: err}
	}
	h.session.Log(2, "registry: reloaded module '%s'", h.name)
	h.module = v
	return nil
}

// describe resolves the handle and returns an introspection listing
// of the underlying module.
func (h *Handle) describe(L *lua.LState) (string, error) {
	if err := h.resolve(); err != nil {
		return "", err
	}
	return describeValue(L, "module '"+h.name+"'", h.module), nil
}

// isLoaderMiss reports whether a require failure means no loader knew
// the name, as opposed to a found module erroring while it loads. The
// runtime reports a miss as "module <name> not found" with the list of
// loaders it tried.
func isLoaderMiss(err error, name string) bool {
	return strings.Contains(err.Error(), "module "+name+" not found")
}

// callKind is the Lua type name reported by the not-callable error.
func (h *Handle) callKind() string {
	if h.resolved() {
		return h.module.Type().String()
	}
	return lua.LTTable.String()
}

// Resolve performs the deferred require. Safe for any goroutine.
func (h *Handle) Resolve() error {
	_, err := h.session.Do(func() (interface{}, error) {
		return nil, h.resolve()
	})
	return err
}

// Get looks up an attribute or sub-module. Safe for any goroutine.
func (h *Handle) Get(key string) (lua.LValue, error) {
	v, err := h.session.Do(func() (interface{}, error) {
		return h.get(h.session.State, key)
	})
	if err != nil {
		return lua.LNil, err
	}
	return v.(lua.LValue), nil
}

// Set stores an attribute, resolving first. Safe for any goroutine.
func (h *Handle) Set(key string, value lua.LValue) error {
	_, err := h.session.Do(func() (interface{}, error) {
		return nil, h.set(h.session.State, key, value)
	})
	return err
}

// Call always reports NotCallable; modules are not functions.
func (h *Handle) Call() error {
	return &NotCallableError{Module: h.name, Kind: h.callKind()}
}

// Reload re-requires the module (or resolves it for the first time)
// and returns the handle for chaining. Safe for any goroutine.
func (h *Handle) Reload() (*Handle, error) {
	_, err := h.session.Do(func() (interface{}, error) {
		return nil, h.reload(h.session.State)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Describe resolves the handle and returns the module introspection
// listing. Safe for any goroutine.
func (h *Handle) Describe() (string, error) {
	v, err := h.session.Do(func() (interface{}, error) {
		return h.describe(h.session.State)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Resolved reports whether the module has been required yet.
// Safe for any goroutine.
func (h *Handle) Resolved() bool {
	v, _ := h.session.Do(func() (interface{}, error) {
		return h.resolved(), nil
	})
	resolved, _ := v.(bool)
	return resolved
}

// describeValue renders an introspection listing: the label, the
// underlying Lua type, and for tables the sorted keys with the type
// of each entry.
func describeValue(L *lua.LState, label string, v lua.LValue) string {
	var b strings.Builder
	b.WriteString(label + " (" + v.Type().String() + ")")

	tbl, ok := v.(*lua.LTable)
	if !ok {
		return b.String()
	}

	type entry struct{ key, kind string }
	var entries []entry
	tbl.ForEach(func(k, val lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			entries = append(entries, entry{string(ks), val.Type().String()})
		}
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	for _, e := range entries {
		b.WriteString("\n  " + e.key + " (" + e.kind + ")")
	}
	return b.String()
}
