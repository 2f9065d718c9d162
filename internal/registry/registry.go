package registry

import (
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/scan"
)

// specialNames are leading-underscore names still eligible for
// installation; every other underscore name is dropped.
var specialNames = map[string]bool{
	"_G": true,
}

// Registry owns the name-to-handle map for a session and installs one
// handle global per accepted name. It is populated once at session
// startup and grows only when the watcher reports new modules; handles
// live for the rest of the process.
type Registry struct {
	session *luart.Session
	handles map[string]*Handle
	mu      sync.RWMutex
}

// New creates an empty registry bound to a session.
func New(session *luart.Session) *Registry {
	return &Registry{
		session: session,
		handles: make(map[string]*Handle),
	}
}

// ModuleInfo is a snapshot of one installed handle.
type ModuleInfo struct {
	Name     string `json:"name"`
	Resolved bool   `json:"resolved"`
}

// Populate installs handles for every candidate that passes the
// acceptance policy and registers the reload/describe overrides.
// Returns the number of names installed.
func (r *Registry) Populate(candidates []scan.Candidate) int {
	installed := 0
	r.session.Do(func() (interface{}, error) {
		L := r.session.State
		for _, c := range candidates {
			if r.installDirect(L, c.Name) {
				installed++
			}
		}
		r.installOverrides(L)
		return nil, nil
	})
	r.session.Log(1, "registry: installed %d lazy modules", installed)
	return installed
}

// Install installs a handle for a single name, applying the same
// acceptance policy as Populate. Used by the watcher for modules that
// appear after startup.
func (r *Registry) Install(name string) bool {
	v, _ := r.session.Do(func() (interface{}, error) {
		return r.installDirect(r.session.State, name), nil
	})
	ok, _ := v.(bool)
	return ok
}

// installDirect applies the acceptance policy and binds the global.
// A name is proxied at most once; leading-underscore names need the
// allow list; names already bound as globals are skipped so builtins
// like print stay visible. VM thread only.
func (r *Registry) installDirect(L *lua.LState, name string) bool {
	r.mu.RLock()
	_, exists := r.handles[name]
	r.mu.RUnlock()
	if exists {
		return false
	}
	if strings.HasPrefix(name, "_") && !specialNames[name] {
		return false
	}
	if L.GetGlobal(name) != lua.LNil {
		r.session.Log(3, "registry: not shadowing existing global '%s'", name)
		return false
	}

	h := newHandle(r.session, name, nil)
	ud := h.wrap(L)
	L.SetGlobal(name, ud)

	r.mu.Lock()
	r.handles[name] = h
	r.mu.Unlock()
	r.session.Log(2, "registry: installed lazy module '%s'", name)
	return true
}

// Lookup returns the handle installed for name.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Names returns the installed names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Infos returns a sorted snapshot of every installed handle.
func (r *Registry) Infos() []ModuleInfo {
	v, _ := r.session.Do(func() (interface{}, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		infos := make([]ModuleInfo, 0, len(r.handles))
		for name, h := range r.handles {
			infos = append(infos, ModuleInfo{Name: name, Resolved: h.resolved()})
		}
		return infos, nil
	})
	infos, _ := v.([]ModuleInfo)
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// installOverrides binds the reload/describe globals (help is an
// alias for describe). They differ from naive equivalents only in
// detecting handles; anything else falls back to generic behavior.
func (r *Registry) installOverrides(L *lua.LState) {
	L.SetGlobal("reload", L.NewFunction(r.luaReload))
	describe := L.NewFunction(r.luaDescribe)
	L.SetGlobal("describe", describe)
	L.SetGlobal("help", describe)
}

// luaReload implements reload(mod). For a handle it runs the handle's
// reload and returns the handle itself. A module name routes through
// the installed handle when one exists, so the handle's cached module
// refreshes too; otherwise the loaded cache entry is dropped and the
// name re-required directly.
func (r *Registry) luaReload(L *lua.LState) int {
	v := L.Get(1)

	if h, ok := HandleOf(v); ok {
		if err := h.reload(L); err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(v)
		return 1
	}

	name, ok := v.(lua.LString)
	if !ok {
		L.RaiseError("reload expects a module or a module name")
		return 0
	}
	if h, ok := r.Lookup(string(name)); ok {
		if err := h.reload(L); err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(h.ud)
		return 1
	}
	r.session.DirectClearLoaded(string(name))
	mod, err := r.session.DirectRequire(string(name))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(mod)
	return 1
}

// luaDescribe implements describe(x)/help(x): handle-aware module
// introspection with a generic fallback for plain values.
func (r *Registry) luaDescribe(L *lua.LState) int {
	v := L.Get(1)

	if h, ok := HandleOf(v); ok {
		text, err := h.describe(L)
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(lua.LString(text))
		return 1
	}

	L.Push(lua.LString(describeValue(L, "value", v)))
	return 1
}
