package registry

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
)

// proxyTypeName keys the shared metatable for module handles.
const proxyTypeName = "autoreq.module"

// proxyMetatable returns the shared handle metatable for a state,
// creating and registering it on first use.
func proxyMetatable(L *lua.LState) *lua.LTable {
	if mt, ok := L.GetTypeMetatable(proxyTypeName).(*lua.LTable); ok {
		return mt
	}
	mt := L.NewTypeMetatable(proxyTypeName)
	L.SetField(mt, "__index", L.NewFunction(proxyIndex))
	L.SetField(mt, "__newindex", L.NewFunction(proxyNewIndex))
	L.SetField(mt, "__call", L.NewFunction(proxyCall))
	L.SetField(mt, "__tostring", L.NewFunction(proxyToString))
	// Keep the metatable out of reach of Lua code.
	L.SetField(mt, "__metatable", lua.LString(proxyTypeName))
	return mt
}

// checkHandle extracts the Handle from the first argument.
func checkHandle(L *lua.LState) *Handle {
	ud := L.CheckUserData(1)
	h, ok := ud.Value.(*Handle)
	if !ok {
		L.RaiseError("expected a module handle")
	}
	return h
}

// proxyIndex resolves the handle on first access and forwards the
// lookup. An attribute that exists on neither the module nor a
// same-named sub-module yields nil, exactly as a plain module table
// would; require failures never leak out of attribute access.
func proxyIndex(L *lua.LState) int {
	h := checkHandle(L)
	key := L.Get(2)

	if ks, ok := key.(lua.LString); ok {
		v, err := h.get(L, string(ks))
		if err != nil {
			var notFound *NotFoundError
			if errors.As(err, &notFound) {
				L.Push(lua.LNil)
				return 1
			}
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(v)
		return 1
	}

	// Non-string keys index the module directly.
	if err := h.resolve(); err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(L.GetTable(h.module, key))
	return 1
}

// proxyNewIndex resolves the handle first (writing to a module
// requires it to exist) and then stores the value.
func proxyNewIndex(L *lua.LState) int {
	h := checkHandle(L)
	key := L.Get(2)
	value := L.Get(3)

	if ks, ok := key.(lua.LString); ok {
		if err := h.set(L, string(ks), value); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}

	if err := h.resolve(); err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.SetTable(h.module, key, value)
	return 0
}

// proxyCall always fails: modules are not callable, and the message
// matches what calling the real module value would produce.
func proxyCall(L *lua.LState) int {
	h := checkHandle(L)
	L.RaiseError("attempt to call a %s value", h.callKind())
	return 0
}

func proxyToString(L *lua.LState) int {
	h := checkHandle(L)
	if h.resolved() {
		L.Push(lua.LString("module '" + h.name + "': " + h.module.String()))
	} else {
		L.Push(lua.LString("module '" + h.name + "' (unresolved)"))
	}
	return 1
}

// HandleOf returns the Handle behind a Lua value, if it is one.
func HandleOf(v lua.LValue) (*Handle, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	h, ok := ud.Value.(*Handle)
	return h, ok
}
