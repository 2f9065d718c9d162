// Package luart owns the embedded Lua session. It wraps a single
// lua.LState behind an executor goroutine, composes package.path from
// the configured search path, registers the compiled-in standard
// library in package.preload, and appends a loader that resolves
// requires out of zip module archives.
package luart

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/autoreq/internal/archive"
	"github.com/zot/autoreq/internal/config"
)

// WorkItem represents a unit of work for the executor.
type WorkItem struct {
	fn     func() (interface{}, error)
	result chan WorkResult
}

// WorkResult holds the result of a work item.
type WorkResult struct {
	Value interface{}
	Err   error
}

// Session is an embedded Lua runtime. All VM access is serialized
// through the executor goroutine; the Direct* methods assume they are
// already running on it (Lua callbacks are, by construction).
type Session struct {
	State    *lua.LState
	config   *config.Config
	archives []*archive.Archive

	executorChan chan WorkItem
	done         chan struct{}
	closeOnce    sync.Once
}

// stdlibLoaders are the libraries compiled into the runtime. They are
// registered in package.preload rather than opened eagerly, so they
// resolve through the same require path as everything else.
var stdlibLoaders = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.TabLibName, lua.OpenTable},
	{lua.IoLibName, lua.OpenIo},
	{lua.OsLibName, lua.OpenOs},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.DebugLibName, lua.OpenDebug},
	{lua.ChannelLibName, lua.OpenChannel},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// NewSession creates a Lua session for the given configuration.
func NewSession(cfg *config.Config) (*Session, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	s := &Session{
		State:        L,
		config:       cfg,
		executorChan: make(chan WorkItem, 100),
		done:         make(chan struct{}),
	}

	// Base and package open eagerly; they provide print, type,
	// require and friends. Everything else waits in preload.
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open %s library: %w", lib.name, err)
		}
	}

	for _, lib := range stdlibLoaders {
		L.PreloadModule(lib.name, lib.fn)
	}

	if err := s.openArchives(); err != nil {
		L.Close()
		return nil, err
	}
	s.setSearchPath()
	s.registerArchiveLoader()

	s.startExecutor()
	return s, nil
}

// Log logs a message via the config.
func (s *Session) Log(level int, format string, args ...interface{}) {
	s.config.Log(level, format, args...)
}

// Config returns the session's configuration.
func (s *Session) Config() *config.Config {
	return s.config
}

// openArchives opens every zip archive named on the search path.
// Unreadable archives are skipped; the path is best-effort.
func (s *Session) openArchives() error {
	for _, entry := range s.config.Runtime.Path {
		if !archive.IsArchivePath(entry) {
			continue
		}
		a, err := archive.Open(entry)
		if err != nil {
			s.Log(1, "session: %v", err)
			continue
		}
		s.archives = append(s.archives, a)
	}
	return nil
}

// Archives returns the opened module archives in search-path order.
func (s *Session) Archives() []*archive.Archive {
	return s.archives
}

// setSearchPath composes package.path from the configured directories.
func (s *Session) setSearchPath() {
	var templates []string
	for _, entry := range s.config.Runtime.Path {
		if archive.IsArchivePath(entry) {
			continue
		}
		if entry == "" {
			entry = "."
		}
		templates = append(templates, entry+"/?.lua", entry+"/?/init.lua")
	}

	pkg, ok := s.State.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	s.State.SetField(pkg, "path", lua.LString(strings.Join(templates, ";")))
}

// registerArchiveLoader appends a loader to package.loaders that
// resolves modules out of the opened zip archives, trying name.lua
// then name/init.lua for the dotted name.
func (s *Session) registerArchiveLoader() {
	pkg, ok := s.State.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	loaders, ok := s.State.GetField(pkg, "loaders").(*lua.LTable)
	if !ok {
		return
	}
	loaders.Append(s.State.NewFunction(s.archiveLoader))
}

// archiveLoader is the package.loaders entry for zip archives.
func (s *Session) archiveLoader(L *lua.LState) int {
	name := L.CheckString(1)
	slashed := strings.ReplaceAll(name, ".", "/")

	var tried []string
	for _, a := range s.archives {
		for _, entry := range []string{slashed + ".lua", slashed + "/init.lua"} {
			if !a.Has(entry) {
				tried = append(tried, a.Path+"!"+entry)
				continue
			}
			data, err := a.Read(entry)
			if err != nil {
				L.RaiseError("error reading module '%s' from %s: %v", name, a.Path, err)
				return 0
			}
			fn, err := L.Load(bytes.NewReader(data), a.Path+"!"+entry)
			if err != nil {
				L.RaiseError("error loading module '%s' from %s: %v", name, a.Path, err)
				return 0
			}
			L.Push(fn)
			return 1
		}
	}

	// Loader protocol: a string describes why this loader failed.
	L.Push(lua.LString(fmt.Sprintf("\n\tno archive entry for module '%s' (tried %s)",
		name, strings.Join(tried, ", "))))
	return 1
}

// DirectRequire requires a module by dotted name. VM thread only.
func (s *Session) DirectRequire(name string) (lua.LValue, error) {
	L := s.State
	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("require"),
		NRet:    1,
		Protect: true,
	}, lua.LString(name)); err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// Require requires a module by dotted name via the executor.
func (s *Session) Require(name string) (lua.LValue, error) {
	v, err := s.Do(func() (interface{}, error) {
		return s.DirectRequire(name)
	})
	if err != nil {
		return lua.LNil, err
	}
	return v.(lua.LValue), nil
}

// DirectHasLoader reports whether the runtime already knows a loader
// for name, via package.preload or package.loaded. VM thread only.
func (s *Session) DirectHasLoader(name string) bool {
	pkg, ok := s.State.GetGlobal("package").(*lua.LTable)
	if !ok {
		return false
	}
	for _, field := range []string{"loaded", "preload"} {
		tbl, ok := s.State.GetField(pkg, field).(*lua.LTable)
		if !ok {
			continue
		}
		if tbl.RawGetString(name) != lua.LNil {
			return true
		}
	}
	return false
}

// DirectClearLoaded drops the package.loaded cache entry for name so
// the next require re-executes the module. VM thread only.
func (s *Session) DirectClearLoaded(name string) {
	pkg, ok := s.State.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	if loaded, ok := s.State.GetField(pkg, "loaded").(*lua.LTable); ok {
		loaded.RawSetString(name, lua.LNil)
	}
}

// startExecutor starts the goroutine that serializes VM access.
func (s *Session) startExecutor() {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case work := <-s.executorChan:
				result, err := work.fn()
				work.result <- WorkResult{Value: result, Err: err}
			}
		}
	}()
}

// Do queues a function on the executor and blocks until complete.
// Functions must not call Do again; nested VM work uses the Direct*
// methods instead.
func (s *Session) Do(fn func() (interface{}, error)) (interface{}, error) {
	result := make(chan WorkResult, 1)
	select {
	case s.executorChan <- WorkItem{fn: fn, result: result}:
	case <-s.done:
		return nil, fmt.Errorf("session is shut down")
	}
	select {
	case res := <-result:
		return res.Value, res.Err
	case <-s.done:
		return nil, fmt.Errorf("session is shut down")
	}
}

// Eval evaluates a chunk of Lua code via the executor. The chunk is
// first tried as an expression ("return <code>") so interactive input
// like "os.time()" prints its value; results are joined with tabs.
func (s *Session) Eval(code string) (string, error) {
	v, err := s.Do(func() (interface{}, error) {
		return s.DirectEval(code)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// DirectEval evaluates code on the VM thread.
func (s *Session) DirectEval(code string) (string, error) {
	L := s.State

	fn, err := L.LoadString("return " + code)
	if err != nil {
		fn, err = L.LoadString(code)
		if err != nil {
			return "", err
		}
	}

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return "", err
	}

	top := L.GetTop()
	var parts []string
	for i := base + 1; i <= top; i++ {
		parts = append(parts, lua.LVAsString(L.ToStringMeta(L.Get(i))))
	}
	L.SetTop(base)
	return strings.Join(parts, "\t"), nil
}

// Shutdown stops the executor and closes the Lua state.
func (s *Session) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.State.Close()
	})
}
