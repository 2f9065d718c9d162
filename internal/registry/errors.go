package registry

import "fmt"

// NotFoundError is returned when neither the live module nor a
// same-named sub-module exposes the requested key. Sub-module require
// failures convert to this, never to a raw import failure, so handles
// stay indistinguishable from real modules at the call site.
type NotFoundError struct {
	Module string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module '%s' has no member '%s'", e.Module, e.Key)
}

// NotCallableError is returned when a module handle is invoked as a
// function. Modules are never callable.
type NotCallableError struct {
	Module string
	Kind   string // Lua type name of the underlying value
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("attempt to call a %s value (module '%s')", e.Kind, e.Module)
}

// ImportError is returned when requiring a top-level module fails.
type ImportError struct {
	Module string
	Err    error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("error loading module '%s': %v", e.Module, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
