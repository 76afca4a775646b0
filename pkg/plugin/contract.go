package plugin

import (
	"fmt"
	"reflect"
)

// Capabilities is a unit that passed the contract check, with its entry point
// and hooks adapted to the uniform function types.
type Capabilities struct {
	Process CommandFunc
	Init    HookFunc
	Cleanup HookFunc
	Status  StatusFunc
}

// Hooks reports which optional hooks are present.
func (c Capabilities) Hooks() HookSet {
	return HookSet{Initialize: c.Init != nil, Cleanup: c.Cleanup != nil, GetStatus: c.Status != nil}
}

var (
	agentType = reflect.TypeOf((*Agent)(nil))
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// ValidateContract checks that a unit defines a callable ProcessCommand and
// adapts whichever optional hooks it defines.
//
// Accepted shapes:
//
//	ProcessCommand(a *plugin.Agent, command string) T | (T, error)
//	Initialize(a *plugin.Agent) | error
//	Cleanup(a *plugin.Agent) | error
//	GetStatus([a *plugin.Agent]) T | (T, error)
//
// Initialize and Cleanup may also omit the agent parameter.
func ValidateContract(u Unit) (Capabilities, error) {
	var caps Capabilities
	path := u.Path()

	if !u.Has(SymbolProcessCommand) {
		return caps, failure(CodeMissingEntryPoint, path, nil, "%s does not define %s", path, SymbolProcessCommand)
	}
	fn, err := u.Lookup(SymbolProcessCommand)
	if err == nil {
		caps.Process, err = adaptCommand(fn)
	}
	if err != nil {
		return caps, failure(CodeMissingEntryPoint, path, err, "%s in %s is not callable as an entry point", SymbolProcessCommand, path)
	}

	hooks := []struct {
		name  string
		adapt func(reflect.Value) error
	}{
		{SymbolInitialize, func(v reflect.Value) (err error) { caps.Init, err = adaptHook(v); return }},
		{SymbolCleanup, func(v reflect.Value) (err error) { caps.Cleanup, err = adaptHook(v); return }},
		{SymbolGetStatus, func(v reflect.Value) (err error) { caps.Status, err = adaptStatus(v); return }},
	}
	for _, h := range hooks {
		if !u.Has(h.name) {
			continue
		}
		v, err := u.Lookup(h.name)
		if err == nil {
			err = h.adapt(v)
		}
		if err != nil {
			return Capabilities{}, failure(CodeInvalidHook, path, err, "%s in %s has an unusable signature", h.name, path)
		}
	}
	return caps, nil
}

type resultShape int

const (
	shapeNone resultShape = iota
	shapeValue
	shapeError
	shapeValueError
)

func shapeOf(t reflect.Type) (resultShape, error) {
	switch t.NumOut() {
	case 0:
		return shapeNone, nil
	case 1:
		if t.Out(0) == errorType {
			return shapeError, nil
		}
		return shapeValue, nil
	case 2:
		if t.Out(1) == errorType {
			return shapeValueError, nil
		}
	}
	return 0, fmt.Errorf("unsupported results in %s", t)
}

func unpack(out []reflect.Value, shape resultShape) (any, error) {
	switch shape {
	case shapeValue:
		return valueOf(out[0]), nil
	case shapeError:
		return nil, errorOf(out[0])
	case shapeValueError:
		return valueOf(out[0]), errorOf(out[1])
	}
	return nil, nil
}

func valueOf(v reflect.Value) any {
	if !v.IsValid() || (v.Kind() == reflect.Interface && v.IsNil()) {
		return nil
	}
	return v.Interface()
}

func errorOf(v reflect.Value) error {
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	err, _ := v.Interface().(error)
	return err
}

func checkFunc(v reflect.Value) (reflect.Type, error) {
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function")
	}
	if v.IsNil() {
		return nil, fmt.Errorf("nil function")
	}
	return v.Type(), nil
}

func takesAgent(t reflect.Type, i int) bool {
	return agentType.AssignableTo(t.In(i))
}

func adaptCommand(v reflect.Value) (CommandFunc, error) {
	t, err := checkFunc(v)
	if err != nil {
		return nil, err
	}
	if t.NumIn() != 2 || !takesAgent(t, 0) || t.In(1).Kind() != reflect.String {
		return nil, fmt.Errorf("want func(*plugin.Agent, string), have %s", t)
	}
	shape, err := shapeOf(t)
	if err != nil {
		return nil, err
	}
	cmdType := t.In(1)
	return func(a *Agent, command string) (any, error) {
		out := v.Call([]reflect.Value{reflect.ValueOf(a), reflect.ValueOf(command).Convert(cmdType)})
		return unpack(out, shape)
	}, nil
}

func agentArgs(t reflect.Type, a *Agent) []reflect.Value {
	if t.NumIn() == 0 {
		return nil
	}
	return []reflect.Value{reflect.ValueOf(a)}
}

func adaptHook(v reflect.Value) (HookFunc, error) {
	t, err := checkFunc(v)
	if err != nil {
		return nil, err
	}
	if t.NumIn() > 1 || (t.NumIn() == 1 && !takesAgent(t, 0)) {
		return nil, fmt.Errorf("want func(*plugin.Agent), have %s", t)
	}
	shape, err := shapeOf(t)
	if err != nil {
		return nil, err
	}
	if shape != shapeNone && shape != shapeError {
		return nil, fmt.Errorf("hook may only return error, have %s", t)
	}
	return func(a *Agent) error {
		_, err := unpack(v.Call(agentArgs(t, a)), shape)
		return err
	}, nil
}

func adaptStatus(v reflect.Value) (StatusFunc, error) {
	t, err := checkFunc(v)
	if err != nil {
		return nil, err
	}
	if t.NumIn() > 1 || (t.NumIn() == 1 && !takesAgent(t, 0)) {
		return nil, fmt.Errorf("want func() or func(*plugin.Agent), have %s", t)
	}
	shape, err := shapeOf(t)
	if err != nil {
		return nil, err
	}
	if shape != shapeValue && shape != shapeValueError {
		return nil, fmt.Errorf("status must return a value, have %s", t)
	}
	return func(a *Agent) (any, error) {
		return unpack(v.Call(agentArgs(t, a)), shape)
	}, nil
}
