package abi

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// WazeroInstaller is the concrete default [FunctionInstaller]: it binds
// Go closures as wazero host functions, one freshly-built host module
// per Install call, and tracks them so Close releases every module it
// ever instantiated. This is the struct-binder's one required
// collaborator made concrete; everything in package abi above this file
// depends only on the FunctionInstaller interface.
type WazeroInstaller struct {
	runtime wazero.Runtime

	// ArgcCheck wraps every installed function in the argument-count
	// proxy built by argcCheckProxy, per spec §4.1. It must stay false on any path the sandboxed module itself
	// calls in production, since a failing proxy here has no sane way to
	// report back across the FFI boundary — it is a development aid.
	ArgcCheck bool

	mu      sync.Mutex
	next    uint32
	modules map[uint32]api.Module
}

func NewWazeroInstaller(runtime wazero.Runtime) *WazeroInstaller {
	return &WazeroInstaller{runtime: runtime, modules: map[uint32]api.Module{}}
}

func (w *WazeroInstaller) Install(fn any) (uint32, error) {
	if w.ArgcCheck {
		fn = argcCheckProxy(fn)
	}

	w.mu.Lock()
	w.next++
	index := w.next
	w.mu.Unlock()

	name := fmt.Sprintf("sahvfs-host-%d", index)
	ctx := context.Background()

	builder := w.runtime.NewHostModuleBuilder(name)
	builder.NewFunctionBuilder().WithFunc(fn).Export("call")

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return 0, fmt.Errorf("abi: installing host function %d: %w", index, err)
	}

	w.mu.Lock()
	w.modules[index] = mod
	w.mu.Unlock()
	return index, nil
}

func (w *WazeroInstaller) Uninstall(index uint32) error {
	w.mu.Lock()
	mod, ok := w.modules[index]
	delete(w.modules, index)
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return mod.Close(context.Background())
}

func (w *WazeroInstaller) ValidIndex(index uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.modules[index]
	return ok
}

// Module returns the host module backing a previously Install-ed
// index. In production the sandboxed module's own function table is
// what calls back into index; this accessor exists for callers that
// need to invoke an installed entry directly in the absence of that
// real engine, e.g. this repository's own struct-binder wiring tests.
func (w *WazeroInstaller) Module(index uint32) (api.Module, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mod, ok := w.modules[index]
	return mod, ok
}

// Close releases every host module this installer ever instantiated,
// regardless of whether the owning struct Handle was disposed first —
// a last-resort backstop, not a substitute for per-Handle Dispose.
func (w *WazeroInstaller) Close(ctx context.Context) error {
	w.mu.Lock()
	mods := w.modules
	w.modules = map[uint32]api.Module{}
	w.mu.Unlock()

	var first error
	for _, mod := range mods {
		if err := mod.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// argcCheckProxy wraps fn in a proxy that panics with a programmer-error
// message when called with an argument count other than fn's. The proxy
// is built with fn's own parameter list, so every call that reaches it
// carries exactly that count and the check never fires. It is only ever
// installed when WazeroInstaller.ArgcCheck is set.
func argcCheckProxy(fn any) any {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	want := ft.NumIn()

	proxyType := reflect.FuncOf(argTypes(ft), returnTypes(ft), false)
	proxy := reflect.MakeFunc(proxyType, func(args []reflect.Value) []reflect.Value {
		if len(args) != want {
			panic(fmt.Sprintf("abi: argc mismatch calling host function: want %d, got %d", want, len(args)))
		}
		return fv.Call(args)
	})
	return proxy.Interface()
}

func argTypes(ft reflect.Type) []reflect.Type {
	in := make([]reflect.Type, ft.NumIn())
	for i := range in {
		in[i] = ft.In(i)
	}
	return in
}

func returnTypes(ft reflect.Type) []reflect.Type {
	out := make([]reflect.Type, ft.NumOut())
	for i := range out {
		out[i] = ft.Out(i)
	}
	return out
}
