// Package reflector derives stable type names for events and aggregates.
// Names are of the form "pkg.Type" (base package name, not the full import
// path) so they survive module renames and stay readable in stored envelopes.
package reflector

import (
	"reflect"
	"strings"
	"sync"
)

var (
	mu    sync.RWMutex
	names = map[reflect.Type]string{}
)

// NameOf returns the stable name for the dynamic type of v.
// Pointers are dereferenced first.
func NameOf(v any) string {
	return nameForType(reflect.TypeOf(v))
}

// NameFor returns the stable name for T.
func NameFor[T any]() string {
	return nameForType(reflect.TypeOf((*T)(nil)).Elem())
}

func nameForType(t reflect.Type) string {
	if t == nil {
		return ""
	}

	mu.RLock()
	n, ok := names[t]
	mu.RUnlock()
	if ok {
		return n
	}

	e := t
	for e.Kind() == reflect.Pointer {
		e = e.Elem()
	}

	pkg := e.PkgPath()
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		pkg = pkg[i+1:]
	}
	if pkg == "" {
		n = e.Name()
	} else {
		n = pkg + "." + e.Name()
	}

	mu.Lock()
	names[t] = n
	mu.Unlock()
	return n
}
