package rorchestrator

import (
	"reflect"
	"sync"
)

// typeTokenCache avoids repeated reflection for the same type, mirroring
// the teacher's typeName[T]() cache (cache.go) used to name contracts by
// their data type.
var (
	typeTokenCache   = make(map[reflect.Type]string)
	typeTokenCacheMu sync.RWMutex
)

// typeToken returns a stable, process-local string identifying type T.
// Plan compilation and PlanHash use this in place of a true reflection-
// free type identity (spec.md §9 "Reflection-based hashing of types":
// "for languages without runtime type reflection, substitute a
// developer-supplied type token string ... the hash algorithm is
// unchanged" — Go has reflection, so the token is derived from it rather
// than supplied by hand, but it plays the same role).
func typeToken[T any]() string {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	typeTokenCacheMu.RLock()
	if name, ok := typeTokenCache[typ]; ok {
		typeTokenCacheMu.RUnlock()
		return name
	}
	typeTokenCacheMu.RUnlock()

	typeTokenCacheMu.Lock()
	defer typeTokenCacheMu.Unlock()
	if name, ok := typeTokenCache[typ]; ok {
		return name
	}
	name := typ.String()
	typeTokenCache[typ] = name
	return name
}
