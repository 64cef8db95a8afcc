package config

import (
	"reflect"
)

// Merge overlays the set fields of src onto dst. A field counts as set when it
// is not the zero value; lists replace, they are not appended.
func Merge(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}
	mergeValues(reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem())
}

func mergeValues(dst, src reflect.Value) {
	if !dst.CanSet() || !src.IsValid() {
		return
	}

	switch dst.Kind() {
	case reflect.Struct:
		mergeStruct(dst, src)
	case reflect.Slice:
		mergeSlice(dst, src)
	default:
		mergeScalar(dst, src)
	}
}

func mergeStruct(dst, src reflect.Value) {
	for i := 0; i < dst.NumField(); i++ {
		mergeValues(dst.Field(i), src.Field(i))
	}
}

func mergeSlice(dst, src reflect.Value) {
	if src.Len() > 0 {
		dst.Set(reflect.AppendSlice(reflect.MakeSlice(src.Type(), 0, src.Len()), src))
	}
}

func mergeScalar(dst, src reflect.Value) {
	if !src.IsZero() {
		dst.Set(src)
	}
}
