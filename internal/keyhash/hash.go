package keyhash

import (
	"fmt"
	"math"

	"github.com/goccy/go-reflect"

	"github.com/binc4t/gleamy"
)

// FNV-1a 64-bit parameters.
const (
	offset64 = 14695981039346656037
	prime64  = 1099511628211
)

// For returns a hash function for keys of type K.
// It supports string, integer, float and boolean kinds, including named types
// of those kinds. Signed integers of any width hash to the same value as their
// numeric value, and floats are widened to float64 before hashing.
// For any other kind it panics: such keys need an explicit hash function
// supplied by the caller.
func For[K gleamy.KeyConstraint]() func(K) uint64 {
	var zero K
	switch kind := reflect.TypeOf(&zero).Elem().Kind(); kind {
	case reflect.String:
		return func(key K) uint64 {
			return hashString(reflect.ValueOf(key).String())
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(key K) uint64 {
			return hashUint64(uint64(reflect.ValueOf(key).Int()))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(key K) uint64 {
			return hashUint64(reflect.ValueOf(key).Uint())
		}
	case reflect.Float32, reflect.Float64:
		return func(key K) uint64 {
			return hashUint64(math.Float64bits(reflect.ValueOf(key).Float()))
		}
	case reflect.Bool:
		return func(key K) uint64 {
			if reflect.ValueOf(key).Bool() {
				return hashUint64(1)
			}
			return hashUint64(0)
		}
	case reflect.Uintptr:
		panic("keyhash: uintptr cannot be a hash key")
	default:
		panic(fmt.Sprintf("keyhash: no default hash for key kind %s, provide an explicit hash function", kind))
	}
}

// hashString computes the 64-bit FNV-1a hash of s.
func hashString(s string) uint64 {
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// hashUint64 computes the 64-bit FNV-1a hash of v's eight bytes, least
// significant byte first.
func hashUint64(v uint64) uint64 {
	h := uint64(offset64)
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= prime64
		v >>= 8
	}
	return h
}
