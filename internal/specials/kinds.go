package specials

import (
	"fmt"
)

// Kind describes varieties of special functions.
type Kind int

const (
	KindInvalid Kind = iota

	// KindMalloc returns a fresh heap object whose size is given by an argument.
	KindMalloc

	// KindRealloc copies an object into a fresh heap object.
	KindRealloc

	// KindFree releases a heap object.
	KindFree

	// KindYield may hand control to another thread.
	KindYield

	// KindLock is a yield point that may be restricted to named lock domains.
	KindLock

	// KindReadFile fills a buffer with as many bytes as the call returns.
	KindReadFile
)

var kindValueMap = map[Kind]string{
	KindMalloc:   "malloc",
	KindRealloc:  "realloc",
	KindFree:     "free",
	KindYield:    "yield",
	KindLock:     "lock",
	KindReadFile: "readfile",
}

func (k Kind) String() string {
	v, ok := kindValueMap[k]
	if !ok {
		return fmt.Sprintf("invalid(%d)", k)
	}

	return v
}

// UnmarshalText for setting values with configs.
func (k *Kind) UnmarshalText(rawtext []byte) error {
	text := string(rawtext)
	for key, v := range kindValueMap {
		if v == text {
			*k = key
			return nil
		}
	}

	return fmt.Errorf("unknown special function kind %q", text)
}

// MarshalText is the inverse of UnmarshalText.
func (k Kind) MarshalText() ([]byte, error) {
	v, ok := kindValueMap[k]
	if !ok {
		return nil, fmt.Errorf("cannot marshal invalid Kind(%d)", k)
	}

	return []byte(v), nil
}

// Yields tells calls of this kind are yield points.
func (k Kind) Yields() bool {
	return k == KindYield || k == KindLock
}

// PathKind describes what a path condition asserts about the memory.
type PathKind int

const (
	PathKindInvalid PathKind = iota

	// PathKindIntmem asserts an integer stored in memory.
	PathKindIntmem

	// PathKindString asserts a byte string stored in memory.
	PathKindString

	// PathKindFunc asserts whatever a call of the function at the start
	// of the block establishes.
	PathKindFunc
)

var pathKindValueMap = map[PathKind]string{
	PathKindIntmem: "intmem",
	PathKindString: "string",
	PathKindFunc:   "func",
}

func (k PathKind) String() string {
	v, ok := pathKindValueMap[k]
	if !ok {
		return fmt.Sprintf("invalid(%d)", k)
	}

	return v
}

func (k *PathKind) UnmarshalText(rawtext []byte) error {
	text := string(rawtext)
	for key, v := range pathKindValueMap {
		if v == text {
			*k = key
			return nil
		}
	}

	return fmt.Errorf("unknown path condition kind %q", text)
}
