package tss

import (
	"unsafe"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	s := NewStore()
	key := NewKey()

	v, ok := s.Get(key)
	assert.False(t, ok)
	assert.Nil(t, v)

	val := new(int)
	*val = 42
	s.Set(key, unsafe.Pointer(val), nil)

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, val, (*int)(got))
}

func TestStore_SetReplaceDoesNotRunOldDestructor(t *testing.T) {
	s := NewStore()
	key := NewKey()

	ran := false
	s.Set(key, unsafe.Pointer(new(int)), func(unsafe.Pointer) { ran = true })
	s.Set(key, unsafe.Pointer(new(int)), nil)

	assert.False(t, ran, "Set must never invoke the destructor of the value it replaces")
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	key := NewKey()

	ran := false
	val := new(int)
	s.Set(key, unsafe.Pointer(val), func(p unsafe.Pointer) { ran = true; assert.Equal(t, val, (*int)(p)) })
	s.Clear(key)

	_, ok := s.Get(key)
	assert.False(t, ok)
	assert.True(t, ran, "Clear must invoke the registered destructor before removing the entry")
}

func TestStore_Clear_NilValueSkipsDestructor(t *testing.T) {
	s := NewStore()
	key := NewKey()

	ran := false
	s.Set(key, nil, func(unsafe.Pointer) { ran = true })
	s.Clear(key)

	assert.False(t, ran, "a nil value must not trigger its destructor")
}

func TestStore_Clear_UnknownKeyIsNoop(t *testing.T) {
	s := NewStore()
	assert.NotPanics(t, func() { s.Clear(NewKey()) })
}

func TestStore_RunDestructors_InvokesEachOnce(t *testing.T) {
	s := NewStore()
	keyA, keyB := NewKey(), NewKey()

	var calledWith []unsafe.Pointer
	a, b := new(int), new(int)
	s.Set(keyA, unsafe.Pointer(a), func(p unsafe.Pointer) { calledWith = append(calledWith, p) })
	s.Set(keyB, unsafe.Pointer(b), func(p unsafe.Pointer) { calledWith = append(calledWith, p) })

	s.RunDestructors()

	assert.Len(t, calledWith, 2)
	assert.ElementsMatch(t, []unsafe.Pointer{unsafe.Pointer(a), unsafe.Pointer(b)}, calledWith)

	_, ok := s.Get(keyA)
	assert.False(t, ok, "destructed values must not remain readable")
}

func TestStore_RunDestructors_NilValueSkipped(t *testing.T) {
	s := NewStore()
	key := NewKey()

	ran := false
	s.Set(key, nil, func(unsafe.Pointer) { ran = true })
	s.RunDestructors()

	assert.False(t, ran, "a nil value must not trigger its destructor")
}

func TestStore_RunDestructors_CascadingSetCaughtByLaterPass(t *testing.T) {
	s := NewStore()
	keyA, keyB := NewKey(), NewKey()

	bRan := false
	valB := new(int)

	s.Set(keyA, unsafe.Pointer(new(int)), func(unsafe.Pointer) {
		// A destructor installing a fresh TLS entry must still be
		// cleaned up, in a subsequent sweep pass.
		s.Set(keyB, unsafe.Pointer(valB), func(unsafe.Pointer) { bRan = true })
	})

	s.RunDestructors()

	assert.True(t, bRan, "a value set by another key's destructor must still be destructed")
	_, ok := s.Get(keyB)
	assert.False(t, ok)
}

func TestStore_RunDestructors_CapsPassesOnInfiniteCascade(t *testing.T) {
	s := NewStore()
	key := NewKey()

	passes := 0
	var reseed Destructor
	reseed = func(unsafe.Pointer) {
		passes++
		s.Set(key, unsafe.Pointer(new(int)), reseed)
	}
	s.Set(key, unsafe.Pointer(new(int)), reseed)

	s.RunDestructors()

	assert.Equal(t, maxDtorPasses, passes, "an endlessly reseeding destructor must be capped, not looped forever")
	// After the cap is hit, the last reseeded value is left in place.
	_, ok := s.Get(key)
	assert.True(t, ok)
}

func TestStore_RunDestructors_EmptyStoreIsNoop(t *testing.T) {
	s := NewStore()
	assert.NotPanics(t, func() { s.RunDestructors() })
}

func TestNewKey_Unique(t *testing.T) {
	a, b := NewKey(), NewKey()
	assert.NotEqual(t, a, b)
}
