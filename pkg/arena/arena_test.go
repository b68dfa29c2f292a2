package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushAndBytes(t *testing.T) {
	a := New("test", 128)
	off := a.Push(16)
	b := a.Bytes(off, 16)
	require.Len(t, b, 16)
	b[0] = 0xAB
	require.Equal(t, byte(0xAB), a.Bytes(off, 16)[0])
}

func TestPushAlignment(t *testing.T) {
	a := New("test", 128)
	o1 := a.Push(3)
	o2 := a.Push(3)
	require.Equal(t, Offset(0), o1)
	require.Equal(t, Offset(8), o2)
}

func TestPushClearedIsZeroed(t *testing.T) {
	a := New("test", 64)
	off := a.Push(16)
	copy(a.Bytes(off, 16), []byte("junkjunkjunkjunk"))

	off2 := a.PushCleared(16)
	for _, b := range a.Bytes(off2, 16) {
		require.Zero(t, b)
	}
}

func TestExhaustionInvokesHandler(t *testing.T) {
	a := New("test", 8)
	called := false
	a.ErrorHandler = func(requested, remaining int) {
		called = true
		panic("arena exhausted (test)")
	}
	require.Panics(t, func() {
		a.Push(100)
	})
	require.True(t, called)
}

func TestScopeReleaseRewindsBumpPointer(t *testing.T) {
	a := New("test", 64)
	base := a.Used()

	func() {
		s := a.Begin()
		defer s.Release()
		s.Push(32)
		require.Greater(t, a.Used(), base)
	}()

	require.Equal(t, base, a.Used())
}

func TestResetReclaimsEverything(t *testing.T) {
	a := New("test", 64)
	a.Push(32)
	require.NotZero(t, a.Used())
	a.Reset()
	require.Zero(t, a.Used())
}
