package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquire_AllocatesWhenEmpty(t *testing.T) {
	p := New[int16]()
	b := p.Acquire()
	assert.Equal(t, 0, len(b.Samples))
	assert.Equal(t, DefaultCapacity, cap(b.Samples))
}

func TestAcquireRelease_Reuses(t *testing.T) {
	p := New[int16]()
	b := p.Acquire()
	b.Samples = append(b.Samples, 1, 2, 3)
	p.Release(b)
	assert.Equal(t, 1, p.Len())

	b2 := p.Acquire()
	assert.Same(t, b, b2)
	assert.Equal(t, 0, len(b2.Samples))
}

func TestRelease_CapsRetainedCount(t *testing.T) {
	p := New[int16]()
	bufs := make([]*Buffer[int16], MaxRetained+10)
	for i := range bufs {
		bufs[i] = p.Acquire()
	}
	for _, b := range bufs {
		p.Release(b)
	}
	assert.Equal(t, MaxRetained, p.Len())
}

func TestRelease_Nil_NoPanic(t *testing.T) {
	p := New[int16]()
	assert.NotPanics(t, func() { p.Release(nil) })
}

func TestResize_GrowsPastCapacity(t *testing.T) {
	p := New[int16]()
	b := p.Acquire()
	samples := b.Resize(DefaultCapacity + 100)
	assert.Len(t, samples, DefaultCapacity+100)
}

func TestResize_ReusesCapacityAndZeroes(t *testing.T) {
	p := New[int32]()
	b := p.Acquire()
	samples := b.Resize(8)
	for i := range samples {
		samples[i] = int32(i + 1)
	}
	samples = b.Resize(4)
	assert.Equal(t, []int32{0, 0, 0, 0}, samples)
}

func TestInt16AndInt32_AreDistinctGlobals(t *testing.T) {
	assert.NotSame(t, Int16(), Int32())
	assert.Same(t, Int16(), Int16())
}
