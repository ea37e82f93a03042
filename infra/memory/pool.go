package memory

import "sync"

// Pool is a typed wrapper over sync.Pool.
type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}

// Buffer is a reusable byte slice for encoders.
type Buffer struct {
	B []byte
}

// NewBufferPool returns a pool of buffers with at least size capacity.
func NewBufferPool(size int) *Pool[Buffer] {
	return NewPool(func() *Buffer {
		return &Buffer{B: make([]byte, 0, size)}
	})
}
