// Copyright 2023 Paweł Gaczyński.
// Copyright 2020 The golang.design Initiative authors.
// All rights reserved. Use of this source code is governed
// by a MIT license that can be found in the LICENSE file.
//
// Original source: https://github.com/golang-design/lockfree/blob/master/stack.go

// Package freelist holds free resources, such as buffer indices or handles,
// that several goroutines take and give back without a lock.
package freelist

import (
	"sync/atomic"
	"unsafe"
)

type entry[T any] struct {
	value T
	next  unsafe.Pointer
}

// FreeList is a lock-free LIFO. The most recently returned value is taken
// first, which keeps hot buffers hot.
type FreeList[T any] struct {
	head unsafe.Pointer
	len  int64
}

func New[T any]() *FreeList[T] {
	return &FreeList[T]{}
}

// Take removes the most recently returned value. ok is false when the list
// is empty.
func (l *FreeList[T]) Take() (value T, ok bool) {
	for {
		head := atomic.LoadPointer(&l.head)
		if head == nil {
			return value, false
		}
		e := (*entry[T])(head)
		if atomic.CompareAndSwapPointer(&l.head, head, atomic.LoadPointer(&e.next)) {
			atomic.AddInt64(&l.len, -1)

			return e.value, true
		}
	}
}

// Put returns a value to the list.
func (l *FreeList[T]) Put(value T) {
	e := &entry[T]{value: value}
	for {
		head := atomic.LoadPointer(&l.head)
		e.next = head
		if atomic.CompareAndSwapPointer(&l.head, head, unsafe.Pointer(e)) {
			atomic.AddInt64(&l.len, 1)

			return
		}
	}
}

func (l *FreeList[T]) Len() int {
	return int(atomic.LoadInt64(&l.len))
}
