// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"sync"
)

const (
	PAGE_SHIFT = 12
	PAGE_SIZE  = uint64(1 << PAGE_SHIFT)
	PAGE_MASK  = ^(PAGE_SIZE - 1)
)

// Memory copies bytes to and from the faulting context's address space.
// A failed copy is an ordinary returned error and moves no bytes.
type Memory interface {
	CopyFrom(dst []byte, addr uint64) (err error)
	CopyTo(addr uint64, src []byte) (err error)
}

// page is one mapped page of a PageMemory.
type page struct {
	data     [PAGE_SIZE]byte
	writable bool
}

// PageMemory is a sparse, page granular address space.
type PageMemory struct {
	lock  sync.RWMutex
	pages map[uint64]*page
}

// NewPageMemory creates an empty address space.
func NewPageMemory() (mem *PageMemory) {
	mem = &PageMemory{
		pages: map[uint64]*page{},
	}
	return
}

// Map maps the pages covering [addr, addr+size), zero filled. Pages
// already mapped keep their contents; their permission is updated.
func (mem *PageMemory) Map(addr uint64, size uint64, writable bool) {
	mem.lock.Lock()
	defer mem.lock.Unlock()

	if size == 0 {
		return
	}

	for pfn := addr >> PAGE_SHIFT; pfn <= (addr+size-1)>>PAGE_SHIFT; pfn++ {
		pg, ok := mem.pages[pfn]
		if !ok {
			pg = &page{}
			mem.pages[pfn] = pg
		}
		pg.writable = writable
	}
}

// Unmap removes the pages covering [addr, addr+size).
func (mem *PageMemory) Unmap(addr uint64, size uint64) {
	mem.lock.Lock()
	defer mem.lock.Unlock()

	if size == 0 {
		return
	}

	for pfn := addr >> PAGE_SHIFT; pfn <= (addr+size-1)>>PAGE_SHIFT; pfn++ {
		delete(mem.pages, pfn)
	}
}

// check verifies every byte of [addr, addr+size) is accessible.
func (mem *PageMemory) check(addr uint64, size int, write bool) (err error) {
	if size == 0 {
		return
	}

	last := addr + uint64(size) - 1
	if last < addr {
		err = ErrAddress(addr)
		return
	}

	for pfn := addr >> PAGE_SHIFT; pfn <= last>>PAGE_SHIFT; pfn++ {
		pg, ok := mem.pages[pfn]
		if !ok {
			where := pfn << PAGE_SHIFT
			if where < addr {
				where = addr
			}
			err = ErrAddress(where)
			return
		}
		if write && !pg.writable {
			err = ErrReadOnly
			return
		}
	}

	return
}

// CopyFrom reads len(dst) bytes at addr.
func (mem *PageMemory) CopyFrom(dst []byte, addr uint64) (err error) {
	mem.lock.RLock()
	defer mem.lock.RUnlock()

	err = mem.check(addr, len(dst), false)
	if err != nil {
		return
	}

	for n := 0; n < len(dst); {
		where := addr + uint64(n)
		pg := mem.pages[where>>PAGE_SHIFT]
		n += copy(dst[n:], pg.data[where&^PAGE_MASK:])
	}

	return
}

// CopyTo writes src at addr.
func (mem *PageMemory) CopyTo(addr uint64, src []byte) (err error) {
	mem.lock.Lock()
	defer mem.lock.Unlock()

	err = mem.check(addr, len(src), true)
	if err != nil {
		return
	}

	for n := 0; n < len(src); {
		where := addr + uint64(n)
		pg := mem.pages[where>>PAGE_SHIFT]
		n += copy(pg.data[where&^PAGE_MASK:], src[n:])
	}

	return
}

// Poke writes src at addr, ignoring page write permission. Used to load
// code into read-only pages.
func (mem *PageMemory) Poke(addr uint64, src []byte) (err error) {
	mem.lock.Lock()
	defer mem.lock.Unlock()

	err = mem.check(addr, len(src), false)
	if err != nil {
		return
	}

	for n := 0; n < len(src); {
		where := addr + uint64(n)
		pg := mem.pages[where>>PAGE_SHIFT]
		n += copy(pg.data[where&^PAGE_MASK:], src[n:])
	}

	return
}
