// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package fixup maps faulting kernel instruction addresses to recovery
// addresses, so a kernel access to an optional instruction can fail safely.
package fixup

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/ezrec/xtrap/cpu"
)

// Entry is one exception table entry.
type Entry struct {
	Insn  uint64 // Address of the instruction that may fault.
	Fixup uint64 // Where to resume if it does.
}

func (ent Entry) String() string {
	return fmt.Sprintf("%x->%x", ent.Insn, ent.Fixup)
}

// Table is a sorted exception table. It is immutable once built.
type Table struct {
	entries []Entry
}

// Build sorts the entries into a table. An instruction address may only
// appear once.
func Build(entries ...Entry) (table *Table, err error) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(a.Insn, b.Insn)
	})

	for n := 1; n < len(sorted); n++ {
		if sorted[n].Insn == sorted[n-1].Insn {
			err = errors.Join(err, ErrDuplicate(sorted[n].Insn))
		}
	}
	if err != nil {
		return
	}

	table = &Table{entries: sorted}
	return
}

// Len returns the number of entries.
func (table *Table) Len() int {
	if table == nil {
		return 0
	}
	return len(table.entries)
}

// Search finds the entry for a faulting instruction address.
func (table *Table) Search(ip uint64) (ent Entry, ok bool) {
	if table == nil {
		return
	}

	n, found := slices.BinarySearchFunc(table.entries, ip, func(e Entry, ip uint64) int {
		return cmp.Compare(e.Insn, ip)
	})
	if !found {
		return
	}

	ent = table.entries[n]
	ok = true
	return
}

// Fixup rewrites the instruction pointer of a kernel fault to its
// recovery address. It returns false, leaving regs untouched, if the
// faulting address has no entry.
func (table *Table) Fixup(regs *cpu.Regs) bool {
	ent, ok := table.Search(regs.Ip)
	if !ok {
		return false
	}

	regs.Ip = ent.Fixup
	return true
}
