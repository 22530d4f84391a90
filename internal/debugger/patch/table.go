// Package patch maintains the physical breakpoints of a program: one trap
// byte per patched address, shared by every logical breakpoint and
// temporary step target that refers to it.
package patch

import (
	"fmt"
	"sort"

	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// Reason names the kind of reference a site holds.
type Reason int

const (
	// User references come from the breakpoint registry.
	User Reason = iota
	// Step references are the temporary targets of an outstanding step.
	Step
	// OnLoad references pause at a freshly loaded script's first
	// instruction.
	OnLoad
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case User:
		return "user"
	case Step:
		return "step"
	case OnLoad:
		return "onload"
	default:
		return "unknown"
	}
}

// Code is the part of the program the table patches.
type Code interface {
	OpcodeAt(addr bytecode.Address) bytecode.Opcode
	InstallTrap(addr bytecode.Address)
	RemoveTrap(addr bytecode.Address, original bytecode.Opcode)
}

// Site is one patched address.
type Site struct {
	Addr     bytecode.Address
	Original bytecode.Opcode
	// Depths holds one call-stack depth filter per step reference. Zero
	// matches any depth.
	Depths []int
	OnLoad bool
	// User is the id of the user breakpoint at this site, zero if none.
	User int

	suspended bool
}

// RefCount returns the number of references keeping the trap installed.
func (s *Site) RefCount() int {
	n := len(s.Depths)
	if s.User != 0 {
		n++
	}
	if s.OnLoad {
		n++
	}
	return n
}

// MatchesDepth reports whether a step reference accepts depth.
func (s *Site) MatchesDepth(depth int) bool {
	for _, d := range s.Depths {
		if d == 0 || d == depth {
			return true
		}
	}
	return false
}

// HasStep reports whether the site carries step references.
func (s *Site) HasStep() bool {
	return len(s.Depths) > 0
}

// Table maps addresses to patch sites.
type Table struct {
	code  Code
	sites map[bytecode.Address]*Site
	log   *logging.Logger
}

// NewTable creates an empty table over code.
func NewTable(code Code, log *logging.Logger) *Table {
	return &Table{
		code:  code,
		sites: make(map[bytecode.Address]*Site),
		log:   logging.OrNull(log).WithComponent("patch"),
	}
}

// install returns the site at addr, creating it and writing the trap on
// first use. addr must lie in a compiled function.
func (t *Table) install(addr bytecode.Address) *Site {
	if s, ok := t.sites[addr]; ok {
		return s
	}
	s := &Site{Addr: addr, Original: t.code.OpcodeAt(addr)}
	if s.Original == bytecode.OpTrap {
		panic(fmt.Sprintf("patch: %s is already trapped outside the table", addr))
	}
	t.code.InstallTrap(addr)
	t.sites[addr] = s
	t.log.Debug("trap installed at %s over %s", addr, s.Original)
	return s
}

// AddUser attaches user breakpoint id to the site at addr. It fails when
// another user breakpoint already occupies the site.
func (t *Table) AddUser(addr bytecode.Address, id int) error {
	if s, ok := t.sites[addr]; ok && s.User != 0 && s.User != id {
		return fmt.Errorf("%s: occupied by breakpoint %d", addr, s.User)
	}
	t.install(addr).User = id
	return nil
}

// UserAt returns the user breakpoint installed at addr, zero if none.
func (t *Table) UserAt(addr bytecode.Address) int {
	if s, ok := t.sites[addr]; ok {
		return s.User
	}
	return 0
}

// AddStep adds a step reference filtered to depth.
func (t *Table) AddStep(addr bytecode.Address, depth int) {
	s := t.install(addr)
	s.Depths = append(s.Depths, depth)
}

// AddOnLoad marks addr as a script-load pause point.
func (t *Table) AddOnLoad(addr bytecode.Address) {
	t.install(addr).OnLoad = true
}

// Release drops the references of the given kind from the site at addr.
// Step releases every step reference. The trap is removed once nothing
// references the site.
func (t *Table) Release(addr bytecode.Address, reason Reason) {
	s, ok := t.sites[addr]
	if !ok {
		return
	}
	switch reason {
	case User:
		s.User = 0
	case Step:
		s.Depths = nil
	case OnLoad:
		s.OnLoad = false
	}
	if s.RefCount() > 0 {
		return
	}
	if !s.suspended {
		t.code.RemoveTrap(addr, s.Original)
	}
	delete(t.sites, addr)
	t.log.Debug("trap removed at %s", addr)
}

// ReleaseAll drops every reference of the given kind.
func (t *Table) ReleaseAll(reason Reason) {
	for _, addr := range t.addrs() {
		t.Release(addr, reason)
	}
}

// Lookup returns the site at addr.
func (t *Table) Lookup(addr bytecode.Address) (*Site, bool) {
	s, ok := t.sites[addr]
	return s, ok
}

// Original returns the opcode hidden under the trap at addr.
func (t *Table) Original(addr bytecode.Address) (bytecode.Opcode, bool) {
	s, ok := t.sites[addr]
	if !ok {
		return 0, false
	}
	return s.Original, true
}

// Suspend temporarily restores the original opcode at addr so the
// instruction can be executed in isolation. Restore reinstalls the trap.
func (t *Table) Suspend(addr bytecode.Address) {
	s, ok := t.sites[addr]
	if !ok || s.suspended {
		return
	}
	t.code.RemoveTrap(addr, s.Original)
	s.suspended = true
}

// Restore reinstalls a trap removed by Suspend, if the site survived.
func (t *Table) Restore(addr bytecode.Address) {
	s, ok := t.sites[addr]
	if !ok || !s.suspended {
		return
	}
	t.code.InstallTrap(addr)
	s.suspended = false
}

// Len returns the number of sites.
func (t *Table) Len() int {
	return len(t.sites)
}

// Installed returns the number of sites whose trap byte is in place.
func (t *Table) Installed() int {
	n := 0
	for _, s := range t.sites {
		if !s.suspended {
			n++
		}
	}
	return n
}

// Sites returns copies of all sites ordered by address.
func (t *Table) Sites() []Site {
	out := make([]Site, 0, len(t.sites))
	for _, addr := range t.addrs() {
		s := *t.sites[addr]
		s.Depths = append([]int(nil), s.Depths...)
		out = append(out, s)
	}
	return out
}

// Clear removes every site and restores all original opcodes.
func (t *Table) Clear() {
	for _, addr := range t.addrs() {
		s := t.sites[addr]
		if !s.suspended {
			t.code.RemoveTrap(addr, s.Original)
		}
		delete(t.sites, addr)
	}
}

func (t *Table) addrs() []bytecode.Address {
	addrs := make([]bytecode.Address, 0, len(t.sites))
	for addr := range t.sites {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Func != addrs[j].Func {
			return addrs[i].Func < addrs[j].Func
		}
		return addrs[i].Offset < addrs[j].Offset
	})
	return addrs
}
