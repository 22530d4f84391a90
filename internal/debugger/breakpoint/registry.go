// Package breakpoint keeps the user's logical breakpoints and binds them to
// patch sites once their source location resolves to code.
package breakpoint

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/debugger/patch"
	"github.com/dshills/scriptdbg/internal/logging"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

// Errors returned by the registry.
var (
	// ErrNotFound is returned for unknown breakpoint ids.
	ErrNotFound = errors.New("breakpoint not found")

	// ErrSiteOccupied is returned when enabling a breakpoint whose address
	// already carries another user breakpoint.
	ErrSiteOccupied = errors.New("another breakpoint occupies the site")
)

// ID identifies a breakpoint. IDs are never reused.
type ID int

// InvalidID is returned when a breakpoint cannot be created.
const InvalidID ID = 0

// Valid reports whether id may name a breakpoint.
func (id ID) Valid() bool {
	return id != InvalidID
}

// Location is a requested source position. A zero Column means the first
// statement on the line.
type Location struct {
	File   string `yaml:"file"`
	Line   int    `yaml:"line"`
	Column int    `yaml:"column,omitempty"`
}

func (l Location) String() string {
	if l.Column == 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// ParseLocation parses "file:line" or "file:line:column".
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return Location{}, fmt.Errorf("location %q: want file:line[:column]", s)
	}
	nums := parts[len(parts)-1:]
	file := strings.Join(parts[:len(parts)-1], ":")
	if len(parts) >= 3 {
		if _, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
			nums = parts[len(parts)-2:]
			file = strings.Join(parts[:len(parts)-2], ":")
		}
	}
	loc := Location{File: file}
	var err error
	if loc.Line, err = strconv.Atoi(nums[0]); err != nil || loc.Line <= 0 {
		return Location{}, fmt.Errorf("location %q: bad line %q", s, nums[0])
	}
	if len(nums) == 2 {
		if loc.Column, err = strconv.Atoi(nums[1]); err != nil || loc.Column < 0 {
			return Location{}, fmt.Errorf("location %q: bad column %q", s, nums[1])
		}
	}
	if loc.File == "" {
		return Location{}, fmt.Errorf("location %q: missing file", s)
	}
	return loc, nil
}

// Resolver maps a source position to a code address.
type Resolver interface {
	Resolve(file string, line, column int) (bytecode.Address, bool)
}

// Info is a snapshot of one breakpoint.
type Info struct {
	ID        ID
	Location  Location
	Condition string
	Enabled   bool
	Resolved  bool
	// Addr is valid once Resolved is set.
	Addr bytecode.Address
	Hits int
}

type breakpoint struct {
	Info
}

// Registry holds the logical breakpoints. Like the patch table it lives on
// the interpreter goroutine.
type Registry struct {
	sites      *patch.Table
	resolver   Resolver
	bps        map[ID]*breakpoint
	nextID     ID
	onResolved func(Info)
	log        *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(sites *patch.Table, resolver Resolver, log *logging.Logger) *Registry {
	return &Registry{
		sites:    sites,
		resolver: resolver,
		bps:      make(map[ID]*breakpoint),
		nextID:   1,
		log:      logging.OrNull(log).WithComponent("breakpoint"),
	}
}

// OnResolved registers fn to be told when a pending breakpoint resolves.
func (r *Registry) OnResolved(fn func(Info)) {
	r.onResolved = fn
}

func (r *Registry) allocateID() ID {
	id := r.nextID
	r.nextID++
	return id
}

// Create adds an enabled breakpoint at loc. A location that matches no code
// yet is kept pending and retried by ResolveAll. Creating a second
// breakpoint at an occupied address fails with InvalidID.
func (r *Registry) Create(loc Location) ID {
	addr, ok := r.resolver.Resolve(loc.File, loc.Line, loc.Column)
	if ok && r.sites.UserAt(addr) != 0 {
		r.log.Debug("%s resolves to %s, already occupied by breakpoint %d", loc, addr, r.sites.UserAt(addr))
		return InvalidID
	}

	bp := &breakpoint{Info{ID: r.allocateID(), Location: loc, Enabled: true}}
	if ok {
		if err := r.sites.AddUser(addr, int(bp.ID)); err != nil {
			// UserAt was checked above.
			panic(err)
		}
		bp.Resolved, bp.Addr = true, addr
		r.log.Debug("breakpoint %d at %s resolved to %s", bp.ID, loc, addr)
	} else {
		r.log.Debug("breakpoint %d at %s pending", bp.ID, loc)
	}
	r.bps[bp.ID] = bp
	return bp.ID
}

func (r *Registry) get(id ID) (*breakpoint, error) {
	bp, ok := r.bps[id]
	if !ok {
		return nil, fmt.Errorf("breakpoint %d: %w", id, ErrNotFound)
	}
	return bp, nil
}

// SetCondition sets the expression that must be truthy for the breakpoint
// to pause. An empty expression removes the condition.
func (r *Registry) SetCondition(id ID, expr string) error {
	bp, err := r.get(id)
	if err != nil {
		return err
	}
	bp.Condition = strings.TrimSpace(expr)
	return nil
}

// Enable enables or disables a breakpoint, installing or releasing its
// patch site. Enabling fails with ErrSiteOccupied when another breakpoint
// took the address meanwhile.
func (r *Registry) Enable(id ID, on bool) error {
	bp, err := r.get(id)
	if err != nil {
		return err
	}
	if bp.Enabled == on {
		return nil
	}
	if bp.Resolved {
		if on {
			if err := r.sites.AddUser(bp.Addr, int(bp.ID)); err != nil {
				return fmt.Errorf("breakpoint %d: %w", id, ErrSiteOccupied)
			}
		} else {
			r.sites.Release(bp.Addr, patch.User)
		}
	}
	bp.Enabled = on
	return nil
}

// Delete removes a breakpoint.
func (r *Registry) Delete(id ID) error {
	bp, err := r.get(id)
	if err != nil {
		return err
	}
	if bp.Resolved && bp.Enabled {
		r.sites.Release(bp.Addr, patch.User)
	}
	delete(r.bps, id)
	return nil
}

// DeleteAll removes every breakpoint along with any temporary step sites.
// Script-load sites are kept.
func (r *Registry) DeleteAll() {
	r.bps = make(map[ID]*breakpoint)
	r.sites.ReleaseAll(patch.User)
	r.sites.ReleaseAll(patch.Step)
}

// Info returns a snapshot of a breakpoint.
func (r *Registry) Info(id ID) (Info, bool) {
	bp, ok := r.bps[id]
	if !ok {
		return Info{}, false
	}
	return bp.Info, true
}

// At returns the enabled breakpoint installed at addr.
func (r *Registry) At(addr bytecode.Address) (Info, bool) {
	id := r.sites.UserAt(addr)
	if id == 0 {
		return Info{}, false
	}
	return r.Info(ID(id))
}

// RecordHit increments a breakpoint's hit count.
func (r *Registry) RecordHit(id ID) {
	if bp, ok := r.bps[id]; ok {
		bp.Hits++
	}
}

// List returns all breakpoints ordered by id.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.bps))
	for _, bp := range r.bps {
		out = append(out, bp.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of breakpoints.
func (r *Registry) Len() int {
	return len(r.bps)
}

// ResolveAll retries every pending breakpoint. It is called whenever new
// code becomes available.
func (r *Registry) ResolveAll() {
	for _, info := range r.List() {
		if info.Resolved {
			continue
		}
		bp := r.bps[info.ID]
		addr, ok := r.resolver.Resolve(bp.Location.File, bp.Location.Line, bp.Location.Column)
		if !ok {
			continue
		}
		if bp.Enabled {
			if err := r.sites.AddUser(addr, int(bp.ID)); err != nil {
				r.log.Warn("breakpoint %d stays pending: %v", bp.ID, err)
				continue
			}
		}
		bp.Resolved, bp.Addr = true, addr
		r.log.Debug("breakpoint %d at %s resolved to %s", bp.ID, bp.Location, addr)
		if r.onResolved != nil {
			r.onResolved(bp.Info)
		}
	}
}
