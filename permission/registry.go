package permission

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrFrozen            = errors.New("permission: registry frozen")
	ErrEmptyName         = errors.New("permission: empty name")
	ErrDuplicate         = errors.New("permission: already registered")
	ErrLimitExceeded     = errors.New("permission: limit exceeded")
	ErrUnknown           = errors.New("permission: not registered")
	ErrRoleExists        = errors.New("permission: role already registered")
	ErrRoleManagerFrozen = errors.New("permission: role manager frozen")
)

// Registry maps permission names to bit positions.
type Registry struct {
	root    string
	rootBit int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry returns an empty registry. When root is not empty it is bound
// to the highest bit, and a mask holding it has every permission.
func NewRegistry(root string) *Registry {
	r := &Registry{
		root:      root,
		rootBit:   -1,
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
	if root != "" {
		r.rootBit = MaxBits - 1
		r.nameToBit[root] = r.rootBit
		r.bitToName[r.rootBit] = root
	}
	return r
}

// Register assigns the next free bit to name and returns it.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrFrozen
	}
	if name == "" {
		return -1, ErrEmptyName
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	next := len(r.nameToBit)
	limit := MaxBits
	if r.rootBit >= 0 {
		next-- // the root is already counted
		limit = r.rootBit
	}
	if next >= limit {
		return -1, ErrLimitExceeded
	}

	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Bit returns the bit assigned to name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission bound to bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Mask builds the mask holding names.
func (r *Registry) Mask(names ...string) (Mask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m Mask
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknown, name)
		}
		m.Set(bit)
	}
	return m, nil
}

// Allows reports whether m grants name, either directly or through the root
// permission.
func (r *Registry) Allows(m Mask, name string) bool {
	bit, ok := r.Bit(name)
	if !ok {
		return false
	}
	if r.rootBit >= 0 && m.Has(r.rootBit) {
		return true
	}
	return m.Has(bit)
}

// Names lists the permissions set in m in registration order, root last.
func (r *Registry) Names(m Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, m.Len())
	for bit := 0; bit < MaxBits; bit++ {
		if !m.Has(bit) {
			continue
		}
		if name, ok := r.bitToName[bit]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Count returns the number of registered permissions, root included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Root returns the root permission name and bit, if one is reserved.
func (r *Registry) Root() (string, int, bool) {
	return r.root, r.rootBit, r.rootBit >= 0
}
