package tools

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/mcperr"
)

// Registry is the snapshot of tools advertised by a server.
// It is safe for concurrent use.
type Registry struct {
	lock   sync.RWMutex
	byName map[string]*Descriptor
	byFold map[string]*Descriptor
	order  []string
}

// NewRegistry returns a registry with the given tools
func NewRegistry(list ...*Descriptor) *Registry {
	r := &Registry{}
	r.Replace(list)
	return r
}

// Register adds the tool, replacing a tool with the same name
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return errors.New("tool name is required")
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.init()
	r.add(d)
	return nil
}

// Replace swaps the whole snapshot, a later duplicate replaces an earlier one
func (r *Registry) Replace(list []*Descriptor) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.byName = nil
	r.byFold = nil
	r.order = nil
	r.init()
	for _, d := range list {
		if d == nil || d.Name == "" {
			continue
		}
		r.add(d)
	}
}

func (r *Registry) init() {
	if r.byName == nil {
		r.byName = make(map[string]*Descriptor)
		r.byFold = make(map[string]*Descriptor)
	}
}

func (r *Registry) add(d *Descriptor) {
	if _, ok := r.byName[d.Name]; !ok {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
	r.byFold[strings.ToLower(d.Name)] = d
}

// Lookup resolves the name, exactly first and then case-insensitively
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if d, ok := r.byName[name]; ok {
		return d, nil
	}
	if d, ok := r.byFold[strings.ToLower(name)]; ok {
		return d, nil
	}
	return nil, mcperr.Mark(errors.Newf("tool %q not found", name), mcperr.ErrNotFound)
}

// Validate resolves the tool and checks the arguments against its schema.
// A failed check returns *mcperr.ValidationError listing every violated field.
func (r *Registry) Validate(name string, args map[string]any) (*Descriptor, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if d.Schema == nil {
		return d, nil
	}
	if violations := d.Schema.ValidateArgs(args); len(violations) > 0 {
		return d, mcperr.NewValidationError(d.Name, violations...)
	}
	return d, nil
}

// List returns the tools in discovery order
func (r *Registry) List() []*Descriptor {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.byName[name])
	}
	return list
}

// Names returns the tool names in discovery order
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of tools
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.order)
}

// Fingerprint returns a hash of the tool names and schemas,
// it changes when the server advertises a different tool set.
func (r *Registry) Fingerprint() uint64 {
	r.lock.RLock()
	defer r.lock.RUnlock()

	h := xxhash.New()
	for _, name := range r.order {
		_, _ = h.WriteString(name)
		_, _ = h.WriteString("\x00")
		if s := r.byName[name].Schema; s != nil {
			_, _ = h.WriteString(strconv.FormatUint(s.Fingerprint(), 16))
		}
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}
