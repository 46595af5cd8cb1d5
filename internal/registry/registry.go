// Package registry maps GraphQL type names to collections and derives
// query parameters (selector, sort, limit) from a watch's terms.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/selector"
)

// DefaultIDField is used when a collection does not name its id field.
const DefaultIDField = "_id"

var (
	// ErrUnknownView is returned when terms name a view the collection
	// does not define.
	ErrUnknownView = errors.New("unknown view")

	// ErrInvalidTerms is returned when terms carry a value of the wrong type.
	ErrInvalidTerms = errors.New("invalid terms")

	// ErrInvalidSelector is returned when a view's selector does not parse.
	ErrInvalidSelector = errors.New("invalid selector")
)

// Collection describes one document collection and its list views.
type Collection struct {
	// Name is the collection name, e.g. "Posts".
	Name string

	// TypeName is the GraphQL type, e.g. "Post".
	TypeName string

	// IDField holds the document id. Defaults to DefaultIDField.
	IDField string

	// ResolverName overrides the multi resolver field. Empty means
	// mutation.MultiResolverName(TypeName).
	ResolverName string

	// DefaultView applies to every watch; a named view is layered on top.
	DefaultView View

	// Views are the named views selectable with terms.view.
	Views map[string]View
}

// View is a named list view: a selector template plus ordering.
//
// Selector values of the form "$terms.<name>" are replaced by the term of
// that name. When the term is absent the enclosing condition is dropped.
type View struct {
	Name     string
	Selector ir.IRObject
	Sort     selector.SortSpec
	Limit    int
}

// Parameters are the derived query parameters for one watch.
type Parameters struct {
	// Source is the resolved selector document.
	Source ir.IRObject

	// Selector is Source parsed.
	Selector selector.Predicate

	// Sort orders the page. Empty means server order is kept.
	Sort selector.SortSpec

	// Limit caps the page length. Zero means unbounded.
	Limit int
}

// Resolver returns the multi resolver field name for the collection.
func (c *Collection) Resolver() string {
	if c.ResolverName != "" {
		return c.ResolverName
	}
	return mutation.MultiResolverName(c.TypeName)
}

// IDKey returns the id field name.
func (c *Collection) IDKey() string {
	if c.IDField == "" {
		return DefaultIDField
	}
	return c.IDField
}

// ID returns the document's id, or false when it has none.
func (c *Collection) ID(doc ir.IRObject) (ir.IRValue, bool) {
	v, ok := doc[c.IDKey()]
	if !ok {
		return nil, false
	}
	if _, isNull := v.(ir.IRNull); isNull {
		return nil, false
	}
	return v, true
}

// ViewNames returns the named views in sorted order.
func (c *Collection) ViewNames() []string {
	names := make([]string, 0, len(c.Views))
	for name := range c.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the collection's own fields and that the static part of
// every view selector parses.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.TypeName == "" {
		return fmt.Errorf("collection %s: type name is required", c.Name)
	}
	if err := validateTemplate(c.DefaultView.Selector); err != nil {
		return fmt.Errorf("collection %s: default view: %w", c.Name, err)
	}
	for _, name := range c.ViewNames() {
		v := c.Views[name]
		if err := validateTemplate(v.Selector); err != nil {
			return fmt.Errorf("collection %s: view %s: %w", c.Name, name, err)
		}
		if v.Limit < 0 {
			return fmt.Errorf("collection %s: view %s: limit must not be negative", c.Name, name)
		}
	}
	return nil
}

// StaticSelector returns the view's selector with every placeholder
// treated as an absent term.
func (v View) StaticSelector() ir.IRObject {
	filled, _ := substitute(v.Selector, placeholderFiller{})
	obj, _ := filled.(ir.IRObject)
	if obj == nil {
		return ir.IRObject{}
	}
	return obj
}

func validateTemplate(tmpl ir.IRObject) error {
	if _, err := selector.Parse(View{Selector: tmpl}.StaticSelector()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	return nil
}

// Registry indexes collections by type name and by collection name.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]*Collection
	byName map[string]*Collection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byType: make(map[string]*Collection),
		byName: make(map[string]*Collection),
	}
}

// Register validates and adds c. Type names and collection names must be
// unique.
func (r *Registry) Register(c *Collection) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byType[c.TypeName]; dup {
		return fmt.Errorf("type %s already registered", c.TypeName)
	}
	if _, dup := r.byName[c.Name]; dup {
		return fmt.Errorf("collection %s already registered", c.Name)
	}
	r.byType[c.TypeName] = c
	r.byName[c.Name] = c
	return nil
}

// Lookup finds the collection for a GraphQL type name.
func (r *Registry) Lookup(typeName string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[typeName]
	return c, ok
}

// ByName finds a collection by its collection name.
func (r *Registry) ByName(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Collections returns every collection ordered by name.
func (r *Registry) Collections() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Collection, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
