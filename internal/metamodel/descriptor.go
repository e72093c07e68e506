package metamodel

import (
	"sync"
)

// Descriptor answers the structural questions completion asks about a schema
type Descriptor interface {
	// ClassByCommand resolves a command keyword to its class
	ClassByCommand(name string) (*Class, bool)

	// LabeledFeatures lists features written as "name: value", in order
	LabeledFeatures(c *Class) []*Feature

	// UnlabeledFeatures lists positional features, in order
	UnlabeledFeatures(c *Class) []*Feature

	// ContainmentFeature finds the containment feature used as role name
	ContainmentFeature(c *Class, role string) (*Feature, bool)

	// ConcreteSubtypes lists the non-abstract classes conforming to c
	ConcreteSubtypes(c *Class) []*Class

	// SingleContainmentFeaturesByTargetType maps each class that can be a child
	// of c to its containment feature, leaving out classes reachable through
	// more than one feature
	SingleContainmentFeaturesByTargetType(c *Class) map[*Class]*Feature

	// RootClasses lists the concrete classes that are never contained
	RootClasses() []*Class
}

type queryKey struct {
	query string
	class string
}

// Adapter implements Descriptor over a Schema.
// Every derived answer is memoized per (query, class); the schema is immutable
// so entries never go stale.
type Adapter struct {
	schema *Schema

	cache map[queryKey]any
	mu    sync.Mutex
}

// NewAdapter creates a descriptor adapter for a schema
func NewAdapter(schema *Schema) *Adapter {
	return &Adapter{
		schema: schema,
		cache:  make(map[queryKey]any),
	}
}

// Schema returns the underlying schema
func (a *Adapter) Schema() *Schema {
	return a.schema
}

func (a *Adapter) memo(query string, c *Class, compute func() any) any {
	key := queryKey{query: query}
	if c != nil {
		key.class = c.Name
	}

	a.mu.Lock()
	if v, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return v
	}
	a.mu.Unlock()

	v := compute()

	a.mu.Lock()
	a.cache[key] = v
	a.mu.Unlock()
	return v
}

// ClassByCommand resolves a command keyword to its class
func (a *Adapter) ClassByCommand(name string) (*Class, bool) {
	return a.schema.Class(name)
}

// AllFeatures returns inherited features followed by the class's own
func (a *Adapter) AllFeatures(c *Class) []*Feature {
	return a.memo("all_features", c, func() any {
		seen := make(map[*Feature]bool)
		var out []*Feature
		var collect func(*Class)
		collect = func(cl *Class) {
			for _, s := range cl.Supertypes {
				collect(s)
			}
			for _, f := range cl.Features {
				if !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
		}
		collect(c)
		return out
	}).([]*Feature)
}

// LabeledFeatures lists non-containment features that are not positional
func (a *Adapter) LabeledFeatures(c *Class) []*Feature {
	return a.memo("labeled", c, func() any {
		var out []*Feature
		for _, f := range a.AllFeatures(c) {
			if f.Kind != Containment && !f.Unlabeled {
				out = append(out, f)
			}
		}
		return out
	}).([]*Feature)
}

// UnlabeledFeatures lists positional features in declaration order
func (a *Adapter) UnlabeledFeatures(c *Class) []*Feature {
	return a.memo("unlabeled", c, func() any {
		var out []*Feature
		for _, f := range a.AllFeatures(c) {
			if f.Kind != Containment && f.Unlabeled {
				out = append(out, f)
			}
		}
		return out
	}).([]*Feature)
}

// ContainmentFeatures lists the containment features of a class
func (a *Adapter) ContainmentFeatures(c *Class) []*Feature {
	return a.memo("containments", c, func() any {
		var out []*Feature
		for _, f := range a.AllFeatures(c) {
			if f.Kind == Containment {
				out = append(out, f)
			}
		}
		return out
	}).([]*Feature)
}

// ContainmentFeature finds a containment feature by role name
func (a *Adapter) ContainmentFeature(c *Class, role string) (*Feature, bool) {
	for _, f := range a.ContainmentFeatures(c) {
		if f.Name == role {
			return f, true
		}
	}
	return nil, false
}

// Feature finds any feature of a class by name
func (a *Adapter) Feature(c *Class, name string) (*Feature, bool) {
	for _, f := range a.AllFeatures(c) {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ConcreteSubtypes lists non-abstract classes conforming to c in schema order
func (a *Adapter) ConcreteSubtypes(c *Class) []*Class {
	return a.memo("concrete_subtypes", c, func() any {
		var out []*Class
		for _, cl := range a.schema.Classes() {
			if !cl.Abstract && cl.ConformsTo(c) {
				out = append(out, cl)
			}
		}
		return out
	}).([]*Class)
}

// SingleContainmentFeaturesByTargetType maps child classes of c to the one
// containment feature that can hold them
func (a *Adapter) SingleContainmentFeaturesByTargetType(c *Class) map[*Class]*Feature {
	return a.memo("single_containments", c, func() any {
		byTarget := make(map[*Class][]*Feature)
		for _, f := range a.ContainmentFeatures(c) {
			for _, t := range a.ConcreteSubtypes(f.Type.Class) {
				byTarget[t] = append(byTarget[t], f)
			}
		}
		out := make(map[*Class]*Feature, len(byTarget))
		for t, features := range byTarget {
			if len(features) == 1 {
				out[t] = features[0]
			}
		}
		return out
	}).(map[*Class]*Feature)
}

// RootClasses lists concrete classes that no containment feature can hold
func (a *Adapter) RootClasses() []*Class {
	return a.memo("roots", nil, func() any {
		contained := make(map[*Class]bool)
		for _, cl := range a.schema.Classes() {
			for _, f := range cl.Features {
				if f.Kind != Containment {
					continue
				}
				for _, t := range a.ConcreteSubtypes(f.Type.Class) {
					contained[t] = true
				}
			}
		}
		var out []*Class
		for _, cl := range a.schema.Classes() {
			if !cl.Abstract && !contained[cl] {
				out = append(out, cl)
			}
		}
		return out
	}).([]*Class)
}
