package plugin

import (
	"sort"
	"sync"
)

// Resolver maintains the dependency graph between plugin instances: a
// forward edge map (dependent -> dependency -> required version) and a
// reverse dependents index. The graph is always acyclic; Resolve verifies
// every new edge before recording anything.
type Resolver struct {
	mu sync.RWMutex

	// edges maps a dependent instance ID to its dependencies, with the
	// version requirement recorded at resolution time.
	edges map[string]map[string]string

	// dependents is the reverse index: dependency ID -> dependent IDs.
	dependents map[string]map[string]bool
}

// NewResolver creates an empty dependency graph.
func NewResolver() *Resolver {
	return &Resolver{
		edges:      make(map[string]map[string]string),
		dependents: make(map[string]map[string]bool),
	}
}

// Resolve locates every declared dependency of inst among the installed
// instances, checks version compatibility and acyclicity, and records the
// edges. Dependencies match by slug first, then by declared manifest name.
// Validation is two-phase: nothing is recorded unless every edge is
// acceptable, so a failed resolve leaves the graph unchanged. Missing
// optional dependencies are skipped silently.
func (r *Resolver) Resolve(inst *Instance, bySlug map[string]*Instance) error {
	if inst.Manifest == nil {
		return nil
	}

	type pendingEdge struct {
		dependencyID string
		required     string
	}
	var pending []pendingEdge

	// Deterministic order keeps error messages stable.
	slugs := make([]string, 0, len(inst.Manifest.Dependencies))
	for slug := range inst.Manifest.Dependencies {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, slug := range slugs {
		dep := inst.Manifest.Dependencies[slug]
		target, ok := bySlug[slug]
		if !ok {
			target = findByName(bySlug, slug)
		}
		if target == nil {
			if dep.Optional {
				continue
			}
			return newError(KindUnresolvedDependency, "%s requires %q which is not installed", inst.Slug(), slug)
		}
		if !versionSatisfies(target.Version(), dep.Version) {
			return newError(KindIncompatibleVersion,
				"%s requires %s >= %s but %s is installed",
				inst.Slug(), slug, dep.Version, target.Version())
		}
		if r.wouldCreateCycleLocked(inst.ID, target.ID) {
			return newError(KindCircularDependency,
				"dependency from %s to %s would create a cycle", inst.Slug(), slug)
		}
		pending = append(pending, pendingEdge{dependencyID: target.ID, required: dep.Version})
	}

	for _, e := range pending {
		if r.edges[inst.ID] == nil {
			r.edges[inst.ID] = make(map[string]string)
		}
		r.edges[inst.ID][e.dependencyID] = e.required
		if r.dependents[e.dependencyID] == nil {
			r.dependents[e.dependencyID] = make(map[string]bool)
		}
		r.dependents[e.dependencyID][inst.ID] = true
	}
	return nil
}

// findByName matches a dependency reference against manifest names,
// scanning in slug order so the result is deterministic.
func findByName(bySlug map[string]*Instance, name string) *Instance {
	slugs := make([]string, 0, len(bySlug))
	for slug := range bySlug {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		if inst := bySlug[slug]; inst.Manifest != nil && inst.Manifest.Name == name {
			return inst
		}
	}
	return nil
}

// WouldCreateCycle reports whether adding an edge from dependentID to
// dependencyID would make dependentID reachable from itself.
func (r *Resolver) WouldCreateCycle(dependentID, dependencyID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wouldCreateCycleLocked(dependentID, dependencyID)
}

// wouldCreateCycleLocked walks the transitive dependency closure of
// dependencyID looking for dependentID.
func (r *Resolver) wouldCreateCycleLocked(dependentID, dependencyID string) bool {
	if dependentID == dependencyID {
		return true
	}
	visited := map[string]bool{}
	stack := []string{dependencyID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		for next := range r.edges[current] {
			if next == dependentID {
				return true
			}
			stack = append(stack, next)
		}
	}
	return false
}

// DependenciesOf returns the direct dependency IDs of an instance, sorted.
func (r *Resolver) DependenciesOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deps := make([]string, 0, len(r.edges[id]))
	for dep := range r.edges[id] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// Dependents returns the IDs of instances with an edge to id, sorted.
func (r *Resolver) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deps := make([]string, 0, len(r.dependents[id]))
	for dep := range r.dependents[id] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// CanSafelyRemove reports whether no other instance depends on id.
func (r *Resolver) CanSafelyRemove(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dependents[id]) == 0
}

// ResetInstance drops the outgoing edges of id, keeping its dependents.
// Used before re-resolving against an updated manifest.
func (r *Resolver) ResetInstance(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for dep := range r.edges[id] {
		delete(r.dependents[dep], id)
		if len(r.dependents[dep]) == 0 {
			delete(r.dependents, dep)
		}
	}
	delete(r.edges, id)
}

// RemoveInstance drops every edge touching id, in both directions.
func (r *Resolver) RemoveInstance(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for dep := range r.edges[id] {
		delete(r.dependents[dep], id)
		if len(r.dependents[dep]) == 0 {
			delete(r.dependents, dep)
		}
	}
	delete(r.edges, id)

	for dependent := range r.dependents[id] {
		delete(r.edges[dependent], id)
		if len(r.edges[dependent]) == 0 {
			delete(r.edges, dependent)
		}
	}
	delete(r.dependents, id)
}

// TransitiveDependencies returns the full dependency closure of id,
// excluding id itself, sorted.
func (r *Resolver) TransitiveDependencies(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range r.edges[current] {
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	delete(visited, id)

	result := make([]string, 0, len(visited))
	for dep := range visited {
		result = append(result, dep)
	}
	sort.Strings(result)
	return result
}
