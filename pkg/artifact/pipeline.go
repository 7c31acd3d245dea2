package artifact

import (
	"context"
	"sort"

	"github.com/tarsy-labs/dmp/pkg/security"
)

// NewBinding prepares one SinkBinding: normalizes security levels, builds
// the produces list from static descriptors followed by the sink's
// dynamic Produces() (if implemented), and the consumes list from static
// requests followed by the sink's dynamic Consumes() (if implemented).
// Every descriptor/request type is validated against the file/*|data/*
// prefix rule.
func NewBinding(id, plugin string, sink Sink, staticProduces []Descriptor, staticConsumes []any, securityLevel string, originalIndex int) (SinkBinding, error) {
	b := SinkBinding{
		ID:            id,
		Plugin:        plugin,
		Sink:          sink,
		OriginalIndex: originalIndex,
		SecurityLevel: security.Normalize(securityLevel),
	}

	for _, d := range staticProduces {
		d.SecurityLevel = string(security.Normalize(d.SecurityLevel))
		if err := ValidateType(d.Type); err != nil {
			return SinkBinding{}, err
		}
		b.Produces = append(b.Produces, d)
	}
	if p, ok := sink.(Produces); ok {
		for _, d := range p.Produces() {
			d.SecurityLevel = string(security.Normalize(d.SecurityLevel))
			if err := ValidateType(d.Type); err != nil {
				return SinkBinding{}, err
			}
			b.Produces = append(b.Produces, d)
		}
	}

	for _, c := range staticConsumes {
		req, err := ParseRequest(c)
		if err != nil {
			return SinkBinding{}, err
		}
		b.Consumes = append(b.Consumes, req)
	}
	if c, ok := sink.(Consumes); ok {
		for _, raw := range c.Consumes() {
			req, err := ParseRequest(raw)
			if err != nil {
				return SinkBinding{}, err
			}
			b.Consumes = append(b.Consumes, req)
		}
	}

	return b, nil
}

// Pipeline resolves a dependency order over a set of prepared bindings and
// executes them in that order.
type Pipeline struct {
	bindings []SinkBinding
	ordered  []SinkBinding
}

// NewPipeline resolves the dependency order for bindings immediately, so
// construction fails fast on a cyclic or unresolved configuration; Run can
// then be called (repeatedly, each against a fresh Store) without
// re-resolving order.
func NewPipeline(bindings []SinkBinding) (*Pipeline, error) {
	ordered, err := resolveOrder(bindings)
	if err != nil {
		return nil, err
	}
	return &Pipeline{bindings: bindings, ordered: ordered}, nil
}

// Order returns the frozen execution order.
func (p *Pipeline) Order() []SinkBinding {
	return p.ordered
}

func resolveOrder(bindings []SinkBinding) ([]SinkBinding, error) {
	byID := make(map[string]SinkBinding, len(bindings))
	for _, b := range bindings {
		byID[b.ID] = b
	}

	// producersByName: first registration wins. producersByType: every
	// binding that declares a descriptor of that type.
	producersByName := make(map[string]string)
	producersByType := make(map[string][]string)
	for _, b := range bindings {
		for _, d := range b.Produces {
			key := d.Alias
			if key == "" {
				key = d.Name
			}
			if _, exists := producersByName[key]; !exists {
				producersByName[key] = b.ID
			}
			producersByType[d.Type] = append(producersByType[d.Type], b.ID)
		}
	}

	dependencies := make(map[string]map[string]bool, len(bindings))
	dependents := make(map[string]map[string]bool, len(bindings))
	for _, b := range bindings {
		dependencies[b.ID] = make(map[string]bool)
		dependents[b.ID] = make(map[string]bool)
	}

	addEdge := func(consumerID, producerID string) {
		if consumerID == producerID {
			return
		}
		dependencies[consumerID][producerID] = true
		dependents[producerID][consumerID] = true
	}

	for _, consumer := range bindings {
		for _, req := range consumer.Consumes {
			if len(req.Token) > 0 && req.Token[0] == '@' {
				name := req.Token[1:]
				producerID, ok := producersByName[name]
				if !ok {
					return nil, &TopologyError{Reason: "unresolved consume reference @" + name}
				}
				producer := byID[producerID]
				if err := enforceDependencySecurity(consumer, producer); err != nil {
					return nil, err
				}
				addEdge(consumer.ID, producerID)
				continue
			}
			if err := ValidateType(req.Token); err != nil {
				return nil, err
			}
			for producedType, producerIDs := range producersByType {
				if !TypeMatches(req.Token, producedType) {
					continue
				}
				for _, producerID := range producerIDs {
					producer := byID[producerID]
					if err := enforceDependencySecurity(consumer, producer); err != nil {
						return nil, err
					}
					addEdge(consumer.ID, producerID)
				}
			}
		}
	}

	return kahnOrder(bindings, byID, dependencies, dependents)
}

func enforceDependencySecurity(consumer, producer SinkBinding) error {
	if consumer.SecurityLevel == security.Unknown {
		return nil
	}
	if !security.Allowed(producer.SecurityLevel, consumer.SecurityLevel) {
		return &PermissionError{
			Consumer:      consumer.ID,
			Producer:      producer.ID,
			ConsumerLevel: consumer.SecurityLevel,
			ProducerLevel: producer.SecurityLevel,
		}
	}
	return nil
}

// kahnOrder runs Kahn's algorithm with a ready queue re-sorted by original
// index after every completion, not just seeded once (see DESIGN.md).
func kahnOrder(bindings []SinkBinding, byID map[string]SinkBinding, dependencies, dependents map[string]map[string]bool) ([]SinkBinding, error) {
	remaining := make(map[string]map[string]bool, len(dependencies))
	for id, deps := range dependencies {
		cp := make(map[string]bool, len(deps))
		for d := range deps {
			cp[d] = true
		}
		remaining[id] = cp
	}

	var ready []SinkBinding
	for _, b := range bindings {
		if len(remaining[b.ID]) == 0 {
			ready = append(ready, b)
		}
	}
	sortByOriginalIndex(ready)

	var orderedOut []SinkBinding
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		orderedOut = append(orderedOut, next)

		for depID := range dependents[next.ID] {
			delete(remaining[depID], next.ID)
			if len(remaining[depID]) == 0 {
				ready = append(ready, byID[depID])
				sortByOriginalIndex(ready)
			}
		}
	}

	if len(orderedOut) != len(bindings) {
		var stuck []string
		for id, deps := range remaining {
			if len(deps) > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, &TopologyError{Reason: "unresolved sink dependency graph", Cycle: stuck}
	}
	return orderedOut, nil
}

func sortByOriginalIndex(bindings []SinkBinding) {
	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].OriginalIndex < bindings[j].OriginalIndex
	})
}

// Run executes every binding in the frozen order against a fresh Store:
// resolve consumes, enforce handoff clearance, call PrepareArtifacts (if
// implemented), call Write, collect and register any produced artifacts,
// and call Finalize (if implemented) with every artifact registered so
// far across the whole run.
func (p *Pipeline) Run(ctx context.Context, payload map[string]any, metadata map[string]any) error {
	store := NewStore()

	for _, binding := range p.ordered {
		consumed := store.ResolveRequests(binding.Consumes)

		if binding.SecurityLevel != security.Unknown {
			for _, artifacts := range consumed {
				for _, a := range artifacts {
					if !security.Allowed(a.SecurityLevel, binding.SecurityLevel) {
						return &PermissionError{
							Consumer:      binding.ID,
							ConsumerLevel: binding.SecurityLevel,
							Producer:      a.ProducedBy,
							ProducerLevel: a.SecurityLevel,
							ArtifactID:    a.ID,
						}
					}
				}
			}
		}

		if preparer, ok := binding.Sink.(PreparesArtifacts); ok {
			if err := preparer.PrepareArtifacts(consumed); err != nil {
				return err
			}
		}

		if err := binding.Sink.Write(ctx, payload, metadata); err != nil {
			return err
		}

		if collector, ok := binding.Sink.(CollectsArtifacts); ok {
			produced := collector.CollectArtifacts()
			for _, descriptor := range binding.Produces {
				candidate, ok := produced[descriptor.Name]
				if !ok && descriptor.Alias != "" {
					candidate, ok = produced[descriptor.Alias]
				}
				if !ok {
					continue
				}
				store.Register(binding, descriptor, candidate)
			}
		}

		if finalizer, ok := binding.Sink.(Finalizer); ok {
			if err := finalizer.Finalize(store.All(), metadata); err != nil {
				return err
			}
		}
	}

	return nil
}
