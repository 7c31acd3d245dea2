package artifact

import (
	"sync"

	"github.com/tarsy-labs/dmp/pkg/security"
)

// Store indexes artifacts registered during one pipeline run by id, alias,
// and type — a fresh Store is created per execution.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]Artifact
	byAlias map[string]string // alias -> id
	byType  map[string][]string
	order   []string // ids in registration order
}

// NewStore creates an empty artifact store.
func NewStore() *Store {
	return &Store{
		byID:    make(map[string]Artifact),
		byAlias: make(map[string]string),
		byType:  make(map[string][]string),
	}
}

// Register records artifact as produced by binding against descriptor,
// applying the defaulting rules: an empty id becomes
// "<binding.id>:<descriptor.name>"; produced_by is set to the binding id;
// persist is the OR of artifact/descriptor; schema_id defaults from the
// descriptor; security_level resolves to the first non-empty of
// artifact/descriptor/binding, normalized, and defaults to Unofficial if
// none of the three declared one — a stored artifact's security_level is
// never empty.
func (s *Store) Register(binding SinkBinding, descriptor Descriptor, art Artifact) Artifact {
	if art.ID == "" {
		art.ID = binding.ID + ":" + descriptor.Name
	}
	art.ProducedBy = binding.ID
	art.Persist = art.Persist || descriptor.Persist
	if art.SchemaID == "" {
		art.SchemaID = descriptor.SchemaID
	}
	art.Type = descriptor.Type

	level := art.SecurityLevel
	if level == security.Unknown {
		level = security.Normalize(string(descriptor.SecurityLevel))
	}
	if level == security.Unknown {
		level = binding.SecurityLevel
	}
	if level == security.Unknown {
		level = security.Unofficial
	}
	art.SecurityLevel = level

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[art.ID] = art
	s.order = append(s.order, art.ID)
	aliasKey := descriptor.Alias
	if aliasKey == "" {
		aliasKey = descriptor.Name
	}
	if _, exists := s.byAlias[aliasKey]; !exists {
		s.byAlias[aliasKey] = art.ID
	}
	s.byType[descriptor.Type] = append(s.byType[descriptor.Type], art.ID)
	return art
}

// ResolveRequests resolves each request against the store's current
// contents. "@alias" tokens look up a single producer by alias/name
// (populating the result under both "@alias" and the bare alias key);
// type tokens look up every producer of that type. "single" mode truncates
// to the first match.
func (s *Store) ResolveRequests(requests []Request) map[string][]Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Artifact)
	for _, req := range requests {
		var matches []Artifact
		if len(req.Token) > 0 && req.Token[0] == '@' {
			bare := req.Token[1:]
			if id, ok := s.byAlias[bare]; ok {
				matches = append(matches, s.byID[id])
			}
		} else {
			for _, id := range s.order {
				if TypeMatches(req.Token, s.byID[id].Type) {
					matches = append(matches, s.byID[id])
				}
			}
		}
		if req.Mode == ModeSingle && len(matches) > 1 {
			matches = matches[:1]
		}
		out[req.Token] = matches
		if len(req.Token) > 0 && req.Token[0] == '@' {
			out[req.Token[1:]] = matches
		}
	}
	return out
}

// All returns every artifact registered so far, keyed by id.
func (s *Store) All() map[string]Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Artifact, len(s.byID))
	for k, v := range s.byID {
		out[k] = v
	}
	return out
}

// ByType returns every artifact of the given type, in registration order.
func (s *Store) ByType(t string) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byType[t]
	out := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}
