package registry

import (
	"fmt"
	"sort"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// Registry maps challenge names to their definitions. It is built once and
// never mutated, so lookups need no locking.
type Registry struct {
	challenges map[string]domain.ChallengeDefinition
}

func New(defs []domain.ChallengeDefinition) (*Registry, error) {
	challenges := make(map[string]domain.ChallengeDefinition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, exists := challenges[def.Name]; exists {
			return nil, fmt.Errorf("duplicate challenge %q", def.Name)
		}
		challenges[def.Name] = cloneDefinition(def)
	}

	return &Registry{challenges: challenges}, nil
}

func (r *Registry) Lookup(name string) (domain.ChallengeDefinition, error) {
	def, ok := r.challenges[name]
	if !ok {
		return domain.ChallengeDefinition{}, fmt.Errorf("%w: %s", domain.ErrChallengeNotFound, name)
	}
	return cloneDefinition(def), nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.challenges))
	for name := range r.challenges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(r.challenges)
}

// cloneDefinition copies the env map so a registered definition cannot be
// mutated through a map shared with a caller.
func cloneDefinition(def domain.ChallengeDefinition) domain.ChallengeDefinition {
	if def.Environment.Env == nil {
		return def
	}
	env := make(map[string]string, len(def.Environment.Env))
	for k, v := range def.Environment.Env {
		env[k] = v
	}
	def.Environment.Env = env
	return def
}
