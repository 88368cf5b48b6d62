package challenge

import "github.com/kavos113/quickctf/ctf-instancer/domain"

type Registry interface {
	Lookup(name string) (domain.ChallengeDefinition, error)
}

// Catalog resolves challenge names to façades. Unknown names fail here,
// before the executor is involved.
type Catalog struct {
	registry Registry
	executor Executor
}

func NewCatalog(registry Registry, executor Executor) *Catalog {
	return &Catalog{
		registry: registry,
		executor: executor,
	}
}

func (c *Catalog) Get(name string) (*Challenge, error) {
	def, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(def, c.executor), nil
}
