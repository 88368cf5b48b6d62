package challenge

import (
	"context"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// Executor is the subset of the instance executor a challenge drives.
type Executor interface {
	ContainsOrInsert(key domain.InstanceKey) bool
	Start(ctx context.Context, key domain.InstanceKey, spec domain.EnvironmentSpec) (domain.State, error)
	Stop(ctx context.Context, key domain.InstanceKey) (domain.StopResult, domain.State, error)
	Status(key domain.InstanceKey) domain.State
}

// Challenge binds one challenge definition to the shared executor.
type Challenge struct {
	def      domain.ChallengeDefinition
	executor Executor
}

func New(def domain.ChallengeDefinition, executor Executor) *Challenge {
	return &Challenge{
		def:      def,
		executor: executor,
	}
}

func (c *Challenge) Name() string {
	return c.def.Name
}

func (c *Challenge) key(userID string) domain.InstanceKey {
	return domain.InstanceKey{UserID: userID, Challenge: c.def.Name}
}

// Start provisions an instance for userID unless one is already starting
// or running, in which case the existing state is returned.
func (c *Challenge) Start(ctx context.Context, userID string) (domain.State, error) {
	key := c.key(userID)
	if c.executor.ContainsOrInsert(key) {
		return c.executor.Status(key), nil
	}
	return c.executor.Start(ctx, key, c.def.Environment)
}

func (c *Challenge) Stop(ctx context.Context, userID string) (domain.StopResult, domain.State, error) {
	return c.executor.Stop(ctx, c.key(userID))
}

func (c *Challenge) Status(userID string) domain.State {
	return c.executor.Status(c.key(userID))
}
