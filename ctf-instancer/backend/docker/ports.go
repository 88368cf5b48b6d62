package docker

import (
	"errors"
	"sync"
)

var ErrNoAvailablePort = errors.New("no available port")

// portPool hands out host ports from a fixed range. An empty range means the
// daemon picks an ephemeral port.
type portPool struct {
	mu      sync.Mutex
	minPort int
	maxPort int
	used    []bool
	owners  map[string]int
}

func newPortPool(minPort, maxPort int) *portPool {
	p := &portPool{
		minPort: minPort,
		maxPort: maxPort,
		owners:  make(map[string]int),
	}
	if minPort > 0 && maxPort >= minPort {
		p.used = make([]bool, maxPort-minPort+1)
	}
	return p
}

func (p *portPool) enabled() bool {
	return p.used != nil
}

// acquire reserves a port for name. It returns 0 when the pool is disabled.
func (p *portPool) acquire(name string) (int, error) {
	if !p.enabled() {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if port, ok := p.owners[name]; ok {
		return port, nil
	}
	for i, inuse := range p.used {
		if !inuse {
			p.used[i] = true
			port := i + p.minPort
			p.owners[name] = port
			return port, nil
		}
	}
	return 0, ErrNoAvailablePort
}

func (p *portPool) release(name string) {
	if !p.enabled() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	port, ok := p.owners[name]
	if !ok {
		return
	}
	delete(p.owners, name)
	if port >= p.minPort && port <= p.maxPort {
		p.used[port-p.minPort] = false
	}
}

func (p *portPool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owners)
}
