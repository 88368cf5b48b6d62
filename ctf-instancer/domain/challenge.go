package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrInvalidChallenge  = errors.New("invalid challenge definition")
)

// EnvironmentSpec is everything a backend needs to create one environment.
type EnvironmentSpec struct {
	Image        string
	InternalPort int
	MemoryMB     int
	CPUs         float64
	PIDsLimit    int
	Env          map[string]string
}

// ChallengeDefinition is immutable once the registry is built.
type ChallengeDefinition struct {
	Name        string
	Environment EnvironmentSpec
	// TTL bounds the lifetime of a started instance. Zero means unbounded.
	TTL time.Duration
}

func (d ChallengeDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidChallenge)
	}
	if d.Environment.Image == "" {
		return fmt.Errorf("%w: %s: image is empty", ErrInvalidChallenge, d.Name)
	}
	if d.Environment.InternalPort < 1 || d.Environment.InternalPort > 65535 {
		return fmt.Errorf("%w: %s: internal_port %d out of range", ErrInvalidChallenge, d.Name, d.Environment.InternalPort)
	}
	if d.TTL < 0 {
		return fmt.Errorf("%w: %s: ttl is negative", ErrInvalidChallenge, d.Name)
	}
	return nil
}

// NotFoundMessage is the message reported to clients for an unknown challenge.
func NotFoundMessage(name string) string {
	return "Challenge '" + name + "' not found"
}
