package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// Duration decodes TOML strings such as "30s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type API struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordHash string `toml:"password_hash"`
}

type Executor struct {
	CreateTimeout  Duration `toml:"create_timeout"`
	DestroyTimeout Duration `toml:"destroy_timeout"`
	Network        string   `toml:"network"`
	Host           string   `toml:"host"`
	MinPort        int      `toml:"min_port"`
	MaxPort        int      `toml:"max_port"`
	RegistryURL    string   `toml:"registry_url"`
	PullImages     *bool    `toml:"pull_images"`
	ReapInterval   Duration `toml:"reap_interval"`
}

type Challenge struct {
	Image        string            `toml:"image"`
	InternalPort int               `toml:"internal_port"`
	MemoryMB     int               `toml:"memory_mb"`
	CPUs         float64           `toml:"cpus"`
	PIDsLimit    int               `toml:"pids_limit"`
	TTL          Duration          `toml:"ttl"`
	Env          map[string]string `toml:"env"`
}

// File is the schema of the TOML configuration file. Unknown keys are
// rejected.
type File struct {
	API        API                  `toml:"api"`
	Executor   Executor             `toml:"executor"`
	Challenges map[string]Challenge `toml:"challenges"`
}

const (
	defaultCreateTimeout  = 60 * time.Second
	defaultDestroyTimeout = 30 * time.Second
	defaultReapInterval   = 30 * time.Second
	defaultNetwork        = "ctf-instancer"
)

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("failed to parse config: %s", strict.String())
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Executor.CreateTimeout.Duration == 0 {
		f.Executor.CreateTimeout.Duration = defaultCreateTimeout
	}
	if f.Executor.DestroyTimeout.Duration == 0 {
		f.Executor.DestroyTimeout.Duration = defaultDestroyTimeout
	}
	if f.Executor.ReapInterval.Duration == 0 {
		f.Executor.ReapInterval.Duration = defaultReapInterval
	}
	if f.Executor.Network == "" {
		f.Executor.Network = defaultNetwork
	}
	if f.Executor.Host == "" {
		f.Executor.Host = "localhost"
	}
	if f.Executor.PullImages == nil {
		pull := true
		f.Executor.PullImages = &pull
	}
}

// Validate reports every problem in the file at once.
func (f *File) Validate() error {
	var errs []error

	if f.API.Username == "" {
		errs = append(errs, errors.New("api.username is required"))
	}
	switch {
	case f.API.Password == "" && f.API.PasswordHash == "":
		errs = append(errs, errors.New("api.password or api.password_hash is required"))
	case f.API.Password != "" && f.API.PasswordHash != "":
		errs = append(errs, errors.New("api.password and api.password_hash are mutually exclusive"))
	case f.API.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(f.API.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("api.password_hash is not a bcrypt hash: %w", err))
		}
	}

	if f.Executor.CreateTimeout.Duration < 0 {
		errs = append(errs, errors.New("executor.create_timeout must be positive"))
	}
	if f.Executor.DestroyTimeout.Duration < 0 {
		errs = append(errs, errors.New("executor.destroy_timeout must be positive"))
	}
	if f.Executor.ReapInterval.Duration < 0 {
		errs = append(errs, errors.New("executor.reap_interval must not be negative"))
	}
	if f.Executor.MinPort != 0 || f.Executor.MaxPort != 0 {
		if f.Executor.MinPort < 1 || f.Executor.MaxPort > 65535 || f.Executor.MinPort > f.Executor.MaxPort {
			errs = append(errs, fmt.Errorf("executor port range %d-%d is invalid", f.Executor.MinPort, f.Executor.MaxPort))
		}
	}

	if len(f.Challenges) == 0 {
		errs = append(errs, errors.New("at least one challenge is required"))
	}
	for _, def := range f.Definitions() {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Definitions converts the challenge tables into registry entries, sorted
// by name.
func (f *File) Definitions() []domain.ChallengeDefinition {
	names := make([]string, 0, len(f.Challenges))
	for name := range f.Challenges {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]domain.ChallengeDefinition, 0, len(names))
	for _, name := range names {
		c := f.Challenges[name]
		defs = append(defs, domain.ChallengeDefinition{
			Name: name,
			Environment: domain.EnvironmentSpec{
				Image:        c.Image,
				InternalPort: c.InternalPort,
				MemoryMB:     c.MemoryMB,
				CPUs:         c.CPUs,
				PIDsLimit:    c.PIDsLimit,
				Env:          c.Env,
			},
			TTL: c.TTL.Duration,
		})
	}
	return defs
}
