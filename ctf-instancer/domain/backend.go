package domain

import (
	"context"
	"io"
)

// Backend is the isolation runtime. Create and Destroy may block for a long
// time; callers bound them with a context deadline.
type Backend interface {
	Prepare(ctx context.Context) error
	Teardown(ctx context.Context) error
	Create(ctx context.Context, name string, key InstanceKey, spec EnvironmentSpec) (*Handle, error)
	Destroy(ctx context.Context, handle *Handle) error
	Inspect(ctx context.Context, handle *Handle) (bool, error)
}

// LogSource is implemented by backends that can return an environment's output.
type LogSource interface {
	Logs(ctx context.Context, handle *Handle) (io.ReadCloser, error)
}

// LogArchiver stores the output of an environment before it is destroyed.
type LogArchiver interface {
	Archive(ctx context.Context, key InstanceKey, handle *Handle, logs io.Reader) error
}
