package health

import "context"

// Pinger is the probe surface shared by session stores and browser sources.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping wraps a [Pinger] as a named readiness checker.
func Ping(name string, p Pinger) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}
