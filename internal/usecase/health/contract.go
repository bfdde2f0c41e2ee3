package health

import "context"

// Checker is a component that can report its own availability.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DBPinger checks catalog store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}
