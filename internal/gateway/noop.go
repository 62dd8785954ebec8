package gateway

import "context"

// Noop stands in when no credential is configured. Every send succeeds
// and nothing leaves the process.
type Noop struct{}

func (Noop) Send(context.Context, []string, Message) error {
	return nil
}

func (Noop) Unconfigured() bool {
	return true
}
