// Package logging builds the gateway's structured logger. Every subsystem
// logs through a *zap.Logger passed in at construction rather than a
// package-level global, so tests can substitute a nop logger and request
// handlers can attach per-request fields without mutating shared state.
package logging

import "go.uber.org/zap"

// New builds a production or development zap logger depending on env
// ("production" gets JSON output and info level; anything else gets
// console output, caller info, and debug level).
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
