package logging

import "go.uber.org/zap"

// New builds the process-wide zap logger. Local environments get the
// human-readable development encoder; everything else logs JSON.
func New(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
