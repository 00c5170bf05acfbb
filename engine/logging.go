package engine

import "go.uber.org/zap"

// NewLogger builds the zap logger a Runtime logs through. develMode selects
// zap's human-readable development encoder over the default JSON production
// one, mirroring the dev/prod logger split the pack's services use.
func NewLogger(develMode bool) (*zap.Logger, error) {
	if develMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
