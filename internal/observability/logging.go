package observability

import "go.uber.org/zap"

// NewLogger builds a human-readable logger for development and a JSON logger otherwise,
// and installs it as the global zap logger.
func NewLogger(development bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
