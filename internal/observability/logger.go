package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	logs "github.com/danmuck/actionrpc/internal/logging"
)

// InitLogger derives a structured logger for app from the process logger
// and installs it as the zerolog global.
func InitLogger(app string) zerolog.Logger {
	logger := logs.Logger().With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
