package logging

import (
	"log"

	"nablatun/internal/tunnel"
)

type LogLogger struct {
}

func NewLogLogger() tunnel.Logger {
	return &LogLogger{}
}

func (l LogLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
