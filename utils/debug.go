package utils

import (
	"log"
	"os"
)

// Debug enables Debugf output. Off by default.
var Debug = false

var logger = log.New(os.Stderr, "[seq2seq] ", log.LstdFlags|log.Lmicroseconds)

// Debugf logs when Debug is set.
func Debugf(format string, args ...any) {
	if !Debug {
		return
	}
	logger.Printf(format, args...)
}
