/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-ratekeeper/log"
)

type entryWriter struct {
	sync.Mutex
	encoder logf.Encoder
	output  io.Writer
}

//nolint:gocritic
func (ew *entryWriter) WriteEntry(e logf.Entry) {
	ew.Lock()
	defer ew.Unlock()

	var buf logf.Buffer
	if err := ew.encoder.Encode(&buf, e); err != nil {
		_, _ = fmt.Fprint(ew.output, err)
		return
	}
	_, _ = fmt.Fprint(ew.output, string(buf.Data))
}

// NewLogger returns a logger for tests: JSON to stderr at debug level.
// Entries are written synchronously, which is too slow for anything but tests.
func NewLogger() log.FieldLogger {
	return NewLoggerWithOpts(LoggerOpts{Output: os.Stderr})
}

// LoggerOpts configures the test logger, mainly the output target.
type LoggerOpts struct {
	Output io.Writer
}

// NewLoggerWithOpts builds a test logger per the given options.
// A nil Output falls back to os.Stderr.
func NewLoggerWithOpts(opts LoggerOpts) log.FieldLogger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	ew := &entryWriter{
		encoder: logf.NewJSONEncoder(logf.JSONEncoderConfig{
			EncodeTime:   logf.RFC3339NanoTimeEncoder,
			FieldKeyTime: "time",
		}),
		output: output,
	}
	return &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, ew)}
}
