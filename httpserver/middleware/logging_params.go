/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-ratekeeper/log"
)

type loggableIntMap map[string]int64

func (lm loggableIntMap) EncodeLogfObject(e logf.FieldEncoder) error {
	for key, value := range lm {
		e.EncodeFieldInt64(key, value)
	}
	return nil
}

// LoggingParams carries extra data for the Logging middleware's completion
// message. Handlers below the middleware fill it through the request context.
type LoggingParams struct {
	fields    []log.Field
	timeSlots loggableIntMap
}

// ExtendFields appends fields to the completion log message.
func (lp *LoggingParams) ExtendFields(fields ...log.Field) {
	lp.fields = append(lp.fields, fields...)
}

// AddTimeSlotInt adds dur to the named slot of the "time_slots" field group,
// creating the slot when needed.
func (lp *LoggingParams) AddTimeSlotInt(name string, dur int64) {
	if lp.timeSlots == nil {
		lp.timeSlots = make(loggableIntMap, 1)
	}
	lp.timeSlots[name] += dur
}

// AddTimeSlotDurationInMs is AddTimeSlotInt taking the value as a time.Duration.
func (lp *LoggingParams) AddTimeSlotDurationInMs(name string, dur time.Duration) {
	lp.AddTimeSlotInt(name, dur.Milliseconds())
}
