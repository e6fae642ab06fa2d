package telemetry

import (
	"github.com/rjboer/quadlo/internal/logging"
)

// StdoutReporter logs run events.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

// Report implements Reporter. Faults log at Error, everything else at Info.
func (r StdoutReporter) Report(e Event) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		logging.Run(e.Run),
		{Key: "kind", Value: string(e.Kind)},
	}
	if e.Engine != "" {
		fields = append(fields, logging.Engine(e.Engine))
	}
	if e.Channel != 0 {
		fields = append(fields, logging.Channel(e.Channel))
	}
	if e.From != "" || e.To != "" {
		fields = append(fields,
			logging.Field{Key: "from", Value: e.From},
			logging.Field{Key: "to", Value: e.To})
	}
	if e.Value != 0 {
		fields = append(fields, logging.Field{Key: "value", Value: e.Value})
	}
	msg := e.Message
	if msg == "" {
		msg = "run event"
	}
	if e.Kind == KindFault {
		r.logger.Error(msg, fields...)
		return
	}
	r.logger.Info(msg, fields...)
}
