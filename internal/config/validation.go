package config

import (
	"fmt"
	"strings"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Problems []string
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

// Validate reports every problem at once rather than stopping at the first.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs.add("listen.port %d out of range", c.Listen.Port)
	}
	if c.Listen.ShutdownTimeout < 0 {
		errs.add("listen.shutdown_timeout must not be negative")
	}

	validateSource(errs, c.Source)

	if !ValidClassifierModes[c.Classifier.Mode] {
		errs.add("classifier.mode %q is invalid (valid: heuristic, progress)", c.Classifier.Mode)
	}
	// Progress mode waits for a progress row; a subscription without the
	// PROGRESS option never sends one and the snapshot would never complete.
	if c.Classifier.Mode == ClassifierProgress && c.Source.Kind == SourcePostgres &&
		c.Source.Query != "" && !strings.Contains(strings.ToUpper(c.Source.Query), "PROGRESS") {
		errs.add("classifier.mode progress requires source.query to subscribe WITH (SNAPSHOT, PROGRESS)")
	}
	if c.Classifier.Threshold < 1 {
		errs.add("classifier.threshold must be >= 1")
	}
	if c.Classifier.Settle < 0 {
		errs.add("classifier.settle must not be negative")
	}

	if c.Subscriber.QueueSize < 1 {
		errs.add("subscriber.queue_size must be >= 1")
	}
	if c.Subscriber.PingPeriod < 0 {
		errs.add("subscriber.ping_period must not be negative")
	}
	if c.Subscriber.PingPeriod > 0 && c.Subscriber.PongWait > 0 && c.Subscriber.PingPeriod >= c.Subscriber.PongWait {
		errs.add("subscriber.ping_period (%s) must be shorter than subscriber.pong_wait (%s)",
			c.Subscriber.PingPeriod, c.Subscriber.PongWait)
	}
	if c.Subscriber.AcceptRate < 0 {
		errs.add("subscriber.accept_rate must not be negative")
	}

	if !ValidLogLevels[strings.ToLower(c.Logging.Level)] {
		errs.add("logging.level %q is invalid (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if err := c.Notify.Validate(); err != nil {
		errs.add("%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateSource(errs *ValidationErrors, s SourceConfig) {
	if !ValidSourceKinds[s.Kind] {
		errs.add("source.kind %q is invalid (valid: postgres, file)", s.Kind)
		return
	}

	switch s.Kind {
	case SourcePostgres:
		if s.Host == "" {
			errs.add("source.host is required")
		}
		if s.Port < 1 || s.Port > 65535 {
			errs.add("source.port %d out of range", s.Port)
		}
		if s.Password == "" {
			errs.add("source.password is required (set MATERIALIZE_PASSWORD or RELAY_SOURCE_PASSWORD)")
		}
		if s.Query == "" {
			errs.add("source.query is required")
		}
	case SourceFile:
		if s.File == "" {
			errs.add("source.file is required for the file source")
		}
	}
}
