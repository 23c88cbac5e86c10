package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/patrykstefanski/async-bench/internal/server"
)

// ValidationError represents a suite validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the suite. Call ApplyDefaults first.
//
// Returns nil if valid, or a *ValidationErrors containing all errors.
func (s *Suite) Validate() error {
	errs := &ValidationErrors{}

	if s.Name == "" {
		errs.Add("name", "suite name is required")
	}
	if !isIPv4(s.Host) {
		errs.Add("host", fmt.Sprintf("invalid IPv4 address: %q", s.Host))
	}

	switch {
	case s.Target != nil && len(s.Servers) > 0:
		errs.Add("target", "target and servers are mutually exclusive")
	case s.Target == nil && len(s.Servers) == 0:
		errs.Add("servers", "at least one server or a target is required")
	}

	if s.Target != nil {
		if !isIPv4(s.Target.Host) {
			errs.Add("target.host", fmt.Sprintf("invalid IPv4 address: %q", s.Target.Host))
		}
		if s.Target.Port < 1 || s.Target.Port > 65535 {
			errs.Add("target.port", fmt.Sprintf("port must be between 1 and 65535, got %d", s.Target.Port))
		}
	}

	names := make(map[string]bool)
	for i, sv := range s.Servers {
		prefix := fmt.Sprintf("servers[%d]", i)
		if sv.Name == "" {
			errs.Add(prefix+".name", "server name is required")
		} else if names[sv.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate server name: %s", sv.Name))
		}
		names[sv.Name] = true
		validateServer(prefix, sv, errs)
	}

	if len(s.Benchmarks) == 0 {
		errs.Add("benchmarks", "at least one benchmark is required")
	}

	names = make(map[string]bool)
	for i, b := range s.Benchmarks {
		prefix := fmt.Sprintf("benchmarks[%d]", i)
		if b.Name == "" {
			errs.Add(prefix+".name", "benchmark name is required")
		} else if names[b.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate benchmark name: %s", b.Name))
		}
		names[b.Name] = true
		validateBenchmark(prefix, b, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateServer(prefix string, sv ServerSpec, errs *ValidationErrors) {
	mode, err := server.ParseMode(sv.Mode)
	if err != nil {
		errs.Add(prefix+".mode", err.Error())
	}
	if sv.Procs < 0 {
		errs.Add(prefix+".procs", "procs cannot be negative")
	}
	if sv.Listeners < 1 {
		errs.Add(prefix+".listeners", "at least one listener is required")
	}
	if sv.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}
	if mode == server.ModeReactor {
		if sv.Timeout > 0 {
			errs.Add(prefix+".timeout", "reactor mode does not support timeouts")
		}
		if sv.Listeners > 1 {
			errs.Add(prefix+".listeners", "reactor mode opens one listener per proc")
		}
	}
}

func validateBenchmark(prefix string, b BenchmarkSpec, errs *ValidationErrors) {
	switch b.Kind {
	case KindThroughput, KindLatency:
	case "":
		errs.Add(prefix+".kind", "benchmark kind is required")
	default:
		errs.Add(prefix+".kind", fmt.Sprintf("unknown benchmark kind: %s", b.Kind))
	}

	if b.Workers < 1 {
		errs.Add(prefix+".workers", "number of workers must be at least 1")
	}
	if b.Conns < 1 {
		errs.Add(prefix+".conns", "number of connections must be at least 1")
	}
	if b.Reqs < 1 {
		errs.Add(prefix+".reqs", "number of requests must be at least 1")
	}
	if b.Workers >= 1 && b.Conns >= 1 && b.Reqs >= 1 {
		if _, err := b.ThroughputConfig(DefaultHost, 1).TotalRequests(); err != nil {
			errs.Add(prefix+".reqs", err.Error())
		}
	}
	if b.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}

	if b.Kind != KindLatency {
		if b.Delay != nil {
			errs.Add(prefix+".delay", "delay applies to latency benchmarks only")
		}
		return
	}
	if b.Delay != nil && *b.Delay < 0 {
		errs.Add(prefix+".delay", "delay cannot be negative")
	}
	if b.Ranked != nil && *b.Ranked < 0 {
		errs.Add(prefix+".ranked", "number of ranked samples cannot be negative")
	}
}

func isIPv4(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil
}
