// Package server contains the feature-startup framework of the Vellum server:
// named features declaring start-ordering constraints, option collection and
// validation phases, and the shutdown/result plumbing bootstrap features use.
package server

import (
	"context"
	"fmt"
	log "log/slog"
	"sync/atomic"

	"github.com/spf13/pflag"
)

// Feature is one startup unit of the server. Features register command line
// options, validate them before anything starts, and are started in an order
// honoring their StartsAfter declarations.
type Feature interface {
	// Name identifies the feature; StartsAfter refers to these names.
	Name() string
	// StartsAfter lists features that must start before this one. Names not
	// registered with the server are ignored.
	StartsAfter() []string
	// CollectOptions registers the feature's command line options.
	CollectOptions(flags *pflag.FlagSet)
	// ValidateOptions rejects invalid option combinations. Runs for every
	// feature before any feature starts.
	ValidateOptions() error
	// Start brings the feature up. A returned error aborts startup; nothing
	// after this feature is started.
	Start(ctx context.Context) error
}

// Stopper is implemented by features that need teardown on shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Server drives the features through collect, validate and start, and carries
// the process result code and shutdown request used by bootstrap features.
type Server struct {
	features []Feature
	byName   map[string]Feature
	disabled map[string]bool
	started  []Feature

	result            atomic.Int64
	shutdownRequested atomic.Bool
}

func New() *Server {
	return &Server{
		byName:   make(map[string]Feature),
		disabled: make(map[string]bool),
	}
}

// AddFeature registers a feature. Fails on duplicate names.
func (s *Server) AddFeature(f Feature) error {
	if _, exists := s.byName[f.Name()]; exists {
		return fmt.Errorf("can't add feature '%s', a feature by that name exists", f.Name())
	}
	s.byName[f.Name()] = f
	s.features = append(s.features, f)
	return nil
}

// Feature looks a registered feature up by name.
func (s *Server) Feature(name string) (Feature, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// DisableFeature marks a feature so Start skips it. Used e.g. during an
// upgrade run to keep the cluster and replication features down.
func (s *Server) DisableFeature(name string) {
	s.disabled[name] = true
}

// IsDisabled reports whether the named feature was disabled.
func (s *Server) IsDisabled(name string) bool {
	return s.disabled[name]
}

// CollectOptions lets every feature register its command line options.
func (s *Server) CollectOptions(flags *pflag.FlagSet) {
	for _, f := range s.features {
		f.CollectOptions(flags)
	}
}

// ValidateOptions runs every feature's validation. The first failure aborts;
// nothing has been started at that point.
func (s *Server) ValidateOptions() error {
	for _, f := range s.features {
		if err := f.ValidateOptions(); err != nil {
			return err
		}
	}
	return nil
}

// Start brings features up in an order honoring their StartsAfter
// declarations, skipping disabled ones. The first failure aborts startup.
func (s *Server) Start(ctx context.Context) error {
	ordered, err := s.order()
	if err != nil {
		return err
	}
	for _, f := range ordered {
		if s.disabled[f.Name()] {
			log.Debug(fmt.Sprintf("feature '%s' is disabled, skipping", f.Name()))
			continue
		}
		log.Debug(fmt.Sprintf("starting feature '%s'", f.Name()))
		if err := f.Start(ctx); err != nil {
			return fmt.Errorf("feature '%s' failed to start, details: %w", f.Name(), err)
		}
		s.started = append(s.started, f)
	}
	return nil
}

// Stop tears the started features down in reverse start order.
func (s *Server) Stop(ctx context.Context) error {
	var lastErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		if st, ok := s.started[i].(Stopper); ok {
			if err := st.Stop(ctx); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// BeginShutdown requests a graceful shutdown once startup completes.
func (s *Server) BeginShutdown() {
	s.shutdownRequested.Store(true)
}

// IsShutdownRequested reports whether BeginShutdown was called.
func (s *Server) IsShutdownRequested() bool {
	return s.shutdownRequested.Load()
}

// SetResult records the process result code.
func (s *Server) SetResult(code int) {
	s.result.Store(int64(code))
}

// Result returns the recorded process result code.
func (s *Server) Result() int {
	return int(s.result.Load())
}

// order topologically sorts the features by their StartsAfter declarations,
// keeping registration order where no constraint applies.
func (s *Server) order() ([]Feature, error) {
	indegree := make(map[string]int, len(s.features))
	dependents := make(map[string][]string, len(s.features))
	for _, f := range s.features {
		indegree[f.Name()] = 0
	}
	for _, f := range s.features {
		for _, dep := range f.StartsAfter() {
			if _, known := s.byName[dep]; !known {
				continue
			}
			indegree[f.Name()]++
			dependents[dep] = append(dependents[dep], f.Name())
		}
	}
	var queue []Feature
	for _, f := range s.features {
		if indegree[f.Name()] == 0 {
			queue = append(queue, f)
		}
	}
	ordered := make([]Feature, 0, len(s.features))
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		ordered = append(ordered, f)
		for _, depName := range dependents[f.Name()] {
			indegree[depName]--
			if indegree[depName] == 0 {
				queue = append(queue, s.byName[depName])
			}
		}
	}
	if len(ordered) != len(s.features) {
		return nil, fmt.Errorf("cycle detected in feature start ordering")
	}
	return ordered, nil
}
