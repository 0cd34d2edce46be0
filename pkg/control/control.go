// Package control exposes the scheduler's management operations
// (reconfigure, promote, enqueue, pause/resume, exit) over a local
// Unix domain socket, so that cmd/schedulerd's control-plane
// subcommands can reach an already-running daemon process (spec §6).
//
// Grounded on pkg/webhook's plain net/http.Handler style: a control
// socket is functionally the same thing as a webhook endpoint (decode
// a small JSON request, call into the scheduler, encode a response),
// just bound to a Unix socket listener instead of a TCP one, which
// keeps this package free of any RPC framework the example corpus
// doesn't otherwise use.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/conveyor-ci/conveyor/pkg/schedevent"
)

// Scheduler is the subset of *scheduler.Scheduler the control server
// drives. Declared locally so this package never imports pkg/scheduler
// and creates an import cycle with anything scheduler itself depends
// on.
type Scheduler interface {
	EnqueueManagement(ctx context.Context, ev schedevent.ManagementEvent) error
	Pause()
	Resume()
}

// PeriodicReloader rebuilds a periodic-trigger cron schedule from the
// scheduler's current pipeline set. Optional: a Server built without
// one simply leaves any existing periodic schedule as-is across a
// reconfigure.
type PeriodicReloader interface {
	Reload() error
}

// Server answers control requests over a Unix socket.
type Server struct {
	sched    Scheduler
	periodic PeriodicReloader
	log      *zap.SugaredLogger
	listener net.Listener
	srv      *http.Server
	shutdown context.CancelFunc
}

// NewServer builds a control Server; Listen binds it to a Unix socket
// path. shutdown is called
// when an "exit" request arrives, after the response has been
// written; the caller is expected to have it cancel the process's
// root context. periodic may be nil.
func NewServer(sched Scheduler, periodic PeriodicReloader, log *zap.SugaredLogger, shutdown context.CancelFunc) *Server {
	s := &Server{sched: sched, periodic: periodic, log: log, shutdown: shutdown}
	mux := http.NewServeMux()
	mux.HandleFunc("/reconfigure", s.handleReconfigure)
	mux.HandleFunc("/tenant-reconfigure", s.handleTenantReconfigure)
	mux.HandleFunc("/promote", s.handlePromote)
	mux.HandleFunc("/enqueue", s.handleEnqueue)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/exit", s.handleExit)
	s.srv = &http.Server{Handler: mux}
	return s
}

// Listen opens the Unix socket at path, removing any stale socket file
// left behind by a prior, uncleanly terminated daemon.
func (s *Server) Listen(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("control: creating socket directory for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control: removing stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control: listening on %s: %w", path, err)
	}
	s.listener = l
	return nil
}

// Serve blocks accepting control connections until the listener is
// closed.
func (s *Server) Serve() error {
	if err := s.srv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the control server down.
func (s *Server) Close() error {
	return s.srv.Close()
}

type response struct {
	Error       string   `json:"error,omitempty"`
	NotFoundIDs []string `json:"notFoundIds,omitempty"`
}

func (s *Server) reply(w http.ResponseWriter, err error, extra response) {
	extra.Error = ""
	if err != nil {
		extra.Error = err.Error()
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	if encErr := json.NewEncoder(w).Encode(extra); encErr != nil {
		s.log.Warnw("control: encoding response failed", "error", encErr)
	}
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	ev := schedevent.NewReconfigureEvent()
	err := s.sched.EnqueueManagement(r.Context(), ev)
	s.reloadPeriodic(err)
	s.reply(w, err, response{})
}

// reloadPeriodic rebuilds the periodic cron schedule after a
// successful reconfigure; a reload failure is logged rather than
// reported as the reconfigure's own error, since the reconfigure
// itself already succeeded.
func (s *Server) reloadPeriodic(reconfigureErr error) {
	if reconfigureErr != nil || s.periodic == nil {
		return
	}
	if err := s.periodic.Reload(); err != nil {
		s.log.Warnw("control: reloading periodic triggers after reconfigure failed", "error", err)
	}
}

func (s *Server) handleTenantReconfigure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tenant string `json:"tenant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, fmt.Errorf("control: decoding request: %w", err), response{})
		return
	}
	ev := schedevent.NewTenantReconfigureEvent(req.Tenant)
	err := s.sched.EnqueueManagement(r.Context(), ev)
	s.reloadPeriodic(err)
	s.reply(w, err, response{})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tenant    string   `json:"tenant"`
		Pipeline  string   `json:"pipeline"`
		ChangeIDs []string `json:"changeIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, fmt.Errorf("control: decoding request: %w", err), response{})
		return
	}
	ev := schedevent.NewPromoteEvent(req.Tenant, req.Pipeline, req.ChangeIDs)
	err := s.sched.EnqueueManagement(r.Context(), ev)
	s.reply(w, err, response{NotFoundIDs: ev.NotFoundIDs})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tenant    string `json:"tenant"`
		Pipeline  string `json:"pipeline"`
		ChangeKey string `json:"changeKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, fmt.Errorf("control: decoding request: %w", err), response{})
		return
	}
	ev := schedevent.NewEnqueueEvent(req.Tenant, req.Pipeline, req.ChangeKey)
	err := s.sched.EnqueueManagement(r.Context(), ev)
	s.reply(w, err, response{})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sched.Pause()
	s.reply(w, nil, response{})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume()
	s.reply(w, nil, response{})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	s.reply(w, nil, response{})
	if s.shutdown != nil {
		go s.shutdown()
	}
}
