// Package server implements the connection front-end described in
// spec.md §4.E: a TCP listener handing each accepted connection its
// own RESP parser and pending-reply queue, gating the engine purger
// on a per-connection timer, and driving graceful shutdown on
// SIGINT/SIGTERM.
package server

import (
	"bufio"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rkvlabs/rkv/internal/dispatch"
	"github.com/rkvlabs/rkv/internal/engine"
	"github.com/rkvlabs/rkv/internal/instrumentation"
	"github.com/rkvlabs/rkv/internal/ratelimit"
	"github.com/rkvlabs/rkv/internal/resp"
)

// Config collects everything Server needs beyond the engine and
// dispatcher themselves.
type Config struct {
	Addr            string
	MaxConnections  int           // 0 disables the admission limiter
	PurgeInterval   time.Duration // per-connection purger gate, spec.md §4.B/§4.E
	PurgeRatePerSec int           // moving-average ceiling across all connections; 0 disables
	Instrumentation instrumentation.Instrumentation
}

// Server owns the listener and every live connection's goroutine.
type Server struct {
	cfg     Config
	eng     *engine.Engine
	d       *dispatch.Dispatcher
	instr   instrumentation.Instrumentation
	limiter *connLimiter
	police  ratelimit.RatePolice

	listener net.Listener

	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool

	// cmdMu serializes every command dispatch and purge pass across
	// connection goroutines, so the engine never sees concurrent access.
	cmdMu sync.Mutex
}

// New builds a Server around an already-constructed engine and
// dispatcher. It does not start listening until Serve is called.
func New(eng *engine.Engine, d *dispatch.Dispatcher, cfg Config) *Server {
	instr := cfg.Instrumentation
	if instr == nil {
		instr = instrumentation.NopInstrumentation{}
	}

	var police ratelimit.RatePolice
	if cfg.PurgeRatePerSec > 0 {
		police = ratelimit.New(time.Second, 10)
	} else {
		police = ratelimit.NewNop()
	}

	return &Server{
		cfg:     cfg,
		eng:     eng,
		d:       d,
		instr:   instr,
		limiter: newConnLimiter(cfg.MaxConnections),
		police:  police,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve listens on cfg.Addr and blocks, accepting and serving
// connections until Shutdown is called. It returns nil on a clean
// shutdown, or the listener error otherwise.
func (s *Server) Serve() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return err
		}
		s.listener = ln
	}
	log.Printf("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			shuttingDown := s.shutdown
			s.mu.Unlock()
			if shuttingDown {
				s.wg.Wait()
				return nil
			}
			return err
		}

		if !s.limiter.Acquire() {
			conn.Close()
			s.wg.Wait()
			return nil
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Shutdown stops accepting new connections and unblocks any
// connection waiting on the admission limiter. In-flight connections
// finish their current write and close on their own; Serve returns
// once the last one has.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.limiter.Close()
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.limiter.Release()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.instr.ConnectionClosed()
	}()

	s.instr.ConnectionOpened()

	parser := resp.NewParser()
	writer := bufio.NewWriter(conn)
	readBuf := make([]byte, 4096)
	lastPurge := time.Time{}

	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			parser.Feed(readBuf[:n])
			if s.shouldPurge(&lastPurge) {
				s.runPurge()
			}
			if werr := s.drainAndReply(parser, writer); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// shouldPurge reports whether spec.md §4.E's 100ms-per-connection gate
// has elapsed since this connection's last trigger, advancing the
// timer as a side effect.
func (s *Server) shouldPurge(last *time.Time) bool {
	now := time.Now()
	if last.IsZero() || now.Sub(*last) >= s.cfg.PurgeInterval {
		*last = now
		return true
	}
	return false
}

// runPurge invokes the engine purger, subject to the server-wide
// moving-average rate limiter so many busy connections can't
// collectively purge far more often than the gate alone implies.
func (s *Server) runPurge() {
	if s.police.Request(maxInt(s.cfg.PurgeRatePerSec, 1)) <= 0 {
		return
	}
	s.cmdMu.Lock()
	sampled, removed := s.eng.Purge()
	s.cmdMu.Unlock()
	s.police.Report(1)
	s.instr.PurgePass()
	s.instr.PurgeSampled(sampled)
	s.instr.PurgeExpired(removed)
}

func maxInt(n, floor int) int {
	if n < floor {
		return floor
	}
	return n
}

// drainAndReply repeatedly extracts complete frames from parser,
// dispatches each, and queues its reply, flushing once after the
// buffer is drained (spec.md §4.E: "after draining, flush all queued
// replies in a single write"). A protocol error terminates the
// connection without a reply, per spec.md §7.
func (s *Server) drainAndReply(parser *resp.Parser, w *bufio.Writer) error {
	wrote := false
	for {
		args, ready, err := parser.Next()
		if err != nil {
			return err // protocol error: spec.md §7 terminates the connection
		}
		if !ready {
			break
		}
		if len(args) == 0 {
			continue
		}

		began := time.Now()
		command := string(args[0])
		s.cmdMu.Lock()
		reply := s.d.Dispatch(args)
		s.cmdMu.Unlock()
		s.instr.CommandCall(command)
		s.instr.CommandDuration(command, time.Since(began))
		if reply.IsError() {
			s.instr.CommandError(command)
		}

		if err := resp.Write(w, reply); err != nil {
			return err
		}
		wrote = true
	}
	if wrote {
		return w.Flush()
	}
	return nil
}
