// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	applog "hotswap/internal/log"
)

var ErrSenderClosed = errors.New("udp: sender is closed")

// SenderStats counts datagrams since the sender was created.
type SenderStats struct {
	Sent   uint64
	Failed uint64
}

// Sender writes datagrams to one meter listener. A listener that is not
// running makes every write fail; that is logged once per outage rather
// than once per packet.
type Sender struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	target *net.UDPAddr

	sent    atomic.Uint64
	failed  atomic.Uint64
	failing bool
}

// NewSender dials target, e.g. "127.0.0.1:9090".
func NewSender(target string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", addr, err)
	}
	applog.Infof("UDP: sending meters to %s", addr)
	return &Sender{conn: conn, target: addr}, nil
}

// Target returns the resolved destination.
func (s *Sender) Target() *net.UDPAddr { return s.target }

// Stats returns the datagram counters.
func (s *Sender) Stats() SenderStats {
	return SenderStats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// Send writes one datagram.
func (s *Sender) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrSenderClosed
	}
	if _, err := s.conn.Write(b); err != nil {
		s.failed.Add(1)
		if !s.failing {
			s.failing = true
			applog.Warnf("UDP: send to %s failing: %v", s.target, err)
		}
		return fmt.Errorf("udp: send: %w", err)
	}
	s.sent.Add(1)
	if s.failing {
		s.failing = false
		applog.Infof("UDP: send to %s recovered", s.target)
	}
	return nil
}

// Close releases the socket. It is safe to call more than once.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
