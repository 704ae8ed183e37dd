// Package loopback is an in-process dimse.Stack. Outbound stores are kept
// in memory per destination and inbound associations are injected with
// Deliver. It backs tests and dry runs where no network stack is linked.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/dicomgw/pkg/dimse"
)

// Name is the registry name of the default loopback stack.
const Name = "loopback"

func init() {
	dimse.Register(Name, New())
}

// ErrRefused is returned by Associate for a destination marked with Refuse.
var ErrRefused = errors.New("association refused")

// Stack is an in-process stack.
type Stack struct {
	mu       sync.Mutex
	handler  dimse.Handler
	cfg      dimse.ListenConfig
	received map[string][][]byte
	refused  map[string]bool
	failAt   map[string]int
}

// New creates an empty stack.
func New() *Stack {
	return &Stack{
		received: make(map[string][][]byte),
		refused:  make(map[string]bool),
		failAt:   make(map[string]int),
	}
}

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Refuse makes associations to host:port fail.
func (s *Stack) Refuse(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refused[addr(host, port)] = true
}

// Accept undoes Refuse.
func (s *Stack) Accept(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refused, addr(host, port))
}

// FailStoreAt makes the n-th store (1-based) to host:port fail.
func (s *Stack) FailStoreAt(host string, port, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt[addr(host, port)] = n
}

// Received returns the objects stored to host:port.
func (s *Stack) Received(host string, port int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received[addr(host, port)]...)
}

// Associate opens an in-memory association.
func (s *Stack) Associate(_ context.Context, req dimse.AssociateRequest) (dimse.Association, error) {
	a := addr(req.Host, req.Port)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refused[a] {
		return nil, fmt.Errorf("%s -> %s@%s: %w", req.CallingAE, req.CalledAE, a, ErrRefused)
	}
	return &association{stack: s, addr: a}, nil
}

// Listen records h as the inbound handler and blocks until ctx is done.
func (s *Stack) Listen(ctx context.Context, cfg dimse.ListenConfig, h dimse.Handler) error {
	s.mu.Lock()
	s.handler = h
	s.cfg = cfg
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
	return nil
}

// Deliver runs one inbound association against the listening handler and
// returns the status of every store.
func (s *Stack) Deliver(ctx context.Context, peer dimse.Peer, events []dimse.StoreEvent) ([]dimse.Status, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil, errors.New("loopback stack is not listening")
	}

	id := h.OnAssociationAccepted(ctx, peer)
	statuses := make([]dimse.Status, 0, len(events))
	for _, ev := range events {
		ev.AssociationID = id
		ev.CallingAE = peer.CallingAE
		ev.CalledAE = peer.CalledAE
		statuses = append(statuses, h.OnStore(ctx, ev))
	}
	h.OnAssociationReleased(ctx, id)
	return statuses, nil
}

type association struct {
	stack *Stack
	addr  string
	n     int
}

func (a *association) Store(_ context.Context, data []byte) error {
	a.stack.mu.Lock()
	defer a.stack.mu.Unlock()
	a.n++
	if a.stack.failAt[a.addr] == a.n {
		return fmt.Errorf("store %d to %s rejected", a.n, a.addr)
	}
	a.stack.received[a.addr] = append(a.stack.received[a.addr], append([]byte(nil), data...))
	return nil
}

func (a *association) Release() error {
	return nil
}

var _ dimse.Stack = (*Stack)(nil)
