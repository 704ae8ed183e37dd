// Package dimse holds the contracts between the gateway and a DICOM
// upper-layer protocol stack. The stack itself lives outside this module
// and plugs in through Register, the same way database/sql drivers do.
package dimse

import (
	"context"
	"fmt"
)

// Status is a DIMSE response status.
type Status uint16

const (
	StatusSuccess           Status = 0x0000
	StatusOutOfResources    Status = 0xA700
	StatusProcessingFailure Status = 0xC001
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusOutOfResources:
		return "out_of_resources"
	case StatusProcessingFailure:
		return "processing_failure"
	default:
		return fmt.Sprintf("0x%04X", uint16(s))
	}
}

// Peer describes the remote side of an inbound association.
type Peer struct {
	CallingAE  string
	CalledAE   string
	RemoteAddr string
}

// StoreEvent is one C-STORE request received on an inbound association.
// Data holds the complete Part 10 encoded object.
type StoreEvent struct {
	AssociationID  string
	CallingAE      string
	CalledAE       string
	StudyUID       string
	SeriesUID      string
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
}

// Handler receives inbound protocol events. The stack calls OnStore inline
// from its accept loop, so a slow handler slows the remote sender.
type Handler interface {
	// OnAssociationAccepted returns the id the stack must attach to every
	// later event of this association.
	OnAssociationAccepted(ctx context.Context, peer Peer) string
	OnStore(ctx context.Context, ev StoreEvent) Status
	OnAssociationReleased(ctx context.Context, associationID string)
	OnAssociationAborted(ctx context.Context, associationID string)
}

// AssociateRequest addresses an outbound association.
type AssociateRequest struct {
	CallingAE string
	CalledAE  string
	Host      string
	Port      int
}

// Association is an open outbound association.
type Association interface {
	// Store sends one Part 10 encoded object with C-STORE.
	Store(ctx context.Context, data []byte) error
	Release() error
}

// Associator opens outbound associations.
type Associator interface {
	Associate(ctx context.Context, req AssociateRequest) (Association, error)
}

// ListenConfig configures the inbound listener.
type ListenConfig struct {
	AETitle         string
	Port            int
	MaxAssociations int
}

// Stack is a DICOM upper-layer implementation.
type Stack interface {
	Associator

	// Listen accepts associations and dispatches events to h until ctx is
	// cancelled.
	Listen(ctx context.Context, cfg ListenConfig, h Handler) error
}
