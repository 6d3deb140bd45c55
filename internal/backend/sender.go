// Package backend dispatches structured queries to the answering service and
// folds every reply or failure into a single user-facing message.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/schoolinfo/internal/config"
	"github.com/ashureev/schoolinfo/internal/query"
)

// ErrUnknownTransport is returned by NewSender for an unsupported transport name.
var ErrUnknownTransport = errors.New("unknown backend transport")

// maxReplyBytes caps how much of a reply body is read from any channel.
const maxReplyBytes = 4 << 20

// Reply is the raw result of one request/response exchange.
type Reply struct {
	// OK is true for a 2xx status, a zero exit status, or a completed RPC.
	OK bool
	// Status is the HTTP status, process exit code, or gRPC code.
	Status int
	Body   []byte
}

// Sender is the capability to exchange one request with the answering service.
// A non-nil error means the channel itself failed; a reply with OK=false means
// the service was reached and declined the query.
type Sender interface {
	Send(ctx context.Context, req query.Request) (*Reply, error)

	// Name identifies the transport in logs and dispatch records.
	Name() string

	// Close releases resources.
	Close() error
}

// Ensure every transport implements Sender.
var (
	_ Sender = (*HTTPSender)(nil)
	_ Sender = (*ProcessSender)(nil)
	_ Sender = (*GRPCSender)(nil)
)

// NewSender builds the transport selected by cfg.
func NewSender(cfg config.BackendConfig, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Transport {
	case config.TransportHTTP:
		return NewHTTPSender(cfg.URL, cfg.Timeout), nil
	case config.TransportProcess:
		return NewProcessSender(cfg.Command, cfg.Args, cfg.Timeout, logger), nil
	case config.TransportGRPC:
		return NewGRPCSender(cfg.GRPCAddr, cfg.GRPCMethod, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
