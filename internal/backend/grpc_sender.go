package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/schoolinfo/internal/query"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCSender calls a unary method on the answering service. Request and reply
// are google.protobuf.Struct values carrying the same fields as the JSON body.
type GRPCSender struct {
	conn    *grpc.ClientConn
	method  string
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPCSender creates a gRPC transport. The connection is established lazily
// on the first Send. Extra dial options are appended after the defaults.
func NewGRPCSender(addr, method string, timeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCSender, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", addr, err)
	}

	logger.Info("Answering service gRPC client created", "address", addr, "method", method)

	return &GRPCSender{
		conn:    conn,
		method:  method,
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Name returns the transport name.
func (s *GRPCSender) Name() string { return "grpc" }

// Close closes the gRPC connection.
func (s *GRPCSender) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close grpc connection: %w", err)
	}
	return nil
}

// Send invokes the configured method once.
func (s *GRPCSender) Send(ctx context.Context, req query.Request) (*Reply, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	in, err := structpb.NewStruct(map[string]any{
		"query_type": string(req.Type),
		"query_text": req.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, s.method, in, out); err != nil {
		st := status.Convert(err)
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return nil, fmt.Errorf("grpc call %s on %s: %w", s.method, s.addr, err)
		default:
			return &Reply{OK: false, Status: int(st.Code()), Body: []byte(st.Message())}, nil
		}
	}

	body, err := protojson.Marshal(out)
	if err != nil {
		s.logger.Warn("Failed to render gRPC reply as JSON", "error", err, "method", s.method)
		return &Reply{OK: true, Status: int(codes.OK)}, nil
	}
	return &Reply{OK: true, Status: int(codes.OK), Body: body}, nil
}
