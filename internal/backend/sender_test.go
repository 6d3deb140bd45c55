package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/ashureev/schoolinfo/internal/config"
	"github.com/ashureev/schoolinfo/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPSender_Send(t *testing.T) {
	var got query.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Math: A"}`))
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, time.Second)
	defer s.Close()

	reply, err := s.Send(context.Background(), query.Build("What are my grades", query.IntentGrades))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, http.StatusOK, reply.Status)
	assert.JSONEq(t, `{"response":"Math: A"}`, string(reply.Body))
	assert.Equal(t, query.IntentGrades, got.Type)
	assert.Equal(t, "What are my grades", got.Text)
	assert.Equal(t, "http", s.Name())
}

func TestHTTPSender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Invalid query type"}`))
	}))
	defer srv.Close()

	reply, err := NewHTTPSender(srv.URL, time.Second).Send(context.Background(), query.FromText("hi"))
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, http.StatusBadRequest, reply.Status)
}

func TestHTTPSender_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSender(url, time.Second).Send(context.Background(), query.FromText("hi"))
	assert.Error(t, err)
}

func TestHTTPSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPSender(srv.URL, 50*time.Millisecond).Send(context.Background(), query.FromText("hi"))
	assert.Error(t, err)
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process transport tests need /bin/sh")
	}
}

func TestProcessSender_Send(t *testing.T) {
	skipWithoutShell(t)

	script := `printf '{"response":"%s|%s"}' "$1" "$2"`
	s := NewProcessSender("sh", []string{"-c", script, "backend"}, 5*time.Second, discardLogger())

	reply, err := s.Send(context.Background(), query.Build("When is dismissal", query.IntentUpcomingEvents))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.JSONEq(t, `{"response":"upcomingEvents|When is dismissal"}`, string(reply.Body))
	assert.Equal(t, "process", s.Name())
	assert.NoError(t, s.Close())
}

func TestProcessSender_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)

	script := `echo "traceback" >&2; printf '{"error":"bad"}'; exit 3`
	s := NewProcessSender("sh", []string{"-c", script, "backend"}, 5*time.Second, discardLogger())

	reply, err := s.Send(context.Background(), query.FromText("grades"))
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, 3, reply.Status)
	assert.Equal(t, `{"error":"bad"}`, string(reply.Body))
}

func TestProcessSender_MissingBinary(t *testing.T) {
	s := NewProcessSender("/nonexistent/schoolinfo-backend", nil, time.Second, discardLogger())
	_, err := s.Send(context.Background(), query.FromText("grades"))
	assert.Error(t, err)
}

func TestProcessSender_Timeout(t *testing.T) {
	skipWithoutShell(t)

	s := NewProcessSender("sh", []string{"-c", "sleep 5", "backend"}, 100*time.Millisecond, discardLogger())
	start := time.Now()
	_, err := s.Send(context.Background(), query.FromText("grades"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

// startGRPCBackend serves handler for every method over an in-memory listener.
func startGRPCBackend(t *testing.T, handler func(in *structpb.Struct) (*structpb.Struct, error)) *GRPCSender {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		out, err := handler(in)
		if err != nil {
			return err
		}
		return stream.SendMsg(out)
	}))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	s, err := NewGRPCSender("passthrough:///bufnet", config.DefaultGRPCMethod, 2*time.Second, discardLogger(),
		grpc.WithContextDialer(dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGRPCSender_Send(t *testing.T) {
	s := startGRPCBackend(t, func(in *structpb.Struct) (*structpb.Struct, error) {
		text := in.GetFields()["query_text"].GetStringValue()
		return structpb.NewStruct(map[string]any{"response": "echo: " + text})
	})

	reply, err := s.Send(context.Background(), query.Build("What are my grades", query.IntentGrades))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.JSONEq(t, `{"response":"echo: What are my grades"}`, string(reply.Body))
	assert.Equal(t, "grpc", s.Name())
}

func TestGRPCSender_ApplicationError(t *testing.T) {
	s := startGRPCBackend(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "Invalid query type")
	})

	reply, err := s.Send(context.Background(), query.FromText("grades"))
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, int(codes.InvalidArgument), reply.Status)
	assert.Equal(t, "Invalid query type", string(reply.Body))
}

func TestGRPCSender_Unavailable(t *testing.T) {
	s := startGRPCBackend(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})

	_, err := s.Send(context.Background(), query.FromText("grades"))
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
}

func TestNewSender(t *testing.T) {
	logger := discardLogger()

	s, err := NewSender(config.BackendConfig{Transport: config.TransportHTTP, URL: "http://localhost:1"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSender{}, s)

	s, err = NewSender(config.BackendConfig{Transport: config.TransportProcess, Command: "true"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ProcessSender{}, s)

	s, err = NewSender(config.BackendConfig{
		Transport:  config.TransportGRPC,
		GRPCAddr:   "localhost:1",
		GRPCMethod: config.DefaultGRPCMethod,
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &GRPCSender{}, s)
	assert.NoError(t, s.Close())

	_, err = NewSender(config.BackendConfig{Transport: "carrier-pigeon"}, logger)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}
