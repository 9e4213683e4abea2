// Package server implements the gRPC front door for a clog agent: unary
// and streaming Produce/Consume, gated by a per-call Authorizer.
package server

import (
	"context"
	"time"

	api "github.com/mkoval/clog/api/v1"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_auth "github.com/grpc-ecosystem/go-grpc-middleware/auth"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func init() {
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
}

const (
	objectWildcard       = "log"
	produceAction        = "produce"
	consumeAction        = "consume"
	consumeStreamBackoff = 25 * time.Millisecond
)

// CommitLog is what the gRPC layer needs from the storage core. Keeping
// this narrow interface (rather than importing *log.Log directly) means
// server never depends on segment rollover, recovery, or any other core
// internal — only on Append/Read.
type CommitLog interface {
	Append(*api.Record) (uint64, error)
	Read(uint64) (*api.Record, error)
}

// Authorizer gates an RPC's (subject, object, action) triple.
type Authorizer interface {
	Authorize(subject, object, action string) error
}

// Config wires a CommitLog and an Authorizer into a grpcServer.
type Config struct {
	CommitLog  CommitLog
	Authorizer Authorizer
}

var _ api.LogServer = (*grpcServer)(nil)

type grpcServer struct {
	api.UnimplementedLogServer
	*Config
}

// newgrpcServer returns a new gRPC server that wraps the given CommitLog
// and Authorizer.
func newgrpcServer(config *Config) (srv *grpcServer, err error) {
	srv = &grpcServer{
		Config: config,
	}
	return srv, nil
}

// Produce appends a record to the log and returns the offset. It returns
// an error if the caller isn't authorized to produce or the log can't
// append the record.
func (s *grpcServer) Produce(ctx context.Context, req *api.ProduceRequest) (*api.ProduceResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, produceAction); err != nil {
		return nil, err
	}

	offset, err := s.CommitLog.Append(req.Record)
	if err != nil {
		return nil, err
	}
	return &api.ProduceResponse{
		Offset: offset,
	}, nil
}

// Consume retrieves the record at the offset in a ConsumeRequest. It
// returns an error if the caller isn't authorized to consume or the
// record can't be read.
func (s *grpcServer) Consume(ctx context.Context, req *api.ConsumeRequest) (*api.ConsumeResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, consumeAction); err != nil {
		return nil, err
	}

	record, err := s.CommitLog.Read(req.Offset)
	if err != nil {
		return nil, err
	}
	return &api.ConsumeResponse{
		Record: record,
	}, nil
}

// ProduceStream accepts a stream of ProduceRequests, appending each one
// and echoing back its assigned offset, until the client closes the
// stream or an append fails.
func (s *grpcServer) ProduceStream(stream api.Log_ProduceStreamServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}

		res, err := s.Produce(stream.Context(), req)
		if err != nil {
			return err
		}

		if err = stream.Send(res); err != nil {
			return err
		}
	}
}

// ConsumeStream streams records starting at req.Offset, advancing the
// offset after every successful send. Past the log's current boundary it
// does not spin or return — it backs off briefly and retries, so a
// caller started at offset 0 keeps receiving records as they're produced
// instead of erroring out the moment it catches up.
func (s *grpcServer) ConsumeStream(
	req *api.ConsumeRequest,
	stream api.Log_ConsumeStreamServer,
) error {
	ctx := stream.Context()

	for {
		select {
		case <-ctx.Done():
			return nil

		default:
			res, err := s.Consume(ctx, req)

			switch err.(type) {
			case nil:
			case api.ErrorOffsetOutOfRange:
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(consumeStreamBackoff):
				}
				continue
			default:
				return err
			}

			if err = stream.Send(res); err != nil {
				return err
			}
			req.Offset++
		}
	}
}

// NewGRPCServer returns a new gRPC server wrapping the given CommitLog
// behind authenticated, authorized Produce/Consume RPCs.
func NewGRPCServer(config *Config, opts ...grpc.ServerOption) (*grpc.Server, error) {
	opts = append(opts,
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
		grpc.StreamInterceptor(
			grpc_middleware.ChainStreamServer(
				grpc_auth.StreamServerInterceptor(authenticate),
			),
		),
		grpc.UnaryInterceptor(
			grpc_middleware.ChainUnaryServer(
				grpc_auth.UnaryServerInterceptor(authenticate),
			),
		),
	)

	gsrv := grpc.NewServer(opts...)

	srv, err := newgrpcServer(config)
	if err != nil {
		return nil, err
	}
	api.RegisterLogServer(gsrv, srv)

	return gsrv, nil
}

type subjectContextKey struct{}

// authenticate implements grpc_auth.AuthFunc: it reads the client
// certificate's common name off the connection's peer info and stashes
// it on the context for subject() to read back downstream. A connection
// with no TLS peer info authenticates as the empty subject, which
// Authorize then denies unless the ACL policy explicitly grants it.
func authenticate(ctx context.Context) (context.Context, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ctx, status.New(codes.Unknown, "couldn't find peer info").Err()
	}

	if p.AuthInfo == nil {
		return context.WithValue(ctx, subjectContextKey{}, ""), nil
	}

	tlsInfo := p.AuthInfo.(credentials.TLSInfo)
	cn := tlsInfo.State.VerifiedChains[0][0].Subject.CommonName

	return context.WithValue(ctx, subjectContextKey{}, cn), nil
}

// subject returns the authenticated subject authenticate stored on ctx.
func subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectContextKey{}).(string)
	return s
}
