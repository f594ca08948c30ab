// Package server exposes the guard over gRPC. Messages are google.protobuf.Struct
// values carrying the same JSON shapes as the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/callguard/internal/engine"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "callguard.v1.Guard"

// Full method names.
const (
	MethodEvaluate      = "/" + ServiceName + "/Evaluate"
	MethodCreateSession = "/" + ServiceName + "/CreateSession"
	MethodListTools     = "/" + ServiceName + "/ListTools"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr string
}

// Server serves the Guard service on top of an engine.
type Server struct {
	engine     *engine.Engine
	cfg        Config
	log        zerolog.Logger
	grpcServer *grpc.Server
}

// New registers the Guard service on a fresh gRPC server.
func New(e *engine.Engine, cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		engine:     e,
		cfg:        cfg,
		log:        log.With().Str("component", "grpc").Logger(),
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	return s.grpcServer.Serve(lis)
}

// ServeOn serves on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ReloadPolicy re-reads the policy file. Called by the hot-reloader.
func (s *Server) ReloadPolicy() error {
	return s.engine.ReloadPolicy()
}

// Evaluate authorizes one tool call.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := structJSON(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	evalReq, err := engine.DecodeEvaluateRequest(data)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.engine.Evaluate(ctx, evalReq)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(res)
}

// CreateSession builds and holds a capability session.
func (s *Server) CreateSession(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in session.Input
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sess, err := s.engine.CreateSession(in)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(sess)
}

// ListTools returns the tool catalog.
func (s *Server) ListTools(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tools, err := s.engine.Catalog().ListTools(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return toStruct(map[string]any{"tools": tools})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrContract):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrSessionExists):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func structJSON(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.AsMap())
}

func decodeStruct(s *structpb.Struct, v any) error {
	data, err := structJSON(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
