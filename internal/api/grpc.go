package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chartpilot/analysis-engine/internal/engine"
	"github.com/chartpilot/analysis-engine/internal/models"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "chartpilot.analysis.v1.AnalysisEngine"

// Analyzer is the facade both transports serve.
type Analyzer interface {
	AnalyzeChart(ctx context.Context, req models.ChartRequest) (engine.Outcome, error)
	AnalyzeSymbol(ctx context.Context, req models.SymbolRequest) (engine.Outcome, error)
	Usage(ctx context.Context, subjectID string) ([]models.UsageState, error)
	ListHistory(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error)
	GetAnalysis(ctx context.Context, subjectID, id string) (models.AnalysisRecord, error)
	PatternStats(ctx context.Context, subjectID, pair string) ([]models.PatternStat, error)
}

// AnalysisEngineServer is the server API for the AnalysisEngine service.
// Messages are google.protobuf.Struct values carrying the JSON wire bodies.
type AnalysisEngineServer interface {
	AnalyzeChart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeSymbol(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUsage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAnalysis(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AnalysisEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// methodHandler is the signature grpc.MethodDesc.Handler expects.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(method string, call unaryCall) methodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalysisEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnalysisEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AnalysisEngineServiceDesc describes the service for grpc.Server.RegisterService.
var AnalysisEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeChart", Handler: unaryHandler("AnalyzeChart", AnalysisEngineServer.AnalyzeChart)},
		{MethodName: "AnalyzeSymbol", Handler: unaryHandler("AnalyzeSymbol", AnalysisEngineServer.AnalyzeSymbol)},
		{MethodName: "GetUsage", Handler: unaryHandler("GetUsage", AnalysisEngineServer.GetUsage)},
		{MethodName: "ListHistory", Handler: unaryHandler("ListHistory", AnalysisEngineServer.ListHistory)},
		{MethodName: "GetAnalysis", Handler: unaryHandler("GetAnalysis", AnalysisEngineServer.GetAnalysis)},
		{MethodName: "GetPatterns", Handler: unaryHandler("GetPatterns", AnalysisEngineServer.GetPatterns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chartpilot/analysis/v1/engine.proto",
}

// RegisterAnalysisEngineServer registers srv on s.
func RegisterAnalysisEngineServer(s grpc.ServiceRegistrar, srv AnalysisEngineServer) {
	s.RegisterService(&AnalysisEngineServiceDesc, srv)
}

// AnalysisEngineClient calls the service over a connection.
type AnalysisEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalysisEngineClient wraps cc.
func NewAnalysisEngineClient(cc grpc.ClientConnInterface) *AnalysisEngineClient {
	return &AnalysisEngineClient{cc: cc}
}

// Call invokes method with in and returns the response struct.
func (c *AnalysisEngineClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCService adapts an Analyzer to AnalysisEngineServer.
type GRPCService struct {
	analyzer Analyzer
}

// NewGRPCService constructs the adapter.
func NewGRPCService(analyzer Analyzer) *GRPCService {
	return &GRPCService{analyzer: analyzer}
}

// AnalyzeChart implements AnalysisEngineServer.
func (s *GRPCService) AnalyzeChart(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body ChartRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, grpcError(invalid(err))
	}
	outcome, err := s.analyzer.AnalyzeChart(ctx, body.ToChartRequest())
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(NewAnalysisResponse(outcome))
}

// AnalyzeSymbol implements AnalysisEngineServer.
func (s *GRPCService) AnalyzeSymbol(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body SymbolRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, grpcError(invalid(err))
	}
	outcome, err := s.analyzer.AnalyzeSymbol(ctx, body.ToSymbolRequest())
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(NewAnalysisResponse(outcome))
}

// GetUsage implements AnalysisEngineServer.
func (s *GRPCService) GetUsage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body SubjectRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, grpcError(invalid(err))
	}
	usage, err := s.analyzer.Usage(ctx, body.SubjectID)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(UsageResponse{Usage: usage})
}

// ListHistory implements AnalysisEngineServer.
func (s *GRPCService) ListHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body SubjectRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, grpcError(invalid(err))
	}
	req, err := body.ToListHistoryRequest()
	if err != nil {
		return nil, grpcError(invalid(err))
	}
	resp, err := s.analyzer.ListHistory(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(HistoryResponse{Records: resp.Records, NextPageToken: resp.NextPageToken})
}

// GetAnalysis implements AnalysisEngineServer.
func (s *GRPCService) GetAnalysis(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body SubjectRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, grpcError(invalid(err))
	}
	record, err := s.analyzer.GetAnalysis(ctx, body.SubjectID, body.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(record)
}

// GetPatterns implements AnalysisEngineServer.
func (s *GRPCService) GetPatterns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body SubjectRequestBody
	if err := decodeStruct(in, &body); err != nil {
		return nil, grpcError(invalid(err))
	}
	stats, err := s.analyzer.PatternStats(ctx, body.SubjectID, body.Pair)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(PatternsResponse{Patterns: stats})
}

func invalid(err error) error {
	return &engine.StageError{Stage: engine.StageIdle, Reason: engine.ReasonInvalidInput, Err: err}
}
