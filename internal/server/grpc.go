package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/infoburn/internal/async"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/ingest"
)

const pipelineServiceName = "infoburn.v1.Pipeline"

// PipelineServer is the RPC surface. Requests and responses are
// google.protobuf.Struct so no generated stubs are needed.
type PipelineServer interface {
	SubmitDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ProcessCase(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var PipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: pipelineServiceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitDocument", Handler: unary("SubmitDocument", PipelineServer.SubmitDocument)},
		{MethodName: "ProcessCase", Handler: unary("ProcessCase", PipelineServer.ProcessCase)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "infoburn/v1/pipeline.proto",
}

func unary(method string, call func(PipelineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PipelineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + pipelineServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PipelineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PipelineService implements PipelineServer over the ingestor and queue.
type PipelineService struct {
	ingestor *ingest.Ingestor
	queue    async.Queue
	logger   *slog.Logger
}

func NewPipelineService(ing *ingest.Ingestor, queue async.Queue, logger *slog.Logger) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineService{ingestor: ing, queue: queue, logger: logger}
}

// Register mounts the pipeline and health services. Health stays NOT_SERVING
// until the caller marks it serving.
func Register(gs *grpc.Server, svc *PipelineService) *health.Server {
	gs.RegisterService(&PipelineServiceDesc, svc)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(pipelineServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// MarkServing flips the overall and pipeline health to SERVING.
func MarkServing(hs *health.Server) {
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(pipelineServiceName, healthpb.HealthCheckResponse_SERVING)
}

func field(in *structpb.Struct, name string) string {
	if v, ok := in.GetFields()[name]; ok {
		return strings.TrimSpace(v.GetStringValue())
	}
	return ""
}

// SubmitDocument takes case_id, kind, media_type, filename and content.
func (s *PipelineService) SubmitDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caseID := field(in, "case_id")
	ctx = common.WithCaseID(ctx, caseID)
	res, err := s.ingestor.Submit(ctx, ingest.Submission{
		CaseID:    caseID,
		Kind:      field(in, "kind"),
		MediaType: field(in, "media_type"),
		Filename:  field(in, "filename"),
		Content:   []byte(in.GetFields()["content"].GetStringValue()),
	})
	if err != nil {
		common.LoggerFrom(ctx, s.logger).Error("grpc.submit_failed", "error", err)
		return nil, common.ToStatus(err)
	}
	out := map[string]any{
		"accepted":     res.Accepted,
		"deduplicated": res.Deduplicated,
	}
	if res.Accepted {
		out["document_id"] = res.Document.ID.String()
		out["kind"] = string(res.Document.Kind)
	} else {
		out["reason"] = string(res.Reason)
		out["detail"] = res.Detail
	}
	return structpb.NewStruct(out)
}

// ProcessCase takes case_id and an optional force flag.
func (s *PipelineService) ProcessCase(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caseID := field(in, "case_id")
	if err := common.ValidateAndReturnError(common.ValidateCaseID(caseID)); err != nil {
		return nil, err
	}
	force := in.GetFields()["force"].GetBoolValue()
	queued, err := s.queue.Enqueue(ctx, async.Job{CaseID: caseID, Force: force, TraceID: common.RequestIDFromContext(ctx)})
	if errors.Is(err, async.ErrQueueClosed) {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(map[string]any{"case_id": caseID, "queued": queued, "force": force})
}
