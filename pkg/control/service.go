package control

import (
	"context"

	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/download"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	"google.golang.org/grpc"
)

const serviceName = "localagents.control.v1.Control"

const (
	methodEnsureServices = "EnsureServices"
	methodEnsureService  = "EnsureService"
	methodListModels     = "ListModels"
	methodPullModel      = "PullModel"
	methodDeleteModel    = "DeleteModel"
	methodRunTask        = "RunTask"
	methodCatalog        = "Catalog"
	methodStatus         = "Status"
)

// controlServer is the handler type checked by grpc.Server.RegisterService
type controlServer interface {
	Contract() domain.Contract
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

type empty struct{}

type nameRequest struct {
	Name string `json:"name"`
}

type modelsResponse struct {
	Models []string `json:"models"`
}

type pullResponse struct {
	Outcome download.Outcome `json:"outcome"`
}

type taskResponse struct {
	Result string `json:"result"`
}

type catalogResponse struct {
	Entries []ollama.CatalogEntry `json:"entries"`
}

// unary adapts one typed handler call to the grpc.MethodDesc signature
func unary[Req any](method string, call func(ctx context.Context, h *grpcServerHandler, req *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			h := srv.(*grpcServerHandler)
			if interceptor == nil {
				return call(ctx, h, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, req, info, func(ctx context.Context, r interface{}) (interface{}, error) {
				return call(ctx, h, r.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodEnsureServices, func(ctx context.Context, h *grpcServerHandler, _ *empty) (interface{}, error) {
			return h.ensureServices(ctx)
		}),
		unary(methodEnsureService, func(ctx context.Context, h *grpcServerHandler, req *nameRequest) (interface{}, error) {
			return h.ensureService(ctx, req)
		}),
		unary(methodListModels, func(ctx context.Context, h *grpcServerHandler, _ *empty) (interface{}, error) {
			return h.listModels(ctx)
		}),
		unary(methodPullModel, func(ctx context.Context, h *grpcServerHandler, req *nameRequest) (interface{}, error) {
			return h.pullModel(ctx, req)
		}),
		unary(methodDeleteModel, func(ctx context.Context, h *grpcServerHandler, req *nameRequest) (interface{}, error) {
			return h.deleteModel(ctx, req)
		}),
		unary(methodRunTask, func(ctx context.Context, h *grpcServerHandler, req *taskbridge.Request) (interface{}, error) {
			return h.runTask(ctx, req)
		}),
		unary(methodCatalog, func(ctx context.Context, h *grpcServerHandler, _ *empty) (interface{}, error) {
			return h.catalog(ctx)
		}),
		unary(methodStatus, func(ctx context.Context, h *grpcServerHandler, _ *empty) (interface{}, error) {
			return h.status(ctx)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control",
}
