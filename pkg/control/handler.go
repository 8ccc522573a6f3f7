package control

import (
	"context"

	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	"google.golang.org/grpc"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&serviceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Contract() domain.Contract {
	return h.handler
}

func (h *grpcServerHandler) fail(ctx context.Context, method string, err error) error {
	h.logger.Errorf("%s server handler: %v", method, err)
	return toStatusError(ctx, err)
}

func (h *grpcServerHandler) ensureServices(ctx context.Context) (*empty, error) {
	if err := h.handler.EnsureServices(ctx); err != nil {
		return nil, h.fail(ctx, methodEnsureServices, err)
	}
	h.logger.Debugf("EnsureServices server handler done")
	return &empty{}, nil
}

func (h *grpcServerHandler) ensureService(ctx context.Context, req *nameRequest) (*empty, error) {
	if err := h.handler.EnsureService(ctx, req.Name); err != nil {
		return nil, h.fail(ctx, methodEnsureService, err)
	}
	h.logger.Debugf("EnsureService server handler done, name: %s", req.Name)
	return &empty{}, nil
}

func (h *grpcServerHandler) listModels(ctx context.Context) (*modelsResponse, error) {
	models, err := h.handler.ListModels(ctx)
	if err != nil {
		return nil, h.fail(ctx, methodListModels, err)
	}
	h.logger.Debugf("ListModels server handler done, count: %d", len(models))
	return &modelsResponse{Models: models}, nil
}

func (h *grpcServerHandler) pullModel(ctx context.Context, req *nameRequest) (*pullResponse, error) {
	outcome, err := h.handler.PullModel(ctx, req.Name)
	if err != nil {
		return nil, h.fail(ctx, methodPullModel, err)
	}
	h.logger.Debugf("PullModel server handler done, model: %s, outcome: %s", req.Name, outcome)
	return &pullResponse{Outcome: outcome}, nil
}

func (h *grpcServerHandler) deleteModel(ctx context.Context, req *nameRequest) (*empty, error) {
	if err := h.handler.DeleteModel(ctx, req.Name); err != nil {
		return nil, h.fail(ctx, methodDeleteModel, err)
	}
	h.logger.Debugf("DeleteModel server handler done, model: %s", req.Name)
	return &empty{}, nil
}

func (h *grpcServerHandler) runTask(ctx context.Context, req *taskbridge.Request) (*taskResponse, error) {
	result, err := h.handler.RunTask(ctx, *req)
	if err != nil {
		return nil, h.fail(ctx, methodRunTask, err)
	}
	h.logger.Debugf("RunTask server handler done, model: %s", req.ModelName)
	return &taskResponse{Result: result}, nil
}

func (h *grpcServerHandler) catalog(ctx context.Context) (*catalogResponse, error) {
	entries, err := h.handler.Catalog(ctx)
	if err != nil {
		return nil, h.fail(ctx, methodCatalog, err)
	}
	return &catalogResponse{Entries: entries}, nil
}

func (h *grpcServerHandler) status(ctx context.Context) (*domain.HostStatus, error) {
	status, err := h.handler.Status(ctx)
	if err != nil {
		return nil, h.fail(ctx, methodStatus, err)
	}
	h.logger.Debugf("Status server handler done")
	return &status, nil
}
