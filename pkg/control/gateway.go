package control

import (
	"context"

	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/download"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) invoke(ctx context.Context, method string, req, resp interface{}) error {
	var trailer metadata.MD
	err := gw.conn.Invoke(ctx, fullMethod(method), req, resp,
		grpc.CallContentSubtype(codecName),
		grpc.Trailer(&trailer))
	if err != nil {
		gw.logger.Errorf("%s client gateway: %v", method, err)
		return fromStatusError(err, trailer, method)
	}
	gw.logger.Debugf("%s client gateway done", method)
	return nil
}

func (gw *grpcClientGateway) EnsureServices(ctx context.Context) error {
	return gw.invoke(ctx, methodEnsureServices, &empty{}, &empty{})
}

func (gw *grpcClientGateway) EnsureService(ctx context.Context, name string) error {
	return gw.invoke(ctx, methodEnsureService, &nameRequest{Name: name}, &empty{})
}

func (gw *grpcClientGateway) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	if err := gw.invoke(ctx, methodListModels, &empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

func (gw *grpcClientGateway) PullModel(ctx context.Context, model string) (download.Outcome, error) {
	var resp pullResponse
	if err := gw.invoke(ctx, methodPullModel, &nameRequest{Name: model}, &resp); err != nil {
		return download.Outcome{}, err
	}
	return resp.Outcome, nil
}

func (gw *grpcClientGateway) DeleteModel(ctx context.Context, model string) error {
	return gw.invoke(ctx, methodDeleteModel, &nameRequest{Name: model}, &empty{})
}

func (gw *grpcClientGateway) RunTask(ctx context.Context, req taskbridge.Request) (string, error) {
	var resp taskResponse
	if err := gw.invoke(ctx, methodRunTask, &req, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

func (gw *grpcClientGateway) Catalog(ctx context.Context) ([]ollama.CatalogEntry, error) {
	var resp catalogResponse
	if err := gw.invoke(ctx, methodCatalog, &empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (gw *grpcClientGateway) Status(ctx context.Context) (domain.HostStatus, error) {
	var resp domain.HostStatus
	if err := gw.invoke(ctx, methodStatus, &empty{}, &resp); err != nil {
		return domain.HostStatus{}, err
	}
	return resp, nil
}
