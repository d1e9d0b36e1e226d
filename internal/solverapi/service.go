// Package solverapi описывает gRPC контракт удалённого солвера.
//
// Сообщения кодируются JSON (content-subtype "json"), дескриптор сервиса
// и клиентская заглушка написаны вручную.
package solverapi

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "mdds.solver.v1.SolverService"

// Полные имена методов.
const (
	SubmitMethod    = "/" + ServiceName + "/Submit"
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
	CancelJobMethod = "/" + ServiceName + "/CancelJob"
)

// SolverServer — серверная сторона сервиса.
type SolverServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	CancelJob(context.Context, *CancelJobRequest) (*CancelJobResponse, error)
}

// RegisterSolverServer регистрирует реализацию на gRPC сервере.
func RegisterSolverServer(s grpc.ServiceRegistrar, srv SolverServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc — дескриптор сервиса.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "CancelJob", Handler: cancelJobHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mdds/solver/v1/solver",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SolverServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SolverServer).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SolverServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SolverServer).GetStatus(ctx, req.(*GetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SolverServer).CancelJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CancelJobMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SolverServer).CancelJob(ctx, req.(*CancelJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SolverClient — клиентская сторона сервиса.
type SolverClient interface {
	Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error)
	GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error)
	CancelJob(ctx context.Context, in *CancelJobRequest, opts ...grpc.CallOption) (*CancelJobResponse, error)
}

type solverClient struct {
	cc grpc.ClientConnInterface
}

// NewSolverClient создаёт клиент поверх соединения. Соединением владеет вызывающий.
func NewSolverClient(cc grpc.ClientConnInterface) SolverClient {
	return &solverClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *solverClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *solverClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.cc.Invoke(ctx, GetStatusMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *solverClient) CancelJob(ctx context.Context, in *CancelJobRequest, opts ...grpc.CallOption) (*CancelJobResponse, error) {
	out := new(CancelJobResponse)
	if err := c.cc.Invoke(ctx, CancelJobMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
