package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	RentalService_CreateRental_FullMethodName = "/rental.v1.RentalService/CreateRental"
	RentalService_ReturnRental_FullMethodName = "/rental.v1.RentalService/ReturnRental"
	RentalService_GetRental_FullMethodName    = "/rental.v1.RentalService/GetRental"
	RentalService_ListOverdue_FullMethodName  = "/rental.v1.RentalService/ListOverdue"
)

type RentalServiceClient interface {
	CreateRental(ctx context.Context, in *CreateRentalRequest, opts ...grpc.CallOption) (*Rental, error)
	ReturnRental(ctx context.Context, in *ReturnRentalRequest, opts ...grpc.CallOption) (*Rental, error)
	GetRental(ctx context.Context, in *GetRentalRequest, opts ...grpc.CallOption) (*Rental, error)
	ListOverdue(ctx context.Context, in *ListOverdueRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Rental], error)
}

type rentalServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRentalServiceClient(cc grpc.ClientConnInterface) RentalServiceClient {
	return &rentalServiceClient{cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *rentalServiceClient) CreateRental(ctx context.Context, in *CreateRentalRequest, opts ...grpc.CallOption) (*Rental, error) {
	out := new(Rental)
	if err := c.cc.Invoke(ctx, RentalService_CreateRental_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *rentalServiceClient) ReturnRental(ctx context.Context, in *ReturnRentalRequest, opts ...grpc.CallOption) (*Rental, error) {
	out := new(Rental)
	if err := c.cc.Invoke(ctx, RentalService_ReturnRental_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *rentalServiceClient) GetRental(ctx context.Context, in *GetRentalRequest, opts ...grpc.CallOption) (*Rental, error) {
	out := new(Rental)
	if err := c.cc.Invoke(ctx, RentalService_GetRental_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *rentalServiceClient) ListOverdue(ctx context.Context, in *ListOverdueRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Rental], error) {
	stream, err := c.cc.NewStream(ctx, &RentalService_ServiceDesc.Streams[0], RentalService_ListOverdue_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[ListOverdueRequest, Rental]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type RentalServiceServer interface {
	CreateRental(context.Context, *CreateRentalRequest) (*Rental, error)
	ReturnRental(context.Context, *ReturnRentalRequest) (*Rental, error)
	GetRental(context.Context, *GetRentalRequest) (*Rental, error)
	ListOverdue(*ListOverdueRequest, grpc.ServerStreamingServer[Rental]) error
}

// UnimplementedRentalServiceServer can be embedded to keep servers
// compiling when methods are added.
type UnimplementedRentalServiceServer struct{}

func (UnimplementedRentalServiceServer) CreateRental(context.Context, *CreateRentalRequest) (*Rental, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateRental not implemented")
}

func (UnimplementedRentalServiceServer) ReturnRental(context.Context, *ReturnRentalRequest) (*Rental, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReturnRental not implemented")
}

func (UnimplementedRentalServiceServer) GetRental(context.Context, *GetRentalRequest) (*Rental, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetRental not implemented")
}

func (UnimplementedRentalServiceServer) ListOverdue(*ListOverdueRequest, grpc.ServerStreamingServer[Rental]) error {
	return status.Errorf(codes.Unimplemented, "method ListOverdue not implemented")
}

func RegisterRentalServiceServer(s grpc.ServiceRegistrar, srv RentalServiceServer) {
	s.RegisterService(&RentalService_ServiceDesc, srv)
}

func _RentalService_CreateRental_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateRentalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RentalServiceServer).CreateRental(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RentalService_CreateRental_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RentalServiceServer).CreateRental(ctx, req.(*CreateRentalRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RentalService_ReturnRental_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReturnRentalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RentalServiceServer).ReturnRental(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RentalService_ReturnRental_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RentalServiceServer).ReturnRental(ctx, req.(*ReturnRentalRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RentalService_GetRental_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRentalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RentalServiceServer).GetRental(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RentalService_GetRental_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RentalServiceServer).GetRental(ctx, req.(*GetRentalRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RentalService_ListOverdue_Handler(srv any, stream grpc.ServerStream) error {
	m := new(ListOverdueRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RentalServiceServer).ListOverdue(m, &grpc.GenericServerStream[ListOverdueRequest, Rental]{ServerStream: stream})
}

var RentalService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "rental.v1.RentalService",
	HandlerType: (*RentalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRental", Handler: _RentalService_CreateRental_Handler},
		{MethodName: "ReturnRental", Handler: _RentalService_ReturnRental_Handler},
		{MethodName: "GetRental", Handler: _RentalService_GetRental_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ListOverdue", Handler: _RentalService_ListOverdue_Handler, ServerStreams: true},
	},
	Metadata: "rental/v1/rental.proto",
}
