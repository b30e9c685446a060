package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "portalchat.v1.Chat"

const (
	methodSend            = "/" + ServiceName + "/Send"
	methodListThread      = "/" + ServiceName + "/ListThread"
	methodOpenThread      = "/" + ServiceName + "/OpenThread"
	methodCloseThread     = "/" + ServiceName + "/CloseThread"
	methodSetVisibility   = "/" + ServiceName + "/SetVisibility"
	methodRoster          = "/" + ServiceName + "/Roster"
	methodUnread          = "/" + ServiceName + "/Unread"
	methodImportDirectory = "/" + ServiceName + "/ImportDirectory"
	methodSetUsername     = "/" + ServiceName + "/SetUsername"
	methodStatus          = "/" + ServiceName + "/Status"
	methodWatchEvents     = "/" + ServiceName + "/WatchEvents"
)

// ChatServer is the server API for the chat service.
type ChatServer interface {
	Send(context.Context, *SendRequest) (*SendResponse, error)
	ListThread(context.Context, *ListThreadRequest) (*ListThreadResponse, error)
	OpenThread(context.Context, *OpenThreadRequest) (*OpenThreadResponse, error)
	CloseThread(context.Context, *CloseThreadRequest) (*CloseThreadResponse, error)
	SetVisibility(context.Context, *SetVisibilityRequest) (*SetVisibilityResponse, error)
	Roster(context.Context, *RosterRequest) (*RosterResponse, error)
	Unread(context.Context, *UnreadRequest) (*UnreadResponse, error)
	ImportDirectory(context.Context, *ImportDirectoryRequest) (*ImportDirectoryResponse, error)
	SetUsername(context.Context, *SetUsernameRequest) (*SetUsernameResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[EventEnvelope]) error
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&chatServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(ChatServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChatServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChatServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	m := new(WatchEventsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServer).WatchEvents(m, &grpc.GenericServerStream[WatchEventsRequest, EventEnvelope]{ServerStream: stream})
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: unary(methodSend, ChatServer.Send)},
		{MethodName: "ListThread", Handler: unary(methodListThread, ChatServer.ListThread)},
		{MethodName: "OpenThread", Handler: unary(methodOpenThread, ChatServer.OpenThread)},
		{MethodName: "CloseThread", Handler: unary(methodCloseThread, ChatServer.CloseThread)},
		{MethodName: "SetVisibility", Handler: unary(methodSetVisibility, ChatServer.SetVisibility)},
		{MethodName: "Roster", Handler: unary(methodRoster, ChatServer.Roster)},
		{MethodName: "Unread", Handler: unary(methodUnread, ChatServer.Unread)},
		{MethodName: "ImportDirectory", Handler: unary(methodImportDirectory, ChatServer.ImportDirectory)},
		{MethodName: "SetUsername", Handler: unary(methodSetUsername, ChatServer.SetUsername)},
		{MethodName: "Status", Handler: unary(methodStatus, ChatServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "portalchat/v1/chat.proto",
}

// ChatClient is the client API for the chat service.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

// NewChatClient returns a client using the JSON codec on cc.
func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *ChatClient, method string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatClient) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error) {
	return invoke[SendRequest, SendResponse](ctx, c, methodSend, in, opts...)
}

func (c *ChatClient) ListThread(ctx context.Context, in *ListThreadRequest, opts ...grpc.CallOption) (*ListThreadResponse, error) {
	return invoke[ListThreadRequest, ListThreadResponse](ctx, c, methodListThread, in, opts...)
}

func (c *ChatClient) OpenThread(ctx context.Context, in *OpenThreadRequest, opts ...grpc.CallOption) (*OpenThreadResponse, error) {
	return invoke[OpenThreadRequest, OpenThreadResponse](ctx, c, methodOpenThread, in, opts...)
}

func (c *ChatClient) CloseThread(ctx context.Context, in *CloseThreadRequest, opts ...grpc.CallOption) (*CloseThreadResponse, error) {
	return invoke[CloseThreadRequest, CloseThreadResponse](ctx, c, methodCloseThread, in, opts...)
}

func (c *ChatClient) SetVisibility(ctx context.Context, in *SetVisibilityRequest, opts ...grpc.CallOption) (*SetVisibilityResponse, error) {
	return invoke[SetVisibilityRequest, SetVisibilityResponse](ctx, c, methodSetVisibility, in, opts...)
}

func (c *ChatClient) Roster(ctx context.Context, in *RosterRequest, opts ...grpc.CallOption) (*RosterResponse, error) {
	return invoke[RosterRequest, RosterResponse](ctx, c, methodRoster, in, opts...)
}

func (c *ChatClient) Unread(ctx context.Context, in *UnreadRequest, opts ...grpc.CallOption) (*UnreadResponse, error) {
	return invoke[UnreadRequest, UnreadResponse](ctx, c, methodUnread, in, opts...)
}

func (c *ChatClient) ImportDirectory(ctx context.Context, in *ImportDirectoryRequest, opts ...grpc.CallOption) (*ImportDirectoryResponse, error) {
	return invoke[ImportDirectoryRequest, ImportDirectoryResponse](ctx, c, methodImportDirectory, in, opts...)
}

func (c *ChatClient) SetUsername(ctx context.Context, in *SetUsernameRequest, opts ...grpc.CallOption) (*SetUsernameResponse, error) {
	return invoke[SetUsernameRequest, SetUsernameResponse](ctx, c, methodSetUsername, in, opts...)
}

func (c *ChatClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusRequest, StatusResponse](ctx, c, methodStatus, in, opts...)
}

// WatchEvents opens the event stream.
func (c *ChatClient) WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[EventEnvelope], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &chatServiceDesc.Streams[0], methodWatchEvents, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchEventsRequest, EventEnvelope]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
