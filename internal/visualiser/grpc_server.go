package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/rgbdvo/internal/monitoring"
)

const (
	serviceName      = "rgbdvo.v1.PoseStream"
	streamMethodName = "/" + serviceName + "/Stream"
)

// PoseStreamServer is the server API for the rgbdvo.v1.PoseStream service.
// Requests and updates travel as google.protobuf.Struct.
type PoseStreamServer interface {
	Stream(req *structpb.Struct, stream UpdateSender) error
}

// UpdateSender is the server side of a Stream call.
type UpdateSender interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type updateSender struct {
	grpc.ServerStream
}

func (s *updateSender) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PoseStreamServer).Stream(req, &updateSender{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PoseStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "rgbdvo/v1/pose_stream.proto",
}

// RegisterService registers srv on s.
func RegisterService(s grpc.ServiceRegistrar, srv PoseStreamServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ PoseStreamServer = (*Server)(nil)

// Server streams a Publisher's updates to gRPC clients.
type Server struct {
	publisher *Publisher
}

// NewServer creates a server over publisher.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// Stream sends updates until the client goes away or the publisher stops.
// A request field "keyframes_only": true limits the stream to keyframes.
func (s *Server) Stream(req *structpb.Struct, stream UpdateSender) error {
	keyframesOnly := req.GetFields()["keyframes_only"].GetBoolValue()
	client, err := s.publisher.addClient(keyframesOnly)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case u := <-client.ch:
			msg, err := u.ToStruct()
			if err != nil {
				return status.Errorf(codes.Internal, "encode update %d: %v", u.Seq, err)
			}
			if err := stream.Send(msg); err != nil {
				monitoring.Logf("[visualiser] send to %s: %v", client.id, err)
				return err
			}
		}
	}
}

// UpdateReceiver is the client side of a Stream call.
type UpdateReceiver interface {
	Recv() (*PoseUpdate, error)
	grpc.ClientStream
}

type updateReceiver struct {
	grpc.ClientStream
}

func (r *updateReceiver) Recv() (*PoseUpdate, error) {
	m := new(structpb.Struct)
	if err := r.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return UpdateFromStruct(m)
}

// Subscribe opens a pose stream on cc.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, keyframesOnly bool, opts ...grpc.CallOption) (UpdateReceiver, error) {
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], streamMethodName, opts...)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]interface{}{"keyframes_only": keyframesOnly})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &updateReceiver{stream}, nil
}
