package visualiser

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "posemat.v1.PoseStream"

const watchMethod = "/" + ServiceName + "/Watch"

// PoseStreamServer is the server API. Requests and responses are
// google.protobuf.Struct messages; see WatchRequest and Frame for their
// fields.
type PoseStreamServer interface {
	Watch(*structpb.Struct, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoseStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "posemat/v1/pose_stream.proto",
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PoseStreamServer).Watch(req, stream)
}

// RegisterPoseStreamServer registers srv on s.
func RegisterPoseStreamServer(s grpc.ServiceRegistrar, srv PoseStreamServer) {
	s.RegisterService(&serviceDesc, srv)
}

// WatchRequest filters the stream. The zero value receives every frame.
type WatchRequest struct {
	// Client identifies the viewer in server logs.
	Client string
	// MinConfidence drops frames whose confidence is below it.
	MinConfidence float64
	// Labels, when non-empty, restricts the stream to these labels.
	Labels []string
	// IncludeRejected also delivers frames below the classifier threshold.
	IncludeRejected bool
}

func (r WatchRequest) toStruct() (*structpb.Struct, error) {
	labels := make([]interface{}, len(r.Labels))
	for i, l := range r.Labels {
		labels[i] = l
	}
	return structpb.NewStruct(map[string]interface{}{
		"client":           r.Client,
		"min_confidence":   r.MinConfidence,
		"labels":           labels,
		"include_rejected": r.IncludeRejected,
	})
}

func watchRequestFromStruct(s *structpb.Struct) WatchRequest {
	fields := s.GetFields()
	r := WatchRequest{
		Client:          fields["client"].GetStringValue(),
		MinConfidence:   fields["min_confidence"].GetNumberValue(),
		IncludeRejected: fields["include_rejected"].GetBoolValue(),
	}
	for _, v := range fields["labels"].GetListValue().GetValues() {
		r.Labels = append(r.Labels, v.GetStringValue())
	}
	return r
}

func (r WatchRequest) accepts(f Frame) bool {
	if f.Rejected && !r.IncludeRejected {
		return false
	}
	if f.Confidence < r.MinConfidence {
		return false
	}
	if len(r.Labels) == 0 {
		return true
	}
	for _, l := range r.Labels {
		if l == f.Label {
			return true
		}
	}
	return false
}

// Client receives frames from a remote publisher.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target. Pass transport credentials in opts.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Watch opens a frame stream. The stream ends when ctx is cancelled or the
// publisher stops.
func (c *Client) Watch(ctx context.Context, req WatchRequest) (*WatchStream, error) {
	msg, err := req.toStruct()
	if err != nil {
		return nil, fmt.Errorf("encode watch request: %w", err)
	}
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}

// WatchStream is an open Watch call.
type WatchStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next frame. It returns io.EOF when the publisher ends
// the stream cleanly.
func (w *WatchStream) Recv() (Frame, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return Frame{}, err
	}
	return FrameFromStruct(msg)
}
