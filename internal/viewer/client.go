package viewer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/routing"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/model"
)

// Client calls the viewer service and decodes its responses.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Snapshot fetches and decodes the session snapshot.
func (c *Client) Snapshot(ctx context.Context, opts ...grpc.CallOption) (*state.Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetSnapshot, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	snap := new(state.Snapshot)
	if err := fromStruct(out, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Counters fetches the session counters.
func (c *Client) Counters(ctx context.Context, opts ...grpc.CallOption) (model.Counters, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetCounters, &emptypb.Empty{}, out, opts...); err != nil {
		return model.Counters{}, err
	}
	var counters model.Counters
	if err := fromStruct(out, &counters); err != nil {
		return model.Counters{}, err
	}
	return counters, nil
}

// RankPaths scores every path from src to dst on the server.
func (c *Client) RankPaths(ctx context.Context, src, dst core.DeviceID, opts ...grpc.CallOption) ([]routing.Candidate, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"source":      int(src),
		"destination": int(dst),
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodRankPaths, in, out, opts...); err != nil {
		return nil, err
	}
	var resp rankResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}
