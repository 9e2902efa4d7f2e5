package library

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/corral-io/corral/internal/model"
)

// The remote evaluator speaks JSON-encoded gRPC: the library service is
// polyglot and its schema moves faster than a compiled protocol would
// allow.

const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const evaluateMethod = "/corral.library.v1.Evaluator/EvaluateCompositeInstances"

type evaluateRequest struct {
	LibraryID      string                    `json:"libraryId"`
	Instances      []model.DeclaredInstance  `json:"instances"`
	ResolvedInputs map[string]map[string]any `json:"resolvedInputs,omitempty"`
}

// Remote is an Evaluator backed by a gRPC library service.
type Remote struct {
	conn *grpc.ClientConn
}

func NewRemote(target string) (*Remote, error) {
	if target == "" {
		return nil, fmt.Errorf("remote evaluator requires an address")
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)))
	if err != nil {
		return nil, fmt.Errorf("connect to library evaluator %s: %w", target, err)
	}
	return &Remote{conn: conn}, nil
}

func (r *Remote) Close() error {
	return r.conn.Close()
}

func (r *Remote) EvaluateCompositeInstances(ctx context.Context, libraryID string, instances []model.DeclaredInstance, resolvedInputs map[string]map[string]any) (*Result, error) {
	req := evaluateRequest{
		LibraryID:      libraryID,
		Instances:      instances,
		ResolvedInputs: resolvedInputs,
	}
	var resp Result
	if err := r.conn.Invoke(ctx, evaluateMethod, &req, &resp); err != nil {
		return nil, fmt.Errorf("evaluate composite instances: %w", err)
	}
	return &resp, nil
}
