// Package rpcsource is a worked-example source.BatchedSource: it resolves
// identities by calling a single fixed gRPC method on a remote batch-fetch
// service, pooling connections per target the way a connection-pooled
// transport does. There is no compiled .proto for this method; requests and
// responses are generic google.golang.org/protobuf/types/known/structpb
// envelopes, so a caller can point a Client at any backend that speaks this
// narrow contract without generating code for it.
package rpcsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arborfetch/arbor/future"
	"github.com/arborfetch/arbor/source"

	eventbus "github.com/arborfetch/arbor/internal/eventbus"
	events "github.com/arborfetch/arbor/internal/events"
)

// Method is the fixed gRPC method path every Client call invokes: a batch
// fetch taking {"identities": [string,...]} and returning
// {"values": {identity_string: value, ...}}. Identities not present in the
// response's "values" field are a batch-shape failure from the runner's
// point of view (see runner.BatchShapeError).
const Method = "/arbor.rpcsource.v1.BatchFetch/Fetch"

// Client is the shared, poolable handle for one remote source. Construct
// one Client per (sourceName, target) pair and hand out source.DataSource
// values from it with For.
type Client struct {
	sourceName string
	target     string
	opts       *Options

	mu   sync.Mutex
	pool *connPool
}

// NewClient returns a Client that invokes Method against target for every
// identity produced under sourceName.
func NewClient(sourceName, target string, opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Client{sourceName: sourceName, target: target, opts: o}
}

// For returns a source.DataSource (and source.BatchedSource) bound to this
// Client and a single identity, suitable for wrapping with ast.Src.
func (c *Client) For(identity any) source.DataSource {
	return item{client: c, identity: identity}
}

// Close releases pooled connections. Safe to call once all in-flight runs
// using this Client's sources have completed.
func (c *Client) Close() error {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		return nil
	}
	pool.close()
	return nil
}

func (c *Client) getPool() *connPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		c.pool = newConnPool(c.target, c.opts)
	}
	return c.pool
}

func (c *Client) fetchMulti(ctx context.Context, ids []any) (map[any]any, error) {
	req, byKey, err := encodeRequest(ids)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp, byKey)
}

// call dials (or reuses) a pooled connection, applies the default deadline
// when ctx carries none, and invokes Method with req, publishing
// RPCCallStart/RPCCallFinish around the attempt.
func (c *Client) call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pool := c.getPool()
	cc, err := pool.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpcsource: acquire connection: %w", err)
	}
	defer pool.put(cc)

	if _, ok := ctx.Deadline(); !ok && c.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
	}

	start := time.Now()
	eventbus.Publish(ctx, events.RPCCallStart{SourceName: c.sourceName, Method: Method, Target: c.target})
	resp := &structpb.Struct{}
	callErr := cc.Invoke(ctx, Method, req, resp)
	eventbus.Publish(ctx, events.RPCCallFinish{
		SourceName: c.sourceName,
		Method:     Method,
		Target:     c.target,
		Err:        callErr,
		Duration:   time.Since(start),
	})
	if callErr != nil {
		return nil, fmt.Errorf("rpcsource: %s: %w", Method, callErr)
	}
	return resp, nil
}

// item is the source.DataSource/BatchedSource value handed out by
// Client.For. It carries no state of its own beyond the identity it was
// constructed with; all transport state lives on the shared Client.
type item struct {
	client   *Client
	identity any
}

func (it item) SourceName() string { return it.client.sourceName }
func (it item) Identity() any      { return it.identity }

func (it item) Fetch(ctx context.Context, env any) future.Future[any] {
	return future.Go(func() (any, error) {
		out, err := it.client.fetchMulti(ctx, []any{it.identity})
		if err != nil {
			return nil, err
		}
		v, ok := out[it.identity]
		if !ok {
			return nil, fmt.Errorf("rpcsource: response missing identity %v", it.identity)
		}
		return v, nil
	})
}

func (it item) FetchMulti(ctx context.Context, sources []source.DataSource, env any) future.Future[map[any]any] {
	ids := make([]any, len(sources))
	for i, s := range sources {
		ids[i] = s.Identity()
	}
	return future.Go(func() (map[any]any, error) { return it.client.fetchMulti(ctx, ids) })
}
