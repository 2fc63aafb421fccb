package rpcsource

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc"
)

// connPool is a small, bounded pool of grpc.ClientConn to one target,
// adapted from the same get/put/close shape used for per-endpoint pooling
// in a connection-pooled gRPC transport: hand out an idle conn if one is
// queued, dial a fresh one otherwise, and return it to the pool instead of
// closing it when the caller is done.
type connPool struct {
	target string
	opts   *Options
	conns  chan *grpc.ClientConn
	closed atomic.Bool
}

func newConnPool(target string, opts *Options) *connPool {
	n := opts.MaxConnsPerTarget
	if n <= 0 {
		n = 2
	}
	return &connPool{
		target: target,
		opts:   opts,
		conns:  make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get(ctx context.Context) (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("rpcsource: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.DialContext(ctx, p.target, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if cc == nil || p.closed.Load() {
		if cc != nil {
			_ = cc.Close()
		}
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}
