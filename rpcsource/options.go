package rpcsource

import (
	"time"

	"google.golang.org/grpc"
)

// Options configures a Client's transport behavior.
//
// Defaults:
// - MaxConnsPerTarget: 2
// - RPCTimeout:         3s (used only if the caller's context has no deadline)
// - DialOptions:        insecure credentials, default backoff
//
// A MaxConnsPerTarget <= 0 falls back to 2 and an empty DialOptions falls
// back to the default above; an RPCTimeout of zero applies no deadline.
type Options struct {
	MaxConnsPerTarget int
	RPCTimeout        time.Duration
	DialOptions       []grpc.DialOption
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerTarget: 2,
		RPCTimeout:        3 * time.Second,
	}
}

// WithMaxConnsPerTarget bounds the pooled connection count per target.
func WithMaxConnsPerTarget(n int) Option { return func(o *Options) { o.MaxConnsPerTarget = n } }

// WithRPCTimeout sets the deadline applied to a call whose context has none.
func WithRPCTimeout(d time.Duration) Option { return func(o *Options) { o.RPCTimeout = d } }

// WithDialOptions overrides the grpc.DialOptions used to establish pooled
// connections, replacing the insecure-credentials default.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
