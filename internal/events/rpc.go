package events

import "time"

// RPCCallStart is emitted before rpcsource issues a gRPC call.
type RPCCallStart struct {
	SourceName string
	Method     string
	Target     string
}

// RPCCallFinish is emitted after an rpcsource gRPC call completes.
type RPCCallFinish struct {
	SourceName string
	Method     string
	Target     string
	Err        error
	Duration   time.Duration
}
