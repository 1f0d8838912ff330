package transport

import "context"

// Role tells which side of a connection an endpoint serves.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Endpoint moves type-erased values one at a time in each direction. A client
// endpoint sends requests and receives responses; a server endpoint does the
// opposite. Implementations must be safe for one concurrent sender and one
// concurrent receiver at minimum.
type Endpoint interface {
	RequestType() string
	ResponseType() string
	Role() Role
	Send(ctx context.Context, v any) error
	Recv(ctx context.Context) (any, error)
	Close() error
}

func outboundType(ep Endpoint) string {
	if ep.Role() == RoleServer {
		return ep.ResponseType()
	}
	return ep.RequestType()
}

func inboundType(ep Endpoint) string {
	if ep.Role() == RoleServer {
		return ep.RequestType()
	}
	return ep.ResponseType()
}
