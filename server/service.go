package server

import (
	"noc-rpc/middleware"
	"noc-rpc/registry"
)

// Service is a class of service implementation, e.g. the C2C link table or the FP mailbox.
type Service interface {
	Entry() registry.Entry
}

// Register adds svc to the server's registry. It must be called before Start.
func (svr *Server) Register(svc Service) error {
	return svr.reg.Register(svc.Entry())
}

// Use appends middlewares. They apply in the order they are added and must be added
// before Start.
func (svr *Server) Use(mw ...middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw...)
}
