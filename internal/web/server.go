package web

import "context"

// Server is the status API listener as the render loop sees it. Stop may be
// called more than once.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// ListenAddr is the bound address, "" when not listening.
	ListenAddr() string
}

var (
	_ Server = (*HTTPServer)(nil)
	_ Server = NoopServer{}
)

// NoopServer is used when the renderer runs without --listen.
type NoopServer struct{}

func (NoopServer) Start(context.Context) error { return nil }
func (NoopServer) Stop() error                 { return nil }
func (NoopServer) ListenAddr() string          { return "" }
