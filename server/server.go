// Package server assembles a pbrpc server: a Dispatcher holding the services
// and a transport.NetworkServer delivering frames to it.
//
//	NetworkServer (accept, event loops, framing)
//	  → Dispatcher.HandleMessage(conn, frame)
//	    → decode → Middleware Chain → handler → encode → conn.Send
package server

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"pbrpc/logger"
	"pbrpc/service"
	"pbrpc/transport"
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	dispatcher *Dispatcher
	network    transport.NetworkServer
	logger     *zap.Logger
}

// New wires dispatcher to network. Most callers use NewBuilder instead.
func New(network transport.NetworkServer, dispatcher *Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = logger.L()
	}
	network.SetMessageHandler(dispatcher.HandleMessage)
	return &Server{
		dispatcher: dispatcher,
		network:    network,
		logger:     log.With(zap.String("module", "server")),
	}
}

// RegisterService adds a service descriptor, see Dispatcher.RegisterService.
func (svr *Server) RegisterService(desc *service.ServiceDesc) error {
	return svr.dispatcher.RegisterService(desc)
}

// Register registers a service receiver (e.g., &Arith{}) under its type name.
// The struct's exported methods that match the RPC signature will be available for remote calls.
func (svr *Server) Register(rcvr any) error {
	return svr.RegisterName("", rcvr)
}

// RegisterName is like Register but uses name as the service name.
func (svr *Server) RegisterName(name string, rcvr any) error {
	desc, err := service.FromReceiver(name, rcvr)
	if err != nil {
		return err
	}
	return svr.dispatcher.RegisterService(desc)
}

// Dispatcher returns the dispatcher behind the server.
func (svr *Server) Dispatcher() *Dispatcher {
	return svr.dispatcher
}

// Start listens and serves in the background.
func (svr *Server) Start() error {
	return svr.network.Start()
}

// Run starts the server and blocks until it is stopped.
func (svr *Server) Run() error {
	svr.logger.Info("server starting", zap.Strings("services", svr.dispatcher.Services()))
	return svr.network.Run()
}

// Stop closes the listener and every connection, waiting for running handlers.
func (svr *Server) Stop() error {
	return svr.network.Stop()
}

// Shutdown performs Stop but gives up waiting after timeout.
// The handlers still running keep their event loops until they return.
func (svr *Server) Shutdown(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- svr.network.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// Addr returns the bound address, or nil before the server starts.
func (svr *Server) Addr() net.Addr {
	return svr.network.Addr()
}
