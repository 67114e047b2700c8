// Package echo is a small demo service: demo.EchoService/Echo answers every
// message with "server echo: " prepended.
package echo

import (
	"context"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"pbrpc/client"
	"pbrpc/service"
)

const (
	ServiceName = "demo.EchoService"
	MethodEcho  = "Echo"

	replyPrefix = "server echo: "
)

// Echo is the client-side method identity of demo.EchoService/Echo.
var Echo = client.MethodID{Service: ServiceName, Method: MethodEcho}

// Service implements demo.EchoService.
type Service struct{}

func (s *Service) Echo(ctx context.Context, req *wrapperspb.StringValue, resp *wrapperspb.StringValue) error {
	resp.Value = replyPrefix + req.GetValue()
	return nil
}

// Desc returns the dispatch table of s.
func Desc(s *Service) *service.ServiceDesc {
	desc, err := service.New(ServiceName,
		service.NewMethod(MethodEcho, s.Echo),
	)
	if err != nil {
		// static table, cannot fail
		panic(err)
	}
	return desc
}

// Invoker is satisfied by client.Channel and client.Client.
type Invoker interface {
	Call(ctx context.Context, method client.MethodID, args, reply any) error
}

// Stub is the typed client of demo.EchoService.
type Stub struct {
	inv Invoker
}

func NewStub(inv Invoker) *Stub {
	return &Stub{inv: inv}
}

// Echo sends msg and returns the server's answer.
func (s *Stub) Echo(ctx context.Context, msg string) (string, error) {
	resp := &wrapperspb.StringValue{}
	if err := s.inv.Call(ctx, Echo, wrapperspb.String(msg), resp); err != nil {
		return "", err
	}
	return resp.GetValue(), nil
}
