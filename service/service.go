// Package service describes RPC services as explicit dispatch tables.
//
// A ServiceDesc maps method names to MethodDesc records. Each record knows how
// to build empty request and response values for its method and holds a
// handler closure that fills the response in place. The table is built once,
// at registration time; dispatch is then a pair of map lookups.
package service

import (
	"context"
	"errors"
	"fmt"
)

// HandlerFunc runs one method: it reads req and fills resp in place.
type HandlerFunc func(ctx context.Context, req, resp any) error

// MethodDesc describes one method of a service.
type MethodDesc struct {
	Name        string
	NewRequest  func() any // Empty request instance for parsing the payload into
	NewResponse func() any // Empty response instance for the handler to fill
	Handler     HandlerFunc
}

// ServiceDesc describes a service: its fully-qualified name and its methods.
type ServiceDesc struct {
	Name    string // e.g. "demo.EchoService"
	Methods []MethodDesc

	index map[string]*MethodDesc
}

var (
	ErrEmptyServiceName = errors.New("service: empty service name")
	ErrEmptyMethodName  = errors.New("service: empty method name")
	ErrDuplicateMethod  = errors.New("service: duplicate method")
	ErrIncompleteMethod = errors.New("service: method without constructors or handler")
)

// NewMethod builds a MethodDesc from a typed handler. Req and Resp are the
// struct types; the handler receives pointers to them.
func NewMethod[Req, Resp any](name string, fn func(ctx context.Context, req *Req, resp *Resp) error) MethodDesc {
	return MethodDesc{
		Name:        name,
		NewRequest:  func() any { return new(Req) },
		NewResponse: func() any { return new(Resp) },
		Handler: func(ctx context.Context, req, resp any) error {
			return fn(ctx, req.(*Req), resp.(*Resp))
		},
	}
}

// New builds and validates a ServiceDesc.
func New(name string, methods ...MethodDesc) (*ServiceDesc, error) {
	desc := &ServiceDesc{Name: name, Methods: methods}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// Validate checks the descriptor and builds its method index.
func (d *ServiceDesc) Validate() error {
	if d.Name == "" {
		return ErrEmptyServiceName
	}

	index := make(map[string]*MethodDesc, len(d.Methods))
	for i := range d.Methods {
		m := &d.Methods[i]
		if m.Name == "" {
			return fmt.Errorf("%w in %s", ErrEmptyMethodName, d.Name)
		}
		if m.NewRequest == nil || m.NewResponse == nil || m.Handler == nil {
			return fmt.Errorf("%w: %s.%s", ErrIncompleteMethod, d.Name, m.Name)
		}
		if _, ok := index[m.Name]; ok {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateMethod, d.Name, m.Name)
		}
		index[m.Name] = m
	}
	d.index = index
	return nil
}

// Method resolves a method by its unqualified name.
func (d *ServiceDesc) Method(name string) (*MethodDesc, bool) {
	if d.index == nil {
		for i := range d.Methods {
			if d.Methods[i].Name == name {
				return &d.Methods[i], true
			}
		}
		return nil, false
	}
	m, ok := d.index[name]
	return m, ok
}

// MethodNames lists the method names in declaration order.
func (d *ServiceDesc) MethodNames() []string {
	names := make([]string, 0, len(d.Methods))
	for _, m := range d.Methods {
		names = append(names, m.Name)
	}
	return names
}
