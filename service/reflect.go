package service

import (
	"context"
	"fmt"
	"reflect"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// FromReceiver builds a ServiceDesc by scanning the exported methods of rcvr
// (e.g. &Arith{}). Methods with one of these signatures are kept:
//
//	func (s *T) Method(ctx context.Context, req *Req, resp *Resp) error
//	func (s *T) Method(req *Req, resp *Resp) error
//
// Reflection only runs here; every kept method becomes a closure in the table.
// An empty name defaults to the struct type name.
func FromReceiver(name string, rcvr any) (*ServiceDesc, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("service: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("service: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}

	val := reflect.ValueOf(rcvr)
	desc := &ServiceDesc{Name: name}
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if md, ok := methodFromReflect(val, method); ok {
			desc.Methods = append(desc.Methods, md)
		}
	}
	if len(desc.Methods) == 0 {
		return nil, fmt.Errorf("service: %s has no exported RPC methods", name)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

func methodFromReflect(rcvr reflect.Value, method reflect.Method) (MethodDesc, bool) {
	mt := method.Type
	if mt.NumOut() != 1 || mt.Out(0) != errorType {
		return MethodDesc{}, false
	}

	// In(0) is the receiver
	withCtx := false
	switch mt.NumIn() {
	case 4:
		if mt.In(1) != contextType {
			return MethodDesc{}, false
		}
		withCtx = true
	case 3:
	default:
		return MethodDesc{}, false
	}

	argIdx := mt.NumIn() - 2
	argType, replyType := mt.In(argIdx), mt.In(argIdx+1)
	if argType.Kind() != reflect.Ptr || replyType.Kind() != reflect.Ptr {
		return MethodDesc{}, false
	}

	fn := method.Func
	return MethodDesc{
		Name:        method.Name,
		NewRequest:  func() any { return reflect.New(argType.Elem()).Interface() },
		NewResponse: func() any { return reflect.New(replyType.Elem()).Interface() },
		Handler: func(ctx context.Context, req, resp any) error {
			args := make([]reflect.Value, 0, 4)
			args = append(args, rcvr)
			if withCtx {
				args = append(args, reflect.ValueOf(ctx))
			}
			args = append(args, reflect.ValueOf(req), reflect.ValueOf(resp))

			results := fn.Call(args)
			if !results[0].IsNil() {
				return results[0].Interface().(error)
			}
			return nil
		},
	}, true
}
