// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpc carries the exproto gRPC services without generated stubs:
// every request and response is a google.protobuf.Struct, and services are
// registered from hand-written descriptors.
package rpc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrMissing is returned for a required field that is absent.
	ErrMissing = errors.New("required field missing")
	// ErrType is returned for a field of the wrong type.
	ErrType = errors.New("field has wrong type")
)

// Fields reads typed values out of a Struct.
type Fields struct {
	s *structpb.Struct
}

// Read wraps s. A nil s reads as empty.
func Read(s *structpb.Struct) Fields {
	return Fields{s: s}
}

func (f Fields) value(key string) (*structpb.Value, bool) {
	v, ok := f.s.GetFields()[key]
	if !ok || v == nil {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

// Has reports whether key is present and not null.
func (f Fields) Has(key string) bool {
	_, ok := f.value(key)
	return ok
}

// String returns a required string field.
func (f Fields) String(key string) (string, error) {
	v, ok := f.value(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissing, key)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrType, key)
	}
	return s.StringValue, nil
}

// OptString returns a string field, or "" when it is absent.
func (f Fields) OptString(key string) (string, error) {
	if !f.Has(key) {
		return "", nil
	}
	return f.String(key)
}

// Bytes returns a required base64 encoded field.
func (f Fields) Bytes(key string) ([]byte, error) {
	s, err := f.String(key)
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be base64", ErrType, key)
	}
	return b, nil
}

// OptBytes returns a base64 encoded field, or nil when it is absent.
func (f Fields) OptBytes(key string) ([]byte, error) {
	if !f.Has(key) {
		return nil, nil
	}
	return f.Bytes(key)
}

// Int returns a required integral number field.
func (f Fields) Int(key string) (int64, error) {
	v, ok := f.value(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissing, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrType, key)
	}
	return int64(n.NumberValue), nil
}

// OptInt returns an integral number field, or 0 when it is absent.
func (f Fields) OptInt(key string) (int64, error) {
	if !f.Has(key) {
		return 0, nil
	}
	return f.Int(key)
}

// Bool returns a boolean field, or false when it is absent.
func (f Fields) Bool(key string) (bool, error) {
	v, ok := f.value(key)
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrType, key)
	}
	return b.BoolValue, nil
}

// Struct returns a required nested object.
func (f Fields) Struct(key string) (Fields, error) {
	v, ok := f.value(key)
	if !ok {
		return Fields{}, fmt.Errorf("%w: %s", ErrMissing, key)
	}
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return Fields{}, fmt.Errorf("%w: %s must be an object", ErrType, key)
	}
	return Fields{s: s.StructValue}, nil
}

// OptStruct returns a nested object and whether it was present.
func (f Fields) OptStruct(key string) (Fields, bool, error) {
	if !f.Has(key) {
		return Fields{}, false, nil
	}
	s, err := f.Struct(key)
	return s, err == nil, err
}

// Structs returns a required list of objects.
func (f Fields) Structs(key string) ([]Fields, error) {
	v, ok := f.value(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissing, key)
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", ErrType, key)
	}
	out := make([]Fields, 0, len(l.ListValue.GetValues()))
	for i, item := range l.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrType, key, i)
		}
		out = append(out, Fields{s: s.StructValue})
	}
	return out, nil
}

// Object is the builder side of Fields.
type Object map[string]any

// Struct converts o. Byte slices are base64 encoded.
func (o Object) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(o)
}
