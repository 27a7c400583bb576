// Package manifest loads the service manifest: the RPC methods a service
// exposes and the resource action each one is bound to.
package manifest

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/morezero/resource-rpc/pkg/resource"
)

// Method binds one RPC method to a resource action. Request and Response are
// full protobuf message names.
type Method struct {
	Name     string `yaml:"name"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
	Request  string `yaml:"request"`
	Response string `yaml:"response"`
}

// ChangeEventSubjects configures where change events are published.
type ChangeEventSubjects struct {
	Global string `yaml:"global"`
}

// Manifest is the root of a manifest file.
type Manifest struct {
	// Name is the service token used in NATS subjects.
	Name string `yaml:"name"`
	// GRPCService is the fully qualified gRPC service name.
	GRPCService  string              `yaml:"grpcService"`
	Version      string              `yaml:"version"`
	Description  string              `yaml:"description,omitempty"`
	Methods      []Method            `yaml:"methods"`
	ChangeEvents ChangeEventSubjects `yaml:"changeEvents"`
}

// Validate checks required fields and method name uniqueness.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%s - manifest name is required", logPrefix)
	}
	if m.GRPCService == "" {
		return fmt.Errorf("%s - manifest %s has no grpcService", logPrefix, m.Name)
	}
	seen := make(map[string]bool, len(m.Methods))
	for i, meth := range m.Methods {
		if meth.Name == "" || meth.Resource == "" || meth.Action == "" || meth.Request == "" || meth.Response == "" {
			return fmt.Errorf("%s - method %d of %s is incomplete", logPrefix, i, m.Name)
		}
		if seen[meth.Name] {
			return fmt.Errorf("%s - duplicate method %s", logPrefix, meth.Name)
		}
		seen[meth.Name] = true
	}
	return nil
}

// Resources returns the resource names referenced by the manifest, in first-use order.
func (m *Manifest) Resources() []string {
	var out []string
	seen := map[string]bool{}
	for _, meth := range m.Methods {
		if !seen[meth.Resource] {
			seen[meth.Resource] = true
			out = append(out, meth.Resource)
		}
	}
	return out
}

// Bindings resolves every method against the message types and dispatchers.
func (m *Manifest) Bindings(types protoregistry.MessageTypeResolver, dispatchers map[string]*resource.Dispatcher) ([]resource.Binding, error) {
	out := make([]resource.Binding, 0, len(m.Methods))
	for _, meth := range m.Methods {
		d, ok := dispatchers[meth.Resource]
		if !ok {
			return nil, fmt.Errorf("%s - method %s: unknown resource %q", logPrefix, meth.Name, meth.Resource)
		}
		req, err := types.FindMessageByName(protoreflect.FullName(meth.Request))
		if err != nil {
			return nil, fmt.Errorf("%s - method %s request %s: %w", logPrefix, meth.Name, meth.Request, err)
		}
		resp, err := types.FindMessageByName(protoreflect.FullName(meth.Response))
		if err != nil {
			return nil, fmt.Errorf("%s - method %s response %s: %w", logPrefix, meth.Name, meth.Response, err)
		}
		b := resource.Binding{Method: meth.Name, Dispatcher: d, Action: meth.Action, Request: req, Response: resp}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
