package engine

import (
	"context"
	"sync"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// resolveCache memoizes metadata lookups for the life of a session.
type resolveCache struct {
	mu         sync.Mutex
	types      map[uint32]string
	methods    map[uint32]protocol.ResolveMethodReply
	fields     map[uint32]protocol.ResolveFieldReply
	assemblies map[uint32]protocol.ResolveAssemblyReply
}

func (c *resolveCache) init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = make(map[uint32]string)
	c.methods = make(map[uint32]protocol.ResolveMethodReply)
	c.fields = make(map[uint32]protocol.ResolveFieldReply)
	c.assemblies = make(map[uint32]protocol.ResolveAssemblyReply)
}

func (c *resolveCache) clear() { c.init() }

func lookup[K comparable, V any](mu *sync.Mutex, m map[K]V, k K) (V, bool) {
	mu.Lock()
	defer mu.Unlock()
	v, ok := m[k]
	return v, ok
}

func store[K comparable, V any](mu *sync.Mutex, m map[K]V, k K, v V) {
	mu.Lock()
	defer mu.Unlock()
	m[k] = v
}

// ResolveType returns the full name of a type definition index.
func (e *Engine) ResolveType(ctx context.Context, index uint32) (string, error) {
	c := &e.resolved
	if name, ok := lookup(&c.mu, c.types, index); ok {
		return name, nil
	}
	reply, err := request[*protocol.ResolveTypeReply](ctx, e, protocol.CmdResolveType, &protocol.ResolveIndex{Index: index}, e.defaultCall())
	if err != nil {
		return "", err
	}
	store(&c.mu, c.types, index, reply.Name)
	return reply.Name, nil
}

// ResolveMethod returns a method's name and declaring type.
func (e *Engine) ResolveMethod(ctx context.Context, index uint32) (protocol.ResolveMethodReply, error) {
	c := &e.resolved
	if m, ok := lookup(&c.mu, c.methods, index); ok {
		return m, nil
	}
	reply, err := request[*protocol.ResolveMethodReply](ctx, e, protocol.CmdResolveMethod, &protocol.ResolveIndex{Index: index}, e.defaultCall())
	if err != nil {
		return protocol.ResolveMethodReply{}, err
	}
	store(&c.mu, c.methods, index, *reply)
	return *reply, nil
}

// ResolveField returns a field's name, declaring type and slot.
func (e *Engine) ResolveField(ctx context.Context, index uint32) (protocol.ResolveFieldReply, error) {
	c := &e.resolved
	if f, ok := lookup(&c.mu, c.fields, index); ok {
		return f, nil
	}
	reply, err := request[*protocol.ResolveFieldReply](ctx, e, protocol.CmdResolveField, &protocol.ResolveIndex{Index: index}, e.defaultCall())
	if err != nil {
		return protocol.ResolveFieldReply{}, err
	}
	store(&c.mu, c.fields, index, *reply)
	return *reply, nil
}

// ResolveAssembly returns an assembly's name and version.
func (e *Engine) ResolveAssembly(ctx context.Context, index uint32) (protocol.ResolveAssemblyReply, error) {
	c := &e.resolved
	if a, ok := lookup(&c.mu, c.assemblies, index); ok {
		return a, nil
	}
	reply, err := request[*protocol.ResolveAssemblyReply](ctx, e, protocol.CmdResolveAssembly, &protocol.ResolveIndex{Index: index}, e.defaultCall())
	if err != nil {
		return protocol.ResolveAssemblyReply{}, err
	}
	store(&c.mu, c.assemblies, index, *reply)
	return *reply, nil
}

// Assembly is one loaded assembly with its index.
type Assembly struct {
	Index uint32
	protocol.ResolveAssemblyReply
}

// ResolveAllAssemblies lists the loaded assemblies and resolves each one in
// turn, waiting for every reply before the next request.
func (e *Engine) ResolveAllAssemblies(ctx context.Context) ([]Assembly, error) {
	list, err := request[*protocol.IndexList](ctx, e, protocol.CmdTypeSysAssemblies, nil, e.defaultCall())
	if err != nil {
		return nil, err
	}
	out := make([]Assembly, 0, len(list.Items))
	for _, idx := range list.Items {
		a, err := e.ResolveAssembly(ctx, idx)
		if err != nil {
			return out, err
		}
		out = append(out, Assembly{Index: idx, ResolveAssemblyReply: a})
	}
	return out, nil
}
