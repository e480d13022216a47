package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/bsky-store/internal/model"
)

// ResolveDidFunc and ResolveHandleFunc are the caller-supplied capabilities
// that actually talk to the identity directory (PLC/DNS resolution is out
// of scope per spec.md §1).
type (
	ResolveDidFunc    func(ctx context.Context, handle model.Handle) (model.Did, error)
	ResolveHandleFunc func(ctx context.Context, did model.Did) (model.Handle, error)
)

// IdentityResolver maps between handles and DIDs, per spec.md §6.2. It is
// layered: a badger-backed persistent cache in front of the resolve
// functions, plus an in-memory map deduplicating concurrent lookups for the
// same key within a single process lifetime.
type IdentityResolver struct {
	cache *Cache

	resolveDid    ResolveDidFunc
	resolveHandle ResolveHandleFunc

	mu        sync.Mutex
	didByH    map[model.Handle]model.Did
	handleByD map[model.Did]model.Handle
}

// NewIdentityResolver wraps resolveDid/resolveHandle in the cache's
// persistent and in-memory layers.
func NewIdentityResolver(cache *Cache, resolveDid ResolveDidFunc, resolveHandle ResolveHandleFunc) *IdentityResolver {
	return &IdentityResolver{
		cache:         cache,
		resolveDid:    resolveDid,
		resolveHandle: resolveHandle,
		didByH:        make(map[model.Handle]model.Did),
		handleByD:     make(map[model.Did]model.Handle),
	}
}

// ResolveDid returns the DID currently bound to handle.
func (r *IdentityResolver) ResolveDid(ctx context.Context, handle model.Handle) (model.Did, error) {
	r.mu.Lock()
	if did, ok := r.didByH[handle]; ok {
		r.mu.Unlock()
		return did, nil
	}
	r.mu.Unlock()

	key := "handle:" + string(handle)
	if raw, found := r.cache.readString(key); found {
		did, err := model.NewDid(raw)
		if err != nil {
			return model.Did(""), err
		}
		r.remember(handle, did)
		return did, nil
	}

	did, err := r.resolveDid(ctx, handle)
	if err != nil {
		return model.Did(""), fmt.Errorf("oracle: resolve did for %s: %w", handle, err)
	}
	r.cache.writeString(key, string(did), DefaultSuccessTTL)
	r.remember(handle, did)
	return did, nil
}

// ResolveHandle returns the handle currently bound to did.
func (r *IdentityResolver) ResolveHandle(ctx context.Context, did model.Did) (model.Handle, error) {
	r.mu.Lock()
	if handle, ok := r.handleByD[did]; ok {
		r.mu.Unlock()
		return handle, nil
	}
	r.mu.Unlock()

	key := "did:" + string(did)
	if raw, found := r.cache.readString(key); found {
		handle, err := model.NewHandle(raw)
		if err != nil {
			return model.Handle(""), err
		}
		r.remember(handle, did)
		return handle, nil
	}

	handle, err := r.resolveHandle(ctx, did)
	if err != nil {
		return model.Handle(""), fmt.Errorf("oracle: resolve handle for %s: %w", did, err)
	}
	r.cache.writeString(key, string(handle), DefaultSuccessTTL)
	r.remember(handle, did)
	return handle, nil
}

// ResolveIdentity resolves identifier, which may be either a handle or a
// DID, returning both forms.
func (r *IdentityResolver) ResolveIdentity(ctx context.Context, identifier string) (model.Did, model.Handle, error) {
	if did, err := model.NewDid(identifier); err == nil {
		handle, err := r.ResolveHandle(ctx, did)
		return did, handle, err
	}

	handle, err := model.NewHandle(identifier)
	if err != nil {
		return model.Did(""), model.Handle(""), fmt.Errorf("oracle: %q is neither a valid did nor handle", identifier)
	}
	did, err := r.ResolveDid(ctx, handle)
	return did, handle, err
}

func (r *IdentityResolver) remember(handle model.Handle, did model.Did) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.didByH[handle] = did
	r.handleByD[did] = handle
}
