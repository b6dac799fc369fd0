package conf

import "github.com/ethereum/go-ethereum/common"

// The access-control list is a capability map keyed by (handle, grantee), not
// a role system. A value a party was never granted is permanently unusable by
// that party.

// grant records a capability. Callers must hold e.mu.
func (e *Engine) grant(h Handle, grantee common.Address, transient bool) {
	set := e.acl
	if transient {
		set = e.transient
	}
	if set[h] == nil {
		set[h] = make(map[common.Address]bool)
	}
	set[h][grantee] = true
}

// isAllowed reports whether grantee holds a persistent or transient grant.
// Callers must hold e.mu.
func (e *Engine) isAllowed(h Handle, grantee common.Address) bool {
	return e.acl[h][grantee] || e.transient[h][grantee]
}

// Allow grants grantee persistent access to h. The caller must itself hold a
// grant; capabilities propagate, they do not appear from nowhere.
func (e *Engine) Allow(h Handle, granter, grantee common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.values[h]; !ok {
		return ErrUnknownHandle
	}
	if !e.isAllowed(h, granter) {
		return ErrAccessDenied
	}
	e.grant(h, grantee, false)
	return nil
}

// AllowTransient grants grantee access to h until ClearTransient is called.
// Used for intermediate values inside a single engine transaction.
func (e *Engine) AllowTransient(h Handle, granter, grantee common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.values[h]; !ok {
		return ErrUnknownHandle
	}
	if !e.isAllowed(h, granter) {
		return ErrAccessDenied
	}
	e.grant(h, grantee, true)
	return nil
}

// IsAllowed reports whether grantee may operate on or decrypt h.
func (e *Engine) IsAllowed(h Handle, grantee common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isAllowed(h, grantee)
}

// ClearTransient drops the transient grants on the given handles; with no
// arguments it drops every transient grant. Operations that run concurrently
// must clear only the handles they granted themselves, or a completing
// operation would strip a grant another operation is still relying on.
func (e *Engine) ClearTransient(handles ...Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(handles) == 0 {
		e.transient = make(map[Handle]map[common.Address]bool)
		return
	}
	for _, h := range handles {
		delete(e.transient, h)
	}
}
