// Package tokens implements the Token Registry: opaque per-uid bindings with
// a one-active-token-per-uid invariant, persisted through a narrow interface
// so token rotation and storage writes happen inside one lock.
package tokens

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Persister is the slice of the Storage interface the registry needs to keep
// durable state in lockstep with rotation. Deliberately narrow so tests can
// supply an in-memory fake without importing the storage package.
type Persister interface {
	DeleteTokensByUID(uid int64) error
	SaveToken(token string, uid int64) error
}

// Entry is one persisted (token, uid) pair, used by LoadAll.
type Entry struct {
	Token string
	UID   int64
}

// Registry maps canonical token strings to uids and enforces uniqueness of
// uid across the registry.
type Registry struct {
	mu         sync.Mutex
	tokenToUID map[string]int64
	uidToToken map[int64]string
	persist    Persister
}

// New builds an empty registry backed by persist for rotation writes.
// persist may be nil for a purely in-memory registry (tests).
func New(persist Persister) *Registry {
	return &Registry{
		tokenToUID: make(map[string]int64),
		uidToToken: make(map[int64]string),
		persist:    persist,
	}
}

func randomToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("tokens: generate random bytes: %w", err)
	}
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return "", fmt.Errorf("tokens: canonicalize token: %w", err)
	}
	return id.String(), nil
}

// Issue generates a fresh cryptographically unpredictable token for uid,
// deleting every prior binding for that uid first so the registry and
// storage never observe two valid tokens for one uid.
func (r *Registry) Issue(uid int64) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.uidToToken[uid]; ok {
		delete(r.tokenToUID, old)
		delete(r.uidToToken, uid)
	}
	if r.persist != nil {
		if err := r.persist.DeleteTokensByUID(uid); err != nil {
			return "", fmt.Errorf("tokens: delete prior tokens for uid %d: %w", uid, err)
		}
		if err := r.persist.SaveToken(token, uid); err != nil {
			return "", fmt.Errorf("tokens: persist new token for uid %d: %w", uid, err)
		}
	}
	r.tokenToUID[token] = uid
	r.uidToToken[uid] = token
	return token, nil
}

// Lookup resolves a token string to its bound uid.
func (r *Registry) Lookup(token string) (uid int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, ok = r.tokenToUID[token]
	return uid, ok
}

// RevokeByUID removes uid's binding from the in-memory registry only; callers
// that also need durable deletion should call a Persister directly (admin
// ban flows don't revoke tokens — see SPEC_FULL.md).
func (r *Registry) RevokeByUID(uid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.uidToToken[uid]; ok {
		delete(r.tokenToUID, old)
		delete(r.uidToToken, uid)
	}
}

// LoadAll replaces the in-memory registry contents with entries read from
// storage at startup. It does not write back to storage.
func (r *Registry) LoadAll(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenToUID = make(map[string]int64, len(entries))
	r.uidToToken = make(map[int64]string, len(entries))
	for _, e := range entries {
		r.tokenToUID[e.Token] = e.UID
		r.uidToToken[e.UID] = e.Token
	}
}

// CollapseDuplicates enforces the one-token-per-uid invariant over whatever
// is currently loaded (legacy imports may have violated it). Among tokens
// bound to the same uid, the lexicographically greatest token string is
// kept — an arbitrary but deterministic tie-break — and the rest are
// reported so the caller can delete them from storage.
func (r *Registry) CollapseDuplicates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUID := make(map[int64][]string)
	for token, uid := range r.tokenToUID {
		byUID[uid] = append(byUID[uid], token)
	}

	var dropped []string
	for uid, toks := range byUID {
		if len(toks) <= 1 {
			continue
		}
		keep := toks[0]
		for _, t := range toks[1:] {
			if t > keep {
				dropped = append(dropped, keep)
				keep = t
			} else {
				dropped = append(dropped, t)
			}
		}
		for _, t := range toks {
			if t != keep {
				delete(r.tokenToUID, t)
			}
		}
		r.uidToToken[uid] = keep
	}
	return dropped
}
