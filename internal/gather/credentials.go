package gather

import (
	"math/rand/v2"
	"sync/atomic"

	"taa/internal/config"
)

// Credential is one API identity with a running request counter. The
// counter lives for the process and is never persisted.
type Credential struct {
	Key    string
	Secret string
	used   atomic.Int64
}

// Used returns how many counted requests this credential has issued.
func (c *Credential) Used() int64 { return c.used.Load() }

// record counts one request against the credential.
func (c *Credential) record() int64 { return c.used.Add(1) }

// Label returns a masked form of the key that is safe to log.
func (c *Credential) Label() string {
	if len(c.Key) <= 4 {
		return "****"
	}
	return "****" + c.Key[len(c.Key)-4:]
}

// CredentialPool rotates requests across a small set of credentials that
// share a per-minute ceiling and each have a per-day ceiling.
type CredentialPool struct {
	creds     []*Credential
	perMinute int
	perDay    int
	intn      func(n int) int
}

// NewCredentialPool builds a pool from configured credentials. A
// non-positive perDay means no daily ceiling.
func NewCredentialPool(perMinute, perDay int, creds ...config.Credential) *CredentialPool {
	p := &CredentialPool{perMinute: perMinute, perDay: perDay, intn: rand.IntN}
	for _, c := range creds {
		p.creds = append(p.creds, &Credential{Key: c.Key, Secret: c.Secret})
	}
	return p
}

// Len returns the number of credentials in the pool.
func (p *CredentialPool) Len() int { return len(p.creds) }

// PerMinute returns the shared per-minute ceiling.
func (p *CredentialPool) PerMinute() int { return p.perMinute }

// Credentials returns the pooled credentials in configuration order.
func (p *CredentialPool) Credentials() []*Credential { return p.creds }

// Pick selects a credential uniformly at random among those below the daily
// ceiling. When every credential has reached it, the least-used one is
// returned (the first in configuration order on ties).
func (p *CredentialPool) Pick() (*Credential, error) {
	if len(p.creds) == 0 {
		return nil, ErrNoCredentials
	}

	eligible := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if p.perDay <= 0 || c.Used() < int64(p.perDay) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) > 0 {
		return eligible[p.intn(len(eligible))], nil
	}

	least := p.creds[0]
	for _, c := range p.creds[1:] {
		if c.Used() < least.Used() {
			least = c
		}
	}
	return least, nil
}
