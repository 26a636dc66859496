// Package arp implements the IPv4 Address Resolution Protocol cache: a
// positive+negative TTL cache with retry/backoff resolution and waiter
// notification (spec §4.5).
//
// The cache itself never sends a frame; it calls back into a Sender the
// engine supplies, and is driven forward once per engine tick via Poll —
// the same "no goroutines of its own, driven by the single poll loop"
// shape as every other stateful component in this stack (spec §5). The
// TTL-plus-LRU bookkeeping generalizes the teacher's resolvers.TTLCache,
// dropped down to single-threaded (no mutex — Poll and Resolve are only
// ever called from the engine's one driving goroutine) and extended with
// a negative cache and a waiter list per spec §4.5's resolve/retry/backoff
// contract.
package arp

import (
	"net/netip"
	"time"

	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/nettypes"
)

// Config tunes cache lifetimes and the retry/backoff schedule. Zero values
// are replaced with the spec's defaults by New.
type Config struct {
	TTL           time.Duration // positive entry lifetime, default 600s
	NegativeTTL   time.Duration // negative entry lifetime, default 60s
	RetryInterval time.Duration // spacing between request retries, default 1s
	MaxRetries    int           // requests sent (first one included) before giving up, default 5
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 600 * time.Second
	}
	if c.NegativeTTL <= 0 {
		c.NegativeTTL = 60 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// Sender emits an ARP request for target. The cache calls this once when
// resolution starts and again on every retry.
type Sender interface {
	SendRequest(target netip.Addr)
}

type state int

const (
	statePending state = iota
	stateResolved
	stateNegative
)

type entry struct {
	state     state
	mac       nettypes.MAC
	expiresAt time.Time
	attempts  int
	nextRetry time.Time
	waiters   []func(nettypes.MAC, error)
}

// Cache is the per-interface ARP resolution cache.
type Cache struct {
	clk      clock.Clock
	sender   Sender
	cfg      Config
	localIP  netip.Addr
	localMAC nettypes.MAC
	entries  map[netip.Addr]*entry
}

// New creates an ARP cache for the given local interface identity.
func New(clk clock.Clock, sender Sender, localIP netip.Addr, localMAC nettypes.MAC, cfg Config) *Cache {
	return &Cache{
		clk:      clk,
		sender:   sender,
		cfg:      cfg.withDefaults(),
		localIP:  localIP,
		localMAC: localMAC,
		entries:  make(map[netip.Addr]*entry),
	}
}

// Resolve looks up ip. A cache hit returns (mac, true) immediately. On a
// miss, onDone is registered and called exactly once — either when a reply
// arrives (nil error) or when retries are exhausted
// (ierrors.ErrHostUnreachable) — and resolution begins if it hasn't
// already for this address.
func (c *Cache) Resolve(ip netip.Addr, onDone func(nettypes.MAC, error)) (nettypes.MAC, bool) {
	now := c.clk.Now()
	e := c.entries[ip]
	if e != nil {
		switch e.state {
		case stateResolved:
			if e.expiresAt.After(now) {
				return e.mac, true
			}
			delete(c.entries, ip)
			e = nil
		case stateNegative:
			if e.expiresAt.After(now) {
				if onDone != nil {
					onDone(nettypes.MAC{}, ierrors.ErrHostUnreachable)
				}
				return nettypes.MAC{}, false
			}
			delete(c.entries, ip)
			e = nil
		}
	}
	if e == nil {
		e = &entry{state: statePending, nextRetry: now}
		c.entries[ip] = e
	}
	if onDone != nil {
		e.waiters = append(e.waiters, onDone)
	}
	if e.state == statePending && e.attempts == 0 {
		c.sendRequest(ip, e, now)
	}
	return nettypes.MAC{}, false
}

func (c *Cache) sendRequest(ip netip.Addr, e *entry, now time.Time) {
	e.attempts++
	e.nextRetry = now.Add(c.cfg.RetryInterval)
	c.sender.SendRequest(ip)
}

// HandleReply records a resolved mapping learned from an ARP reply (or a
// request's sender fields, which are resolvable information too) and wakes
// any waiters.
func (c *Cache) HandleReply(ip netip.Addr, mac nettypes.MAC) {
	now := c.clk.Now()
	e := c.entries[ip]
	waiters := []func(nettypes.MAC, error)(nil)
	if e != nil {
		waiters = e.waiters
	}
	c.entries[ip] = &entry{
		state:     stateResolved,
		mac:       mac,
		expiresAt: now.Add(c.cfg.TTL),
	}
	for _, w := range waiters {
		w(mac, nil)
	}
}

// HandleRequest opportunistically learns the requester's mapping and
// reports whether targetIP is this interface's address, i.e. whether the
// caller should emit a reply.
func (c *Cache) HandleRequest(senderIP netip.Addr, senderMAC nettypes.MAC, targetIP netip.Addr) (shouldReply bool) {
	if senderIP.IsValid() && senderIP != c.localIP {
		c.HandleReply(senderIP, senderMAC)
	}
	return targetIP == c.localIP
}

// Poll advances retry/backoff and expiry bookkeeping. Called once per
// engine tick (spec §4.10).
func (c *Cache) Poll(now time.Time) {
	for ip, e := range c.entries {
		switch e.state {
		case statePending:
			if now.Before(e.nextRetry) {
				continue
			}
			if e.attempts >= c.cfg.MaxRetries {
				waiters := e.waiters
				c.entries[ip] = &entry{state: stateNegative, expiresAt: now.Add(c.cfg.NegativeTTL)}
				for _, w := range waiters {
					w(nettypes.MAC{}, ierrors.ErrHostUnreachable)
				}
				continue
			}
			c.sendRequest(ip, e, now)
		case stateResolved:
			if !e.expiresAt.After(now) {
				delete(c.entries, ip)
			}
		case stateNegative:
			if !e.expiresAt.After(now) {
				delete(c.entries, ip)
			}
		}
	}
}

// Len reports the number of entries currently tracked, for diagnostics.
func (c *Cache) Len() int {
	return len(c.entries)
}
