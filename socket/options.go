package socket

import (
	"crypto/rand"
	"time"

	"github.com/BurntSushi/toml"
)

// Options is the enumerated option set of spec §6, constructible by hand or
// loaded from a TOML file the way mailproxy and client2 load their daemon
// configuration in this family of repos.
type Options struct {
	// HWMIn is the shared receive queue's capacity.
	HWMIn int `toml:"hwm_in"`
	// HWMOut is each pipe's direct-send queue capacity.
	HWMOut int `toml:"hwm_out"`
	// Ident is this socket's self identity, advertised in every TCP
	// handshake. A zero value is replaced by 16 random bytes at Bind/Connect.
	Ident [16]byte `toml:"-"`
	// Cipher selects the per-frame AEAD ("" or "secretbox" default,
	// "chacha20poly1305" alternate).
	Cipher string `toml:"cipher"`
	// CloseLingerMS bounds how long Close drains queued outbound frames.
	CloseLingerMS int `toml:"close_linger_ms"`
	// ReconnectIntervalMS paces an outbound TCP pipe's redial attempts.
	ReconnectIntervalMS int `toml:"reconnect_interval_ms"`
	// SubResendIntervalMS paces each pipe's subscription resync check.
	SubResendIntervalMS int `toml:"sub_resend_interval_ms"`
}

// DefaultOptions returns the spec's enumerated defaults.
func DefaultOptions() Options {
	return Options{
		HWMIn:               1024,
		HWMOut:              1024,
		CloseLingerMS:       1000,
		ReconnectIntervalMS: 3000,
		SubResendIntervalMS: 1000,
	}
}

// LoadOptionsFile reads a TOML configuration file into an Options value
// seeded with DefaultOptions, so an on-disk file may specify only the
// fields it wants to override.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()
	_, err := toml.DecodeFile(path, &opts)
	return opts, err
}

// withHWMDefaults fills in HWMIn/HWMOut independently when a caller leaves
// either at its Go zero value, instead of replacing the whole Options on any
// single missing field (which would silently discard the rest of a partially
// populated struct).
func (o Options) withHWMDefaults() Options {
	if o.HWMIn <= 0 {
		o.HWMIn = DefaultOptions().HWMIn
	}
	if o.HWMOut <= 0 {
		o.HWMOut = DefaultOptions().HWMOut
	}
	return o
}

func (o *Options) resyncInterval() time.Duration {
	if o.SubResendIntervalMS <= 0 {
		return 0
	}
	return time.Duration(o.SubResendIntervalMS) * time.Millisecond
}

func (o *Options) reconnectInterval() time.Duration {
	if o.ReconnectIntervalMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(o.ReconnectIntervalMS) * time.Millisecond
}

func (o *Options) closeLinger() time.Duration {
	if o.CloseLingerMS <= 0 {
		return 0
	}
	return time.Duration(o.CloseLingerMS) * time.Millisecond
}

func randomIdent() [16]byte {
	var id [16]byte
	_, _ = rand.Read(id[:])
	return id
}
