package asset

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidIssuer = errors.New("invalid issuer code")

// IssuerID identifies the contract that minted a symbol.
type IssuerID uint64

// String renders the id in the base-32 account name form it was resolved from.
func (id IssuerID) String() string {
	const charmap = ".12345abcdefghijklmnopqrstuvwxyz"
	var out [13]byte
	v := uint64(id)
	for i := 0; i < 13; i++ {
		if i == 0 {
			out[12-i] = charmap[v&0x0f]
			v >>= 4
		} else {
			out[12-i] = charmap[v&0x1f]
			v >>= 5
		}
	}
	return strings.TrimRight(string(out[:]), ".")
}

// Resolver maps an issuer code such as "eosio.token" to a stable IssuerID.
type Resolver interface {
	Resolve(code string) (IssuerID, error)
}

type ResolverFunc func(code string) (IssuerID, error)

func (f ResolverFunc) Resolve(code string) (IssuerID, error) { return f(code) }

// Allowlist resolves only the listed codes. An empty list accepts any
// well-formed code.
func Allowlist(codes ...string) Resolver {
	if len(codes) == 0 {
		return NameResolver{}
	}
	listed := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		listed[c] = struct{}{}
	}
	return ResolverFunc(func(code string) (IssuerID, error) {
		if _, ok := listed[code]; !ok {
			return 0, fmt.Errorf("%w: %q is not listed", ErrInvalidIssuer, code)
		}
		return NameResolver{}.Resolve(code)
	})
}

// NameResolver packs up to 12 characters of [.1-5a-z] into 5 bits each and an
// optional 13th character of [.1-5a-j] into the low 4 bits.
type NameResolver struct{}

func (NameResolver) Resolve(code string) (IssuerID, error) {
	if code == "" || len(code) > 13 {
		return 0, fmt.Errorf("%w: %q must be 1-13 characters", ErrInvalidIssuer, code)
	}
	var value uint64
	for i := 0; i < len(code); i++ {
		c, ok := nameSymbol(code[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q has invalid character %q", ErrInvalidIssuer, code, code[i])
		}
		if i < 12 {
			value |= (c & 0x1f) << (64 - 5*(i+1))
			continue
		}
		if c > 0x0f {
			return 0, fmt.Errorf("%w: %q 13th character must be in [.1-5a-j]", ErrInvalidIssuer, code)
		}
		value |= c
	}
	return IssuerID(value), nil
}

func nameSymbol(c byte) (uint64, bool) {
	switch {
	case c >= 'a' && c <= 'z':
		return uint64(c-'a') + 6, true
	case c >= '1' && c <= '5':
		return uint64(c-'1') + 1, true
	case c == '.':
		return 0, true
	}
	return 0, false
}
