package token

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Unknown is the sentinel symbol cached when resolution fails, so a
// failing token is never re-queried.
const Unknown = "UNK"

// symbolSelector is the 4-byte selector of the ERC-20 symbol() method.
var symbolSelector = []byte{0x95, 0xd8, 0x9b, 0x41}

// ContractCaller captures the read-only call subset of the node client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver resolves token contract addresses to display symbols with an
// in-memory cache. The cache is written at most once per token address
// and may be read from multiple poll iterations concurrently.
type Resolver struct {
	mu      sync.Mutex
	cache   map[common.Address]string
	timeout time.Duration
	log     *slog.Logger
}

// NewResolver builds a resolver with the given per-call timeout.
func NewResolver(timeout time.Duration, log *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		cache:   map[common.Address]string{},
		timeout: timeout,
		log:     log,
	}
}

// Resolve returns the token's symbol, consulting the cache before any
// network call. Failures cache and return Unknown.
func (r *Resolver) Resolve(ctx context.Context, caller ContractCaller, token common.Address) string {
	r.mu.Lock()
	if sym, ok := r.cache[token]; ok {
		r.mu.Unlock()
		return sym
	}
	r.mu.Unlock()

	sym := r.fetchSymbol(ctx, caller, token)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[token]; ok {
		return existing
	}
	r.cache[token] = sym
	return sym
}

// CachedLen returns the number of cached tokens.
func (r *Resolver) CachedLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Resolver) fetchSymbol(ctx context.Context, caller ContractCaller, token common.Address) string {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ret, err := caller.CallContract(callCtx, ethereum.CallMsg{
		To:   &token,
		Data: symbolSelector,
	}, nil)
	if err != nil {
		r.log.Warn("symbol call failed", "contract", token.Hex(), "error", err)
		return Unknown
	}

	sym, err := decodeSymbol(ret)
	if err != nil {
		r.log.Warn("symbol decode failed", "contract", token.Hex(), "error", err)
		return Unknown
	}
	return sym
}

// decodeSymbol interprets the raw return bytes of symbol(). Returns longer
// than two words use the standard dynamic ABI string layout (offset word,
// length word, then UTF-8 bytes); anything else is treated as a fixed-slot
// string padded with zero bytes.
func decodeSymbol(ret []byte) (string, error) {
	if len(ret) == 0 {
		return "", errors.New("empty result")
	}

	var raw []byte
	if len(ret) > 64 {
		offset := new(big.Int).SetBytes(ret[:32])
		if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(ret)) {
			return "", errors.New("offset out of range")
		}
		off := offset.Uint64()
		length := new(big.Int).SetBytes(ret[off : off+32])
		if !length.IsUint64() || off+32+length.Uint64() > uint64(len(ret)) {
			return "", errors.New("length out of range")
		}
		raw = ret[off+32 : off+32+length.Uint64()]
	} else {
		raw = bytes.TrimRight(ret, "\x00")
	}

	sym := strings.TrimFunc(string(raw), func(r rune) bool {
		return unicode.IsControl(r) || unicode.IsSpace(r) || r == unicode.ReplacementChar
	})
	if sym == "" {
		return "", errors.New("empty symbol")
	}
	return sym, nil
}
