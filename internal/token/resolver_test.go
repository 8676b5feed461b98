package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type fakeCaller struct {
	ret   []byte
	err   error
	calls int
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ret, nil
}

// dynamicString encodes s with the standard dynamic ABI string layout.
func dynamicString(s string) []byte {
	out := make([]byte, 0, 96)
	out = append(out, common.LeftPadBytes(big.NewInt(32).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(s))).Bytes(), 32)...)
	out = append(out, common.RightPadBytes([]byte(s), 32)...)
	return out
}

// staticString encodes s as a single zero-padded word.
func staticString(s string) []byte {
	return common.RightPadBytes([]byte(s), 32)
}

func newTestResolver() *Resolver {
	return NewResolver(time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var testToken = common.HexToAddress("0x5555555555555555555555555555555555555555")

func TestResolveDynamicSymbol(t *testing.T) {
	caller := &fakeCaller{ret: dynamicString("USDC")}
	r := newTestResolver()

	if got := r.Resolve(context.Background(), caller, testToken); got != "USDC" {
		t.Fatalf("symbol = %q, want USDC", got)
	}
}

func TestResolveStaticSymbol(t *testing.T) {
	caller := &fakeCaller{ret: staticString("MKR")}
	r := newTestResolver()

	if got := r.Resolve(context.Background(), caller, testToken); got != "MKR" {
		t.Fatalf("symbol = %q, want MKR", got)
	}
}

func TestResolveCachesResult(t *testing.T) {
	caller := &fakeCaller{ret: dynamicString("WETH")}
	r := newTestResolver()

	for i := 0; i < 3; i++ {
		if got := r.Resolve(context.Background(), caller, testToken); got != "WETH" {
			t.Fatalf("symbol = %q, want WETH", got)
		}
	}
	if caller.calls != 1 {
		t.Fatalf("expected a single contract call, got %d", caller.calls)
	}
	if r.CachedLen() != 1 {
		t.Fatalf("cache size = %d, want 1", r.CachedLen())
	}
}

func TestResolveCachesFailureAsUnknown(t *testing.T) {
	caller := &fakeCaller{err: errors.New("execution reverted")}
	r := newTestResolver()

	if got := r.Resolve(context.Background(), caller, testToken); got != Unknown {
		t.Fatalf("symbol = %q, want %q", got, Unknown)
	}
	// Failure is cached: the token is never re-queried.
	if got := r.Resolve(context.Background(), caller, testToken); got != Unknown {
		t.Fatalf("symbol = %q, want %q", got, Unknown)
	}
	if caller.calls != 1 {
		t.Fatalf("expected a single contract call, got %d", caller.calls)
	}
}

func TestDecodeSymbolEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		ret     []byte
		want    string
		wantErr bool
	}{
		{"empty_return", nil, "", true},
		{"all_zero_word", make([]byte, 32), "", true},
		{"whitespace_trimmed", staticString("  DAI \x00"), "DAI", false},
		// A two-word return stays on the fixed-slot path.
		{"two_word_static", append(staticString("ABC"), make([]byte, 32)...), "ABC", false},
		{"offset_out_of_range", append(common.LeftPadBytes(big.NewInt(999).Bytes(), 32), make([]byte, 64)...), "", true},
		{"length_out_of_range", func() []byte {
			out := common.LeftPadBytes(big.NewInt(32).Bytes(), 32)
			out = append(out, common.LeftPadBytes(big.NewInt(999).Bytes(), 32)...)
			return append(out, make([]byte, 32)...)
		}(), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSymbol(tt.ret)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("symbol = %q, want %q", got, tt.want)
			}
		})
	}
}
