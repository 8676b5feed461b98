package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is the keccak256 hash of the standard ERC-20 Transfer
// event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	From   common.Address
	To     common.Address
	Value  *big.Int
	Token  common.Address
	TxHash common.Hash
	Block  uint64
}

// Decode parses a raw log into a TransferEvent. It returns ok=false for
// logs that are not well-formed Transfer events; callers skip those and
// continue with the rest of the batch.
func Decode(lg types.Log) (TransferEvent, bool) {
	if len(lg.Topics) < 3 || lg.Topics[0] != TransferTopic {
		return TransferEvent{}, false
	}

	ev := TransferEvent{
		From:   common.BytesToAddress(lg.Topics[1].Bytes()),
		To:     common.BytesToAddress(lg.Topics[2].Bytes()),
		Token:  lg.Address,
		TxHash: lg.TxHash,
		Block:  lg.BlockNumber,
	}

	if len(lg.Topics) > 3 {
		// Non-standard indexed value, observed in the wild.
		ev.Value = new(big.Int).SetBytes(lg.Topics[3].Bytes())
	} else {
		ev.Value = new(big.Int).SetBytes(lg.Data)
	}
	return ev, true
}

// Involves reports whether the watched address is the sender or recipient.
func (e TransferEvent) Involves(addr common.Address) bool {
	return e.From == addr || e.To == addr
}

// Direction labels the transfer relative to the watched address: BUY when
// it receives, SELL otherwise.
func (e TransferEvent) Direction(watch common.Address) string {
	if e.To == watch {
		return "BUY"
	}
	return "SELL"
}

// Amount renders the value at a fixed 18-decimal scale. Tokens with other
// decimal counts render incorrect human-readable amounts; the raw integer
// value is always preserved exactly in Value.
func (e TransferEvent) Amount() float64 {
	f := new(big.Float).SetInt(e.Value)
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}
