// Package chainref 校验用户自报的链上交易哈希格式，不做链上查询
package chainref

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
	"lunorise.com/internal/settlement/domain"
)

type Family string

const (
	FamilyEVM  Family = "evm"
	FamilyBTC  Family = "btc"
	FamilySOL  Family = "sol"
	FamilyTRON Family = "tron"
)

var networks = map[string]Family{
	"eth":      FamilyEVM,
	"ethereum": FamilyEVM,
	"erc20":    FamilyEVM,
	"bsc":      FamilyEVM,
	"bep20":    FamilyEVM,
	"polygon":  FamilyEVM,
	"matic":    FamilyEVM,
	"arbitrum": FamilyEVM,
	"optimism": FamilyEVM,
	"base":     FamilyEVM,
	"btc":      FamilyBTC,
	"bitcoin":  FamilyBTC,
	"sol":      FamilySOL,
	"solana":   FamilySOL,
	"tron":     FamilyTRON,
	"trx":      FamilyTRON,
	"trc20":    FamilyTRON,
}

// FamilyOf 不认识的网络返回 false
func FamilyOf(network string) (Family, bool) {
	f, ok := networks[strings.ToLower(strings.TrimSpace(network))]
	return f, ok
}

// Validate 返回规范化后的哈希（EVM 带 0x 小写，BTC/TRON 小写 hex，SOL base58）
func Validate(network, hash string) (string, error) {
	f, ok := FamilyOf(network)
	if !ok {
		return "", fmt.Errorf("%w: unsupported network %q", domain.ErrInvalidTxHash, network)
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidTxHash)
	}

	switch f {
	case FamilyEVM:
		return evmHash(hash)
	case FamilyBTC:
		return btcHash(hash)
	case FamilySOL:
		sig, err := solana.SignatureFromBase58(hash)
		if err != nil {
			return "", fmt.Errorf("%w: solana signature: %v", domain.ErrInvalidTxHash, err)
		}
		return sig.String(), nil
	case FamilyTRON:
		return tronHash(hash)
	}
	return "", fmt.Errorf("%w: unsupported network %q", domain.ErrInvalidTxHash, network)
}

func evmHash(hash string) (string, error) {
	h := strings.ToLower(hash)
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	b, err := hexutil.Decode(h)
	if err != nil {
		return "", fmt.Errorf("%w: evm hash: %v", domain.ErrInvalidTxHash, err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("%w: evm hash must be 32 bytes, got %d", domain.ErrInvalidTxHash, len(b))
	}
	return hexutil.Encode(b), nil
}

func btcHash(hash string) (string, error) {
	// NewHashFromStr 接受短串并补零，这里要求完整 64 位
	if len(hash) != chainhash.MaxHashStringSize {
		return "", fmt.Errorf("%w: btc txid must be %d hex chars", domain.ErrInvalidTxHash, chainhash.MaxHashStringSize)
	}
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return "", fmt.Errorf("%w: btc txid: %v", domain.ErrInvalidTxHash, err)
	}
	return h.String(), nil
}

// tronHash TRON txid 是 32 字节 hex，不带 0x
func tronHash(hash string) (string, error) {
	h := strings.TrimPrefix(strings.ToLower(hash), "0x")
	if len(h) != 64 {
		return "", fmt.Errorf("%w: tron txid must be 64 hex chars", domain.ErrInvalidTxHash)
	}
	if _, err := hexutil.Decode("0x" + h); err != nil {
		return "", fmt.Errorf("%w: tron txid: %v", domain.ErrInvalidTxHash, err)
	}
	return h, nil
}
