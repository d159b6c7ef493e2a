package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"vault-backend/internal/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// PermitSigner produces EIP-2612 permit signatures. A nil signature (with a
// nil error) denotes refusal or an unsupported token, never an exception.
type PermitSigner interface {
	SignPermit(ctx context.Context, token types.TokenDescriptor, owner, spender common.Address, value, deadline *big.Int) (*types.PermitSignature, error)
}

var permitProbeABI = mustABI(`[
	{"name":"DOMAIN_SEPARATOR","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"name":"nonces","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`)

// permitTypehash = keccak256("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)")
var permitTypehash = keccak256([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))

// RefusingPermitSigner refuses every permit request. Used when no signing
// key is configured so approvals always take the transaction path.
type RefusingPermitSigner struct{}

// SignPermit always reports refusal
func (RefusingPermitSigner) SignPermit(ctx context.Context, token types.TokenDescriptor, owner, spender common.Address, value, deadline *big.Int) (*types.PermitSignature, error) {
	return nil, nil
}

// LocalPermitSigner signs permits with a locally held key. The owner address
// must match the key; a mismatch is treated as refusal.
type LocalPermitSigner struct {
	pool CallerPool
	key  *ecdsa.PrivateKey
}

// NewLocalPermitSigner creates a signer from a hex private key (no 0x prefix)
func NewLocalPermitSigner(pool CallerPool, privateKeyHex string) (*LocalPermitSigner, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return &LocalPermitSigner{pool: pool, key: key}, nil
}

// Address returns the signing address
func (s *LocalPermitSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignPermit probes token support for signature-based approval and signs the
// EIP-712 permit digest. The probe failing in any way is "not supported", not
// an error: the caller falls back to a plain approval transaction.
func (s *LocalPermitSigner) SignPermit(ctx context.Context, token types.TokenDescriptor, owner, spender common.Address, value, deadline *big.Int) (*types.PermitSignature, error) {
	if owner != s.Address() {
		logrus.WithFields(logrus.Fields{
			"owner":  owner.Hex(),
			"signer": s.Address().Hex(),
		}).Warn("Permit requested for foreign owner, refusing")
		return nil, nil
	}

	caller, ok := s.pool.Caller(token.ChainID)
	if !ok {
		return nil, nil
	}

	domainSeparator, err := s.readBytes32(ctx, caller.CallContract, token.Address, "DOMAIN_SEPARATOR")
	if err != nil {
		// no EIP-2612 surface on this token
		logrus.WithField("token", token.Address.Hex()).Debug("Token has no DOMAIN_SEPARATOR, permit unsupported")
		return nil, nil
	}

	nonce, err := s.readUint256(ctx, caller.CallContract, token.Address, "nonces", owner)
	if err != nil {
		logrus.WithField("token", token.Address.Hex()).Debug("Token has no nonces(), permit unsupported")
		return nil, nil
	}

	structHash := keccak256(
		permitTypehash[:],
		common.LeftPadBytes(owner.Bytes(), 32),
		common.LeftPadBytes(spender.Bytes(), 32),
		common.LeftPadBytes(value.Bytes(), 32),
		common.LeftPadBytes(nonce.Bytes(), 32),
		common.LeftPadBytes(deadline.Bytes(), 32),
	)
	digest := keccak256([]byte("\x19\x01"), domainSeparator[:], structHash[:])

	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign permit digest: %w", err)
	}

	return &types.PermitSignature{
		V:        sig[64] + 27,
		R:        common.BytesToHash(sig[:32]),
		S:        common.BytesToHash(sig[32:64]),
		Deadline: new(big.Int).Set(deadline),
		Value:    new(big.Int).Set(value),
	}, nil
}

type contractCallFn func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

func (s *LocalPermitSigner) readBytes32(ctx context.Context, call contractCallFn, to common.Address, method string, args ...interface{}) (common.Hash, error) {
	data, err := permitProbeABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	result, err := call(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Hash{}, err
	}
	values, err := permitProbeABI.Unpack(method, result)
	if err != nil {
		return common.Hash{}, err
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return common.Hash(raw), nil
}

func (s *LocalPermitSigner) readUint256(ctx context.Context, call contractCallFn, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := permitProbeABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	result, err := call(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := permitProbeABI.Unpack(method, result)
	if err != nil {
		return nil, err
	}
	out, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return out, nil
}

// keccak256 hashes the concatenation of the given byte slices
func keccak256(data ...[]byte) common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	var out common.Hash
	hasher.Sum(out[:0])
	return out
}
