package aave

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/michaelpento.lv/flashexec/chain"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract,address asset)"))
	permitTypeHash = crypto.Keccak256Hash([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	domainName     = crypto.Keccak256Hash([]byte("Aave interest bearing collateral"))
	domainVersion  = crypto.Keccak256Hash([]byte("1"))
)

func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// PermitNonce is the next permit nonce of owner.
func (p *Pool) PermitNonce(owner common.Address) uint64 {
	n, _ := p.nonces.Get(owner)
	return n
}

// PermitDigest is the EIP-712 digest owner signs to grant spender a
// collateral allowance of value in asset.
func (p *Pool) PermitDigest(asset, owner, spender common.Address, value *big.Int, nonce, deadline uint64) common.Hash {
	domain := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		domainName.Bytes(),
		domainVersion.Bytes(),
		word(p.chain.ChainID()),
		common.LeftPadBytes(p.address.Bytes(), 32),
		common.LeftPadBytes(asset.Bytes(), 32),
	)
	structHash := crypto.Keccak256Hash(
		permitTypeHash.Bytes(),
		common.LeftPadBytes(owner.Bytes(), 32),
		common.LeftPadBytes(spender.Bytes(), 32),
		word(value),
		word(new(big.Int).SetUint64(nonce)),
		word(new(big.Int).SetUint64(deadline)),
	)
	return crypto.Keccak256Hash([]byte("\x19\x01"), domain.Bytes(), structHash.Bytes())
}

// SignPermit signs digest and splits the signature into v, r, s with v in
// {27, 28}.
func SignPermit(key *ecdsa.PrivateKey, digest common.Hash) (v uint8, r, s [32]byte, err error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return 0, r, s, fmt.Errorf("failed to sign permit: %w", err)
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	return sig[64] + 27, r, s, nil
}

// PermitCollateral sets a collateral allowance from a signature by owner.
func (p *Pool) PermitCollateral(ctx *chain.Context, asset, owner, spender common.Address, value *big.Int, deadline uint64, v uint8, r, s [32]byte) error {
	if _, err := p.reserve(asset); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidAmount
	}
	if deadline < ctx.Timestamp() {
		return fmt.Errorf("%w: deadline %d, now %d", ErrPermitExpired, deadline, ctx.Timestamp())
	}

	nonce := p.PermitNonce(owner)
	digest := p.PermitDigest(asset, owner, spender, value, nonce, deadline)

	if v >= 27 {
		v -= 27
	}
	sig := make([]byte, 65)
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != owner {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, signer.Hex(), owner.Hex())
	}

	p.nonces.Set(owner, nonce+1)
	p.collateralAllowances.Set(approval{asset, owner, spender}, new(big.Int).Set(value))
	return nil
}
