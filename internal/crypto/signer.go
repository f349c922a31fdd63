// Package crypto authenticates engine callers: EIP-712 signatures over API
// requests, and password-encrypted key files for the signing side.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// MarketCall(address from,string method,string path,bytes32 bodyHash,uint256 timestamp)
	marketCallTypeHash = ethcrypto.Keccak256(
		[]byte("MarketCall(address from,string method,string path,bytes32 bodyHash,uint256 timestamp)"),
	)
)

var (
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	ErrSignerMismatch   = errors.New("crypto: signature does not match caller")
)

// Domain is the EIP-712 domain requests are signed under. Binding the
// engine address and chain id keeps a signature for one deployment from
// being replayed against another.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// NewDomain returns the domain for the engine at addr.
func NewDomain(chainID int64, addr common.Address) Domain {
	return Domain{Name: "MarketEngine", Version: "1", ChainID: chainID, VerifyingContract: addr}
}

// Separator returns the EIP-712 domain separator hash.
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(big.NewInt(d.ChainID)),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

// Call is the signed view of one API request.
type Call struct {
	From      common.Address
	Method    string
	Path      string
	Body      []byte
	Timestamp int64
}

// Digest returns the EIP-712 digest of c under d.
func (d Domain) Digest(c Call) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			marketCallTypeHash,
			common.LeftPadBytes(c.From.Bytes(), 32),
			ethcrypto.Keccak256([]byte(strings.ToUpper(c.Method))),
			ethcrypto.Keccak256([]byte(c.Path)),
			ethcrypto.Keccak256(c.Body),
			bigIntTo32Bytes(big.NewInt(c.Timestamp)),
		),
	)
	return eip712Hash(d.Separator(), structHash)
}

// Recover returns the address that produced sigHex over c.
func (d Domain) Recover(c Call, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrInvalidSignature
	}
	// Accept both v in {27,28} and the raw {0,1} form.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(d.Digest(c), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sigHex over c was produced by c.From.
func (d Domain) Verify(c Call, sigHex string) error {
	signer, err := d.Recover(c, sigHex)
	if err != nil {
		return err
	}
	if signer != c.From {
		return fmt.Errorf("%w: signed by %s", ErrSignerMismatch, signer.Hex())
	}
	return nil
}

// Signer signs API requests on behalf of one account.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     Domain
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     domain,
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignCall signs a request as the signer's account. c.From is overwritten
// with the signer's address.
func (s *Signer) SignCall(c Call) (string, error) {
	c.From = s.address
	return s.signDigest(s.domain.Digest(c))
}

// eip712Hash computes the final EIP-712 hash:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes left-pads a big.Int to 32 bytes (uint256 ABI encoding).
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	var total int
	for _, s := range slices {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}
