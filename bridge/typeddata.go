package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/halcyon-fi/custodian/types"
)

// typedDomain is the EIP-712 domain the gateway wallet contract verifies
// burn intents against.
type typedDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var (
	burnIntentTypeHash = crypto.Keccak256Hash([]byte("BurnIntent(address depositor,address recipient,uint256 value,uint32 sourceDomain,uint32 destinationDomain,bytes32 nonce,uint256 expiry)"))

	// EIP712Domain type string, field ordering matters.
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// chainDomains maps settlement chains to the coordinator's numeric domain
// identifiers used in burn intents.
var chainDomains = map[types.Chain]uint32{
	types.ChainEthereum:  0,
	types.ChainAvalanche: 1,
	types.ChainArbitrum:  3,
	types.ChainBase:      6,
}

// chainIDs maps settlement chains to EVM chain IDs for the domain
// separator.
var chainIDs = map[types.Chain]int64{
	types.ChainEthereum:  1,
	types.ChainAvalanche: 43114,
	types.ChainArbitrum:  42161,
	types.ChainBase:      8453,
}

// keccakConcat hashes the concatenation of 32-byte words, the EIP-712
// struct and domain encoding.
func keccakConcat(parts ...[]byte) common.Hash {
	joined := []byte{}
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

// padLeft32 returns a 32-byte right-aligned representation of i.
func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// addressTo32 left-pads an address into 32 bytes.
func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

// nonceBytes32 converts a hex nonce (with or without 0x) into 32 bytes.
func nonceBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	if len(hexStr) >= 2 && hexStr[0:2] == "0x" {
		hexStr = hexStr[2:]
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, fmt.Errorf("invalid burn intent nonce: %w", err)
	}
	if len(b) > 32 {
		return out, errors.New("burn intent nonce exceeds 32 bytes")
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// domainSeparator builds the domainSeparator hash per EIP-712:
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version),
// chainId, verifyingContract)).
func domainSeparator(d typedDomain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == nil {
		return common.Hash{}, errors.New("incomplete typed-data domain")
	}
	parts := [][]byte{
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(d.Name)).Bytes(),
		crypto.Keccak256Hash([]byte(d.Version)).Bytes(),
		padLeft32(d.ChainID),
		addressTo32(d.VerifyingContract),
	}
	return keccakConcat(parts...), nil
}

// hashBurnIntentStruct computes keccak256(abi.encode(typeHash, depositor,
// recipient, value, sourceDomain, destinationDomain, nonce, expiry)).
func hashBurnIntentStruct(bi types.BurnIntent) (common.Hash, error) {
	value, ok := new(big.Int).SetString(bi.Value, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("invalid burn intent value %q", bi.Value)
	}
	srcDomain, ok := chainDomains[bi.SourceChain]
	if !ok {
		return common.Hash{}, fmt.Errorf("no settlement domain for chain %s", bi.SourceChain)
	}
	dstDomain, ok := chainDomains[bi.DestinationChain]
	if !ok {
		return common.Hash{}, fmt.Errorf("no settlement domain for chain %s", bi.DestinationChain)
	}
	nonce, err := nonceBytes32(bi.Nonce)
	if err != nil {
		return common.Hash{}, err
	}

	parts := [][]byte{
		burnIntentTypeHash.Bytes(),
		addressTo32(common.HexToAddress(bi.Depositor)),
		addressTo32(common.HexToAddress(bi.Recipient)),
		padLeft32(value),
		padLeft32(new(big.Int).SetUint64(uint64(srcDomain))),
		padLeft32(new(big.Int).SetUint64(uint64(dstDomain))),
		nonce[:],
		padLeft32(big.NewInt(bi.Expiry)),
	}
	return keccakConcat(parts...), nil
}

// BurnIntentDigest returns the final EIP-712 digest the wallet signs:
// keccak256("\x19\x01" || domainSeparator || structHash).
func BurnIntentDigest(bi types.BurnIntent, verifyingContract string) (common.Hash, error) {
	chainID, ok := chainIDs[bi.SourceChain]
	if !ok {
		return common.Hash{}, fmt.Errorf("no chain id for chain %s", bi.SourceChain)
	}
	sep, err := domainSeparator(typedDomain{
		Name:              "GatewayWallet",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.HexToAddress(verifyingContract),
	})
	if err != nil {
		return common.Hash{}, err
	}
	structHash, err := hashBurnIntentStruct(bi)
	if err != nil {
		return common.Hash{}, err
	}
	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, sep.Bytes()...), structHash.Bytes()...)), nil
}
