package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const wordSize = 32

// Function signatures the gateway calls.
const (
	sigName             = "name()"
	sigTotalSupply      = "totalSupply()"
	sigTokenByIndex     = "tokenByIndex(uint256)"
	sigOwner            = "owner()"
	sigOwnerOf          = "ownerOf(uint256)"
	sigIsApprovedForAll = "isApprovedForAll(address,address)"
	sigTokenURI         = "tokenURI(uint256)"
)

// selector returns the 4-byte function selector of an ABI signature.
func selector(sig string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	return h.Sum(nil)[:4]
}

// encodeCall builds calldata from a signature and already encoded words.
func encodeCall(sig string, args ...[]byte) []byte {
	data := append([]byte(nil), selector(sig)...)
	for _, a := range args {
		data = append(data, a...)
	}
	return data
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func uint256Word(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("value %s out of uint256 range", v)
	}
	return v.FillBytes(make([]byte, wordSize)), nil
}

// parseTokenID parses a decimal token id into a uint256 word.
func parseTokenID(tokenID string) ([]byte, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok {
		return nil, fmt.Errorf("token id %q is not a decimal integer", tokenID)
	}
	return uint256Word(v)
}

func addressWord(addr string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(addr), "0x"))
	if err != nil || len(raw) != 20 {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	word := make([]byte, wordSize)
	copy(word[wordSize-20:], raw)
	return word, nil
}

func decodeUint256(out []byte) (*big.Int, error) {
	if len(out) < wordSize {
		return nil, fmt.Errorf("short uint256 result: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:wordSize]), nil
}

// decodeAddress returns the lower-case hex address held in the first word.
func decodeAddress(out []byte) (string, error) {
	if len(out) < wordSize {
		return "", fmt.Errorf("short address result: %d bytes", len(out))
	}
	return "0x" + hex.EncodeToString(out[wordSize-20:wordSize]), nil
}

func decodeBool(out []byte) (bool, error) {
	v, err := decodeUint256(out)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// decodeString decodes a dynamic string result. A single-word result is
// read as a NUL-padded bytes32, which some older contracts return for name().
func decodeString(out []byte) (string, error) {
	if len(out) == wordSize {
		return string(bytes.TrimRight(out, "\x00")), nil
	}
	if len(out) < 2*wordSize {
		return "", fmt.Errorf("short string result: %d bytes", len(out))
	}

	// Both words are bounded by the result size before any int conversion.
	offset := new(big.Int).SetBytes(out[:wordSize])
	if new(big.Int).Add(offset, big.NewInt(wordSize)).Cmp(big.NewInt(int64(len(out)))) > 0 {
		return "", fmt.Errorf("string offset %s out of range", offset)
	}
	begin := int(offset.Int64()) + wordSize

	length := new(big.Int).SetBytes(out[begin-wordSize : begin])
	if length.Cmp(big.NewInt(int64(len(out)-begin))) > 0 {
		return "", fmt.Errorf("string length %s out of range", length)
	}
	return string(out[begin : begin+int(length.Int64())]), nil
}

// hasFunction reports whether runtime bytecode dispatches on sig. Solidity
// dispatchers compare the calldata selector against PUSH4 <selector>.
func hasFunction(code []byte, sig string) bool {
	push4 := append([]byte{0x63}, selector(sig)...)
	return bytes.Contains(code, push4)
}
