package interfaces

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxCertificateIDLength bounds the natural key size.
const MaxCertificateIDLength = 128

// CertificateID is the natural key of a land certificate.
type CertificateID string

// NewCertificateID trims and validates a certificate identifier.
func NewCertificateID(raw string) (CertificateID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", NewValidationError("certificateId", "must not be empty")
	}
	if len(id) > MaxCertificateIDLength {
		return "", NewValidationError("certificateId", fmt.Sprintf("longer than %d bytes", MaxCertificateIDLength))
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", NewValidationError("certificateId", "contains control characters")
		}
	}
	return CertificateID(id), nil
}

// String returns the identifier.
func (id CertificateID) String() string {
	return string(id)
}

// Address is a 20-byte ledger account address.
type Address [20]byte

// ZeroAddress is the "never registered" owner sentinel.
var ZeroAddress Address

func NewAddressFromBytes(addr []byte) (Address, error) {
	if len(addr) != 20 {
		return Address{}, NewValidationError("address", "must be 20 bytes")
	}
	var res Address
	copy(res[:], addr)
	return res, nil
}

// NewAddressFromHex parses a hex address with or without the 0x prefix.
func NewAddressFromHex(addr string) (Address, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return Address{}, NewValidationError("address", fmt.Sprintf("%q is not a hex address", addr))
	}
	return Address(common.HexToAddress(addr)), nil
}

// String returns the EIP-55 checksum representation.
func (a Address) String() string {
	return common.Address(a).Hex()
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := NewAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CertificateHash binds a certificate to its off-ledger metadata.
type CertificateHash [32]byte

// ComputeCertificateHash hashes the canonical metadata document with Keccak-256.
func ComputeCertificateHash(canonical []byte) CertificateHash {
	return CertificateHash(crypto.Keccak256Hash(canonical))
}

// NewCertificateHashFromBytes left-pads values shorter than 32 bytes.
func NewCertificateHashFromBytes(raw []byte) (CertificateHash, error) {
	if len(raw) == 0 {
		return CertificateHash{}, &ValidationError{Field: "certificateHash", Reason: "empty value", Err: ErrInvalidHash}
	}
	if len(raw) > 32 {
		return CertificateHash{}, &ValidationError{Field: "certificateHash", Reason: fmt.Sprintf("%d bytes exceeds 32", len(raw)), Err: ErrInvalidHash}
	}
	var h CertificateHash
	copy(h[32-len(raw):], raw)
	return h, nil
}

// NewCertificateHashFromHex decodes and normalizes a hex hash.
func NewCertificateHashFromHex(raw string) (CertificateHash, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if len(clean)%2 != 0 {
		return CertificateHash{}, &ValidationError{Field: "certificateHash", Reason: "odd-length hex", Err: ErrInvalidHash}
	}
	decoded, err := hex.DecodeString(clean)
	if err != nil {
		return CertificateHash{}, &ValidationError{Field: "certificateHash", Reason: err.Error(), Err: ErrInvalidHash}
	}
	return NewCertificateHashFromBytes(decoded)
}

// String returns 0x-prefixed hex.
func (h CertificateHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h CertificateHash) IsZero() bool {
	return h == CertificateHash{}
}

func (h CertificateHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *CertificateHash) UnmarshalText(text []byte) error {
	parsed, err := NewCertificateHashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// TxHash identifies a ledger transaction.
type TxHash [32]byte

func (h TxHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h TxHash) IsZero() bool {
	return h == TxHash{}
}

func (h TxHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *TxHash) UnmarshalText(text []byte) error {
	clean := strings.TrimPrefix(string(text), "0x")
	decoded, err := hex.DecodeString(clean)
	if err != nil || len(decoded) != 32 {
		return errors.New("invalid transaction hash")
	}
	copy(h[:], decoded)
	return nil
}

// TokenID identifies one minted token. It is encoded as a decimal string.
type TokenID uint64

func ParseTokenID(raw string) (TokenID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, NewValidationError("tokenId", fmt.Sprintf("%q is not a token id", raw))
	}
	return TokenID(v), nil
}

func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id TokenID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TokenID) UnmarshalText(text []byte) error {
	parsed, err := ParseTokenID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TotalArea is a positive integer magnitude in square units, kept as its
// canonical decimal string so it fits a uint256 ledger field.
type TotalArea string

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// NewTotalArea validates and canonicalizes an area value.
func NewTotalArea(raw string) (TotalArea, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return "", NewValidationError("totalArea", "must not be empty")
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return "", NewValidationError("totalArea", fmt.Sprintf("%q is not a positive integer", raw))
		}
	}
	v, ok := new(big.Int).SetString(clean, 10)
	if !ok || v.Sign() <= 0 {
		return "", NewValidationError("totalArea", fmt.Sprintf("%q is not a positive integer", raw))
	}
	if v.Cmp(maxUint256) > 0 {
		return "", NewValidationError("totalArea", "exceeds uint256")
	}
	return TotalArea(v.String()), nil
}

// NewTotalAreaFromBig canonicalizes a ledger-native area value.
func NewTotalAreaFromBig(v *big.Int) (TotalArea, error) {
	if v == nil {
		return "", NewValidationError("totalArea", "missing")
	}
	return NewTotalArea(v.String())
}

func (a TotalArea) String() string {
	return string(a)
}

// BigInt returns the area as an integer; the zero value for malformed areas.
func (a TotalArea) BigInt() *big.Int {
	v, ok := new(big.Int).SetString(string(a), 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (a *TotalArea) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TotalArea(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return NewValidationError("totalArea", "must be a string or number")
	}
	*a = TotalArea(n.String())
	return nil
}
