package ledger

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/landsure/landsure-registry/interfaces"
)

var (
	certificatePrefix = []byte("c/")
	tokenPrefix       = []byte("t/")
	receiptPrefix     = []byte("r/")
	nextTokenKey      = []byte("m/next_token")
	heightKey         = []byte("m/height")
)

func certificateKey(id interfaces.CertificateID) []byte {
	return append(append([]byte{}, certificatePrefix...), string(id)...)
}

// Token keys are big-endian so iteration follows mint order.
func tokenKey(id interfaces.TokenID) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, tokenPrefix...), uint64(id))
}

func receiptKey(hash interfaces.TxHash) []byte {
	return append(append([]byte{}, receiptPrefix...), hash[:]...)
}

type certificateRecord struct {
	CertificateID   string
	MainOwner       [20]byte
	TotalArea       *big.Int
	NumberOfTokens  uint64
	CertificateHash [32]byte
	TokenIDs        []uint64
}

func newCertificateRecord(op *interfaces.RegisterOp, tokenIDs []uint64) *certificateRecord {
	return &certificateRecord{
		CertificateID:   string(op.CertificateID),
		MainOwner:       op.MainOwner,
		TotalArea:       op.TotalArea.BigInt(),
		NumberOfTokens:  op.NumberOfTokens,
		CertificateHash: op.CertificateHash,
		TokenIDs:        tokenIDs,
	}
}

func (r *certificateRecord) toCertificate() (*interfaces.Certificate, error) {
	area, err := interfaces.NewTotalAreaFromBig(r.TotalArea)
	if err != nil {
		return nil, err
	}
	ids := make([]interfaces.TokenID, len(r.TokenIDs))
	for i, id := range r.TokenIDs {
		ids[i] = interfaces.TokenID(id)
	}
	return &interfaces.Certificate{
		CertificateID:   interfaces.CertificateID(r.CertificateID),
		MainOwner:       r.MainOwner,
		TotalArea:       area,
		NumberOfTokens:  r.NumberOfTokens,
		CertificateHash: r.CertificateHash,
		TokenIDs:        ids,
	}, nil
}

type tokenRecord struct {
	TokenID       uint64
	CertificateID string
	CurrentOwner  [20]byte
	Burned        bool
}

func (r *tokenRecord) toToken() *interfaces.Token {
	return &interfaces.Token{
		TokenID:       interfaces.TokenID(r.TokenID),
		CertificateID: interfaces.CertificateID(r.CertificateID),
		CurrentOwner:  r.CurrentOwner,
		Burned:        r.Burned,
	}
}

type receiptRecord struct {
	TxHash        [32]byte
	BlockNumber   uint64
	CertificateID string
	TokenIDs      []uint64
}

func (r *receiptRecord) toReceipt() *interfaces.CommitReceipt {
	ids := make([]interfaces.TokenID, len(r.TokenIDs))
	for i, id := range r.TokenIDs {
		ids[i] = interfaces.TokenID(id)
	}
	return &interfaces.CommitReceipt{
		TxHash:        r.TxHash,
		BlockNumber:   r.BlockNumber,
		CertificateID: interfaces.CertificateID(r.CertificateID),
		TokenIDs:      ids,
	}
}

// registerPayload is the hashed form of a register operation.
type registerPayload struct {
	CertificateID   string
	MainOwner       [20]byte
	TotalArea       *big.Int
	NumberOfTokens  uint64
	CertificateHash [32]byte
}

// TransactionHash identifies a register operation. Certificate ids are never
// reused, so committed transactions never share a hash.
func TransactionHash(op *interfaces.RegisterOp) (interfaces.TxHash, error) {
	enc, err := rlp.EncodeToBytes(&registerPayload{
		CertificateID:   string(op.CertificateID),
		MainOwner:       op.MainOwner,
		TotalArea:       op.TotalArea.BigInt(),
		NumberOfTokens:  op.NumberOfTokens,
		CertificateHash: op.CertificateHash,
	})
	if err != nil {
		return interfaces.TxHash{}, err
	}
	return interfaces.TxHash(crypto.Keccak256Hash(enc)), nil
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
