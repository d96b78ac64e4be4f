package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/landsure/landsure-registry/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted without first setting transaction options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

// OnchainClientConfig configures an OnchainLedgerClient.
type OnchainClientConfig struct {
	FinalityTimeout time.Duration

	// MaxTokensPerCertificate mirrors the bound enforced by the local ledger.
	MaxTokensPerCertificate uint64

	// FromBlock limits event scans to blocks after the contract deployment.
	FromBlock uint64
}

// OnchainLedgerClient implements interfaces.LedgerClient against a LandSure
// contract deployed on an Ethereum-compatible chain.
type OnchainLedgerClient struct {
	contract *bind.BoundContract
	client   bind.ContractBackend
	backend  bind.DeployBackend
	address  common.Address
	auth     *bind.TransactOpts
	gate     *Gate
	cfg      OnchainClientConfig
	log      *slog.Logger

	// Certificate ids seen in CertificateRegistered logs up to nextBlock-1,
	// sorted and unique.
	idsMu     sync.Mutex
	ids       []interfaces.CertificateID
	nextBlock uint64
}

type onchainTx struct {
	tx *types.Transaction
	op *interfaces.RegisterOp
}

func (t *onchainTx) Hash() interfaces.TxHash                  { return interfaces.TxHash(t.tx.Hash()) }
func (t *onchainTx) CertificateID() interfaces.CertificateID { return t.op.CertificateID }

// NewOnchainLedgerClient binds the contract at address. Readiness resolves once
// contract code is found at the address.
func NewOnchainLedgerClient(client bind.ContractBackend, backend bind.DeployBackend, address common.Address, cfg OnchainClientConfig, log *slog.Logger) *OnchainLedgerClient {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = DefaultFinalityTimeout
	}

	c := &OnchainLedgerClient{
		contract: bind.NewBoundContract(address, landSureABI, client, client, client),
		client:   client,
		backend:  backend,
		address:   address,
		cfg:       cfg,
		log:       log,
		nextBlock: cfg.FromBlock,
	}

	c.gate = StartGate(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.FinalityTimeout)
		defer cancel()

		code, err := backend.CodeAt(ctx, address, nil)
		if err != nil {
			return fmt.Errorf("fetching contract code: %w", err)
		}
		if len(code) == 0 {
			return fmt.Errorf("no contract deployed at %s", address)
		}
		log.Info("ledger contract ready", "address", address)
		return nil
	})

	return c
}

// SetTransactOpts sets the transaction options required for functions that modify state.
func (c *OnchainLedgerClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

func (c *OnchainLedgerClient) Ready(ctx context.Context) error {
	return c.gate.Wait(ctx)
}

// Signer is the transactor address, or the zero address for read-only clients.
func (c *OnchainLedgerClient) Signer() interfaces.Address {
	if c.auth == nil {
		return interfaces.ZeroAddress
	}
	return interfaces.Address(c.auth.From)
}

// Submit signs and sends registerCertificate. Reverts detected during gas
// estimation are reported as ledger rejections without sending anything. A send
// that fails for any other reason may still have reached the network, so its
// outcome is unknown.
func (c *OnchainLedgerClient) Submit(ctx context.Context, op *interfaces.RegisterOp) (interfaces.PendingTx, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}
	if err := op.Validate(c.cfg.MaxTokensPerCertificate); err != nil {
		return nil, err
	}
	if c.auth == nil {
		return nil, ErrNoTransactOpts
	}

	opts := *c.auth
	opts.Context = ctx
	opts.NoSend = true

	tx, err := c.contract.Transact(&opts, "registerCertificate",
		string(op.CertificateID),
		common.Address(op.MainOwner),
		op.TotalArea.BigInt(),
		new(big.Int).SetUint64(op.NumberOfTokens),
		[32]byte(op.CertificateHash),
	)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, rejection(interfaces.TxHash{}, reason)
		}
		return nil, &interfaces.TransactionError{Reason: "preparing registerCertificate: " + err.Error()}
	}

	hash := interfaces.TxHash(tx.Hash())
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, rejection(hash, reason)
		}
		c.log.Warn("sending registerCertificate failed", "tx", tx.Hash(), "certificateId", op.CertificateID, "err", err)
		return nil, &interfaces.TransactionError{
			TxHash: hash,
			Reason: "sending registerCertificate: " + err.Error(),
			Err:    interfaces.ErrUnknownOutcome,
		}
	}

	c.log.Debug("submitted registerCertificate", "tx", tx.Hash(), "certificateId", op.CertificateID)
	return &onchainTx{tx: tx, op: op}, nil
}

// AwaitFinality waits for the transaction to be mined. A successful receipt is
// final; the contract does not log minted token ids, so the receipt carries none
// and callers read them back from getCertificate.
func (c *OnchainLedgerClient) AwaitFinality(ctx context.Context, pending interfaces.PendingTx) (*interfaces.CommitReceipt, error) {
	ptx, ok := pending.(*onchainTx)
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s was not submitted by this client", interfaces.ErrInvalidInput, pending.Hash())
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.FinalityTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.backend, ptx.tx)
	if err != nil {
		return nil, &interfaces.TransactionError{
			TxHash: ptx.Hash(),
			Reason: err.Error(),
			Err:    interfaces.ErrUnknownOutcome,
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, rejection(ptx.Hash(), c.replayRevertReason(ctx, ptx.tx, receipt.BlockNumber))
	}

	return &interfaces.CommitReceipt{
		TxHash:        ptx.Hash(),
		BlockNumber:   receipt.BlockNumber.Uint64(),
		CertificateID: ptx.op.CertificateID,
	}, nil
}

// replayRevertReason re-executes a failed transaction at its block to recover the revert message.
func (c *OnchainLedgerClient) replayRevertReason(ctx context.Context, tx *types.Transaction, block *big.Int) string {
	from := common.Address{}
	if c.auth != nil {
		from = c.auth.From
	}
	_, err := c.client.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, block)
	if err == nil {
		return "execution reverted"
	}
	if reason, ok := revertReason(err); ok {
		return reason
	}
	return err.Error()
}

func (c *OnchainLedgerClient) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.Certificate, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCertificate", string(id))
	if err != nil {
		if reason, ok := revertReason(err); ok && isNotFoundReason(reason) {
			return nil, fmt.Errorf("%w: certificate %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: getCertificate: %v", interfaces.ErrQuery, err)
	}

	cert, err := decodeCertificate(out)
	if err != nil {
		return nil, fmt.Errorf("%w: getCertificate: %v", interfaces.ErrQuery, err)
	}
	if cert.CertificateID == "" || cert.MainOwner.IsZero() {
		return nil, fmt.Errorf("%w: certificate %s", interfaces.ErrNotFound, id)
	}
	return cert, nil
}

func (c *OnchainLedgerClient) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getToken", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		if reason, ok := revertReason(err); ok && isNotFoundReason(reason) {
			return nil, fmt.Errorf("%w: token %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: getToken: %v", interfaces.ErrQuery, err)
	}

	token, err := decodeToken(out)
	if err != nil {
		return nil, fmt.Errorf("%w: getToken: %v", interfaces.ErrQuery, err)
	}
	if token.CertificateID == "" {
		return nil, fmt.Errorf("%w: token %s", interfaces.ErrNotFound, id)
	}
	return token, nil
}

// CertificateIDs pages the ids of CertificateRegistered events; the contract
// keeps no enumerable index. Logs are scanned once: each call only filters the
// blocks mined since the previous one.
func (c *OnchainLedgerClient) CertificateIDs(ctx context.Context, after interfaces.CertificateID, limit int) ([]interfaces.CertificateID, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	c.idsMu.Lock()
	defer c.idsMu.Unlock()

	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: reading chain head: %v", interfaces.ErrQuery, err)
	}
	if head.Number.Uint64() >= c.nextBlock {
		if err := c.scanRegistered(ctx, c.nextBlock, head.Number.Uint64()); err != nil {
			return nil, err
		}
		c.nextBlock = head.Number.Uint64() + 1
	}

	return slices.Clone(pageIDs(c.ids, after, limit)), nil
}

func (c *OnchainLedgerClient) scanRegistered(ctx context.Context, from, to uint64) error {
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{landSureABI.Events["CertificateRegistered"].ID}},
	})
	if err != nil {
		return fmt.Errorf("%w: filtering CertificateRegistered: %v", interfaces.ErrQuery, err)
	}

	for _, vLog := range logs {
		if vLog.Removed {
			continue
		}
		id, err := c.unpackRegistered(vLog)
		if err != nil {
			c.log.Warn("skipping undecodable CertificateRegistered log", "tx", vLog.TxHash, "err", err)
			continue
		}
		c.ids = append(c.ids, id)
	}
	slices.Sort(c.ids)
	c.ids = slices.Compact(c.ids)
	c.log.Debug("scanned CertificateRegistered logs", "from", from, "to", to, "logs", len(logs), "certificates", len(c.ids))
	return nil
}

func (c *OnchainLedgerClient) unpackRegistered(vLog types.Log) (interfaces.CertificateID, error) {
	var ev struct {
		CertificateId  string
		MainOwner      common.Address
		NumberOfTokens *big.Int
	}
	if err := c.contract.UnpackLog(&ev, "CertificateRegistered", vLog); err != nil {
		return "", err
	}
	return interfaces.CertificateID(ev.CertificateId), nil
}

func pageIDs(all []interfaces.CertificateID, after interfaces.CertificateID, limit int) []interfaces.CertificateID {
	slices.Sort(all)
	all = slices.Compact(all)
	start, found := slices.BinarySearch(all, after)
	if found {
		start++
	}
	end := min(start+limit, len(all))
	return all[start:end]
}

func decodeCertificate(out []interface{}) (*interfaces.Certificate, error) {
	if len(out) != 6 {
		return nil, fmt.Errorf("unexpected output length %d", len(out))
	}

	id := *abi.ConvertType(out[0], new(string)).(*string)
	owner := *abi.ConvertType(out[1], new(common.Address)).(*common.Address)
	area := abi.ConvertType(out[2], new(big.Int)).(*big.Int)
	tokens := abi.ConvertType(out[3], new(big.Int)).(*big.Int)
	hash := *abi.ConvertType(out[4], new([32]byte)).(*[32]byte)
	rawIDs := *abi.ConvertType(out[5], new([]*big.Int)).(*[]*big.Int)

	if id == "" || owner == (common.Address{}) {
		return &interfaces.Certificate{}, nil
	}

	totalArea, err := interfaces.NewTotalAreaFromBig(area)
	if err != nil {
		return nil, err
	}
	if !tokens.IsUint64() {
		return nil, fmt.Errorf("numberOfTokens %s overflows uint64", tokens)
	}

	tokenIDs := make([]interfaces.TokenID, len(rawIDs))
	for i, raw := range rawIDs {
		if !raw.IsUint64() {
			return nil, fmt.Errorf("token id %s overflows uint64", raw)
		}
		tokenIDs[i] = interfaces.TokenID(raw.Uint64())
	}

	return &interfaces.Certificate{
		CertificateID:   interfaces.CertificateID(id),
		MainOwner:       interfaces.Address(owner),
		TotalArea:       totalArea,
		NumberOfTokens:  tokens.Uint64(),
		CertificateHash: interfaces.CertificateHash(hash),
		TokenIDs:        tokenIDs,
	}, nil
}

func decodeToken(out []interface{}) (*interfaces.Token, error) {
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected output length %d", len(out))
	}

	id := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	certID := *abi.ConvertType(out[1], new(string)).(*string)
	owner := *abi.ConvertType(out[2], new(common.Address)).(*common.Address)
	burned := *abi.ConvertType(out[3], new(bool)).(*bool)

	if !id.IsUint64() {
		return nil, fmt.Errorf("token id %s overflows uint64", id)
	}

	return &interfaces.Token{
		TokenID:       interfaces.TokenID(id.Uint64()),
		CertificateID: interfaces.CertificateID(certID),
		CurrentOwner:  interfaces.Address(owner),
		Burned:        burned,
	}, nil
}

// revertReason extracts the Error(string) message carried by an RPC error.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		if strings.Contains(err.Error(), "execution reverted") {
			msg := err.Error()
			if i := strings.Index(msg, "execution reverted: "); i >= 0 {
				return msg[i+len("execution reverted: "):], true
			}
			return "execution reverted", true
		}
		return "", false
	}

	var data []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		decoded, err := hexutil.Decode(v)
		if err != nil {
			return dataErr.Error(), true
		}
		data = decoded
	case []byte:
		data = v
	default:
		return dataErr.Error(), true
	}

	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return dataErr.Error(), true
	}
	return reason, true
}

func isDuplicateReason(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "certificate exists") || strings.Contains(r, "already exists") || strings.Contains(r, "already registered")
}

func isNotFoundReason(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "not found")
}

// rejection turns a ledger revert into a TransactionError, flagging duplicates.
func rejection(hash interfaces.TxHash, reason string) error {
	txErr := &interfaces.TransactionError{TxHash: hash, Reason: reason}
	if isDuplicateReason(reason) {
		txErr.Err = interfaces.ErrDuplicateCertificate
	}
	return txErr
}
