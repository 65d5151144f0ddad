// Package ledger is the token-issuance collaborator. Callers depend on
// TokenLedger; the simulated implementation keeps contract state in memory
// and produces EVM-shaped references.
package ledger

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"capstack/internal/platform/metrics"
	dErrors "capstack/pkg/domain-errors"
)

// TokenLedger mints and burns tokens on per-SPV contracts.
type TokenLedger interface {
	Mint(ctx context.Context, contractRef, to string, amount decimal.Decimal) (string, error)
	Burn(ctx context.Context, contractRef, from string, amount decimal.Decimal) (string, error)
	CreateContract(ctx context.Context, ownerRef, name string, supplyCap decimal.Decimal) (string, error)
}

var (
	ErrUnknownContract     = errors.New("unknown token contract")
	ErrInvalidAddress      = errors.New("invalid holder address")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSupplyCapExceeded   = errors.New("mint exceeds supply cap")
	ErrInsufficientBalance = errors.New("burn exceeds holder balance")
)

type contract struct {
	owner    string
	name     string
	cap      decimal.Decimal
	supply   decimal.Decimal
	balances map[common.Address]decimal.Decimal
}

// Simulated is an in-process token ledger. Contract addresses and
// transaction hashes are derived from a monotonically increasing nonce.
type Simulated struct {
	mu        sync.Mutex
	nonce     uint64
	contracts map[common.Address]*contract
}

func NewSimulated() *Simulated {
	return &Simulated{contracts: make(map[common.Address]*contract)}
}

func (l *Simulated) CreateContract(_ context.Context, ownerRef, name string, supplyCap decimal.Decimal) (string, error) {
	if !supplyCap.IsPositive() {
		return "", ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	digest := l.digest("contract", ownerRef, name, supplyCap.String())
	addr := common.BytesToAddress(digest[12:])
	l.contracts[addr] = &contract{
		owner:    ownerRef,
		name:     name,
		cap:      supplyCap,
		balances: make(map[common.Address]decimal.Decimal),
	}
	return addr.Hex(), nil
}

func (l *Simulated) Mint(_ context.Context, contractRef, to string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, holder, err := l.resolve(contractRef, to)
	if err != nil {
		return "", err
	}
	if c.supply.Add(amount).GreaterThan(c.cap) {
		return "", ErrSupplyCapExceeded
	}
	c.supply = c.supply.Add(amount)
	c.balances[holder] = c.balances[holder].Add(amount)
	return common.BytesToHash(l.digest("mint", contractRef, to, amount.String())).Hex(), nil
}

func (l *Simulated) Burn(_ context.Context, contractRef, from string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, holder, err := l.resolve(contractRef, from)
	if err != nil {
		return "", err
	}
	if c.balances[holder].LessThan(amount) {
		return "", ErrInsufficientBalance
	}
	c.supply = c.supply.Sub(amount)
	c.balances[holder] = c.balances[holder].Sub(amount)
	return common.BytesToHash(l.digest("burn", contractRef, from, amount.String())).Hex(), nil
}

// BalanceOf returns a holder's balance on a contract.
func (l *Simulated) BalanceOf(contractRef, holder string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, addr, err := l.resolve(contractRef, holder)
	if err != nil {
		return decimal.Zero, err
	}
	return c.balances[addr], nil
}

func (l *Simulated) resolve(contractRef, holder string) (*contract, common.Address, error) {
	if !common.IsHexAddress(contractRef) {
		return nil, common.Address{}, ErrUnknownContract
	}
	c, ok := l.contracts[common.HexToAddress(contractRef)]
	if !ok {
		return nil, common.Address{}, ErrUnknownContract
	}
	if !common.IsHexAddress(holder) {
		return nil, common.Address{}, ErrInvalidAddress
	}
	return c, common.HexToAddress(holder), nil
}

// digest must be called with mu held.
func (l *Simulated) digest(parts ...string) []byte {
	l.nonce++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", strings.Join(parts, "|"), l.nonce)))
	return sum[:]
}

var tracer = otel.Tracer("capstack/ledger")

// Instrumented wraps a TokenLedger with spans and latency metrics and
// classifies every failure as an upstream integration error.
type Instrumented struct {
	next    TokenLedger
	metrics *metrics.Metrics
}

func NewInstrumented(next TokenLedger, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

func (l *Instrumented) Mint(ctx context.Context, contractRef, to string, amount decimal.Decimal) (ref string, err error) {
	ctx, finish := l.observe(ctx, "mint", attribute.String("contract", contractRef), attribute.String("amount", amount.String()))
	defer func() { finish(err) }()
	ref, err = l.next.Mint(ctx, contractRef, to, amount)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "token ledger mint failed")
	}
	return ref, nil
}

func (l *Instrumented) Burn(ctx context.Context, contractRef, from string, amount decimal.Decimal) (ref string, err error) {
	ctx, finish := l.observe(ctx, "burn", attribute.String("contract", contractRef), attribute.String("amount", amount.String()))
	defer func() { finish(err) }()
	ref, err = l.next.Burn(ctx, contractRef, from, amount)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "token ledger burn failed")
	}
	return ref, nil
}

func (l *Instrumented) CreateContract(ctx context.Context, ownerRef, name string, supplyCap decimal.Decimal) (ref string, err error) {
	ctx, finish := l.observe(ctx, "create_contract", attribute.String("owner", ownerRef))
	defer func() { finish(err) }()
	ref, err = l.next.CreateContract(ctx, ownerRef, name, supplyCap)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "token contract creation failed")
	}
	return ref, nil
}

func (l *Instrumented) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ledger."+op)
	span.SetAttributes(append(attrs, attribute.String("upstream", "token_ledger"))...)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		l.metrics.ObserveUpstream("token_ledger", op, start, err)
	}
}
