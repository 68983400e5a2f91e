package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/clock"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/paygate/internal/ledger/service"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/repository"
	"github.com/smallbiznis/paygate/internal/quote"
	quotedomain "github.com/smallbiznis/paygate/internal/quote/domain"
	"github.com/smallbiznis/paygate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testOrg   = snowflake.ID(10)
	testQuote = int64(777)
)

type fixture struct {
	db     *gorm.DB
	guard  *Guard
	ledger *ledgerservice.Service
	quotes *quote.Store
	repo   domain.Repository
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.NewDB(t)
	testutil.InsertQuote(t, conn, int64(testOrg), testQuote, "Q-1")

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: log, GenID: node, Clock: clk})
	quotes := quote.NewStore(quote.Params{DB: conn, Log: log, Clock: clk})
	repo := repository.Provide()
	guard := NewGuard(Params{
		DB:           conn,
		Log:          log,
		Repo:         repo,
		Transactions: ledger,
		References:   []domain.ReferenceStore{quotes},
		Clock:        clk,
	})
	return &fixture{db: conn, guard: guard, ledger: ledger, quotes: quotes, repo: repo, logs: logs}
}

// seedCharge inserts a charge for the quote, with a pending accounting transaction.
func (f *fixture) seedCharge(t *testing.T, id snowflake.ID, status domain.Status) *domain.Charge {
	t.Helper()
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	charge := &domain.Charge{
		ID:                id,
		OrgID:             testOrg,
		Provider:          "mercadopago",
		Environment:       domain.EnvironmentSandbox,
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "BRL",
		Description:       "Quote Q-1",
		ExternalReference: "Q-1-" + id.String(),
		PaymentMethod:     domain.MethodPix,
		Status:            status,
		ReferenceType:     quotedomain.ReferenceType,
		ReferenceID:       snowflake.ID(testQuote).String(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, charge))
	txID, err := f.ledger.CreatePending(context.Background(), f.db, charge)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetTransaction(context.Background(), f.db, charge.ID, txID))
	charge.TransactionID = &txID
	return charge
}

func (f *fixture) transactionStatus(t *testing.T, charge *domain.Charge) ledgerdomain.TransactionStatus {
	t.Helper()
	txn, err := f.ledger.Get(context.Background(), *charge.TransactionID)
	require.NoError(t, err)
	return txn.Status
}

func (f *fixture) quoteStatus(t *testing.T) quotedomain.PaymentStatus {
	t.Helper()
	q, err := f.quotes.Get(context.Background(), testOrg, snowflake.ID(testQuote).String())
	require.NoError(t, err)
	return q.PaymentStatus
}

func TestApplyApprovedCascades(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)

	transition, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusApproved, ProviderStatus: "approved:accredited"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, transition.Outcome)
	assert.Equal(t, domain.StatusPending, transition.From)
	assert.Equal(t, domain.StatusApproved, transition.To)

	stored, err := f.repo.FindByID(context.Background(), f.db, testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Equal(t, "approved:accredited", stored.ProviderStatus)
	assert.Equal(t, ledgerdomain.TransactionStatusSettled, f.transactionStatus(t, charge))
	assert.Equal(t, quotedomain.PaymentStatusPaid, f.quoteStatus(t))
}

func TestApplyDuplicateTerminalIsNoOp(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)
	_, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusApproved, ProviderStatus: "approved"})
	require.NoError(t, err)

	before, err := f.repo.FindByID(context.Background(), f.db, testOrg, charge.ID)
	require.NoError(t, err)

	transition, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusApproved, ProviderStatus: "approved:again"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, transition.Outcome)

	after, err := f.repo.FindByID(context.Background(), f.db, testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ProviderStatus, after.ProviderStatus)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestApplyConflictingTerminalIsRejected(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)
	_, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusApproved, ProviderStatus: "approved"})
	require.NoError(t, err)

	transition, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusRejected, ProviderStatus: "rejected"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReconciliationConflict)
	var conflict *domain.ReconciliationConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.ConflictTerminalState, conflict.Reason)
	assert.Equal(t, domain.StatusRejected, conflict.Incoming)
	assert.Equal(t, domain.OutcomeConflict, transition.Outcome)

	stored, err := f.repo.FindByID(context.Background(), f.db, testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Equal(t, 1, f.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestApplyStalePendingIsIgnored(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusRejected)

	transition, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusPending, ProviderStatus: "in_process"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, transition.Outcome)
	assert.Equal(t, domain.StatusRejected, transition.Charge.Status)
}

func TestApplyRejectedLeavesQuoteAlone(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)

	_, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusRejected, ProviderStatus: "rejected:cc_rejected_other_reason"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.TransactionStatusPending, f.transactionStatus(t, charge))
	assert.Equal(t, quotedomain.PaymentStatusUnpaid, f.quoteStatus(t))
}

func TestApplyUnknownCharge(t *testing.T) {
	f := newFixture(t)
	_, err := f.guard.Apply(context.Background(), testOrg, 404, domain.StatusUpdate{Status: domain.StatusApproved, ProviderStatus: "approved"})
	assert.ErrorIs(t, err, domain.ErrChargeNotFound)

	_, err = f.guard.Apply(context.Background(), testOrg, 404, domain.StatusUpdate{Status: domain.Status("paid"), ProviderStatus: "paid"})
	assert.ErrorIs(t, err, domain.ErrInvalidCharge)
}

func TestCancelRetiresPendingCharge(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)

	transition, err := f.guard.Cancel(context.Background(), testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, transition.To)

	pending, err := f.repo.FindPending(context.Background(), f.db, testOrg, charge.Reference())
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestResetUndoesApprovalCascades(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)
	_, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusApproved, ProviderStatus: "approved"})
	require.NoError(t, err)

	transition, err := f.guard.Reset(context.Background(), testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, transition.Outcome)
	assert.Equal(t, domain.StatusApproved, transition.From)
	assert.Equal(t, domain.StatusPending, transition.Charge.Status)
	assert.Equal(t, ledgerdomain.TransactionStatusPending, f.transactionStatus(t, charge))
	assert.Equal(t, quotedomain.PaymentStatusUnpaid, f.quoteStatus(t))

	// Reset charges follow the normal lifecycle again.
	transition, err = f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{Status: domain.StatusRejected, ProviderStatus: "rejected"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, transition.Outcome)
}

func TestResetBlockedByAnotherPendingCharge(t *testing.T) {
	f := newFixture(t)
	rejected := f.seedCharge(t, 1, domain.StatusRejected)
	pending := f.seedCharge(t, 2, domain.StatusPending)

	_, err := f.guard.Reset(context.Background(), testOrg, rejected.ID)
	var conflict *domain.ReconciliationConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.ConflictDuplicatePending, conflict.Reason)
	assert.Equal(t, pending.ID, conflict.Charge.ID)

	stored, err := f.repo.FindByID(context.Background(), f.db, testOrg, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
}

func TestResetPendingIsNoOp(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)

	transition, err := f.guard.Reset(context.Background(), testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, transition.Outcome)
}

func TestApplyAdoptsProviderPaymentIDWhilePending(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, 1, domain.StatusPending)
	require.NoError(t, f.db.Exec(`UPDATE charges SET provider_payment_id = ? WHERE id = ?`, "pref-1", charge.ID).Error)

	transition, err := f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{
		Status:            domain.StatusPending,
		ProviderStatus:    "in_process",
		ProviderPaymentID: "555",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, transition.Outcome)
	assert.Equal(t, "555", transition.Charge.ProviderPaymentID)

	transition, err = f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{
		Status:            domain.StatusApproved,
		ProviderStatus:    "approved:accredited",
		ProviderPaymentID: "555",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, transition.Outcome)

	// Terminal charges keep the payment that settled them.
	_, err = f.guard.Apply(context.Background(), testOrg, charge.ID, domain.StatusUpdate{
		Status:            domain.StatusApproved,
		ProviderStatus:    "approved",
		ProviderPaymentID: "556",
	})
	require.NoError(t, err)

	stored, err := f.repo.FindByID(context.Background(), f.db, testOrg, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, "555", stored.ProviderPaymentID)
	assert.Equal(t, domain.StatusApproved, stored.Status)
}
