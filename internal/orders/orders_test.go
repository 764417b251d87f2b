package orders

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/ksred/atomex-api/internal/activity"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/chain"
	"github.com/ksred/atomex-api/internal/ledger"
	"github.com/ksred/atomex-api/internal/transfer"
	"github.com/ksred/atomex-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testStack struct {
	svc       *Service
	db        *gorm.DB
	client    *transfer.StubClient
	transfers *transfer.Service
	activity  *activity.Service
	ledger    *ledger.Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orders.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&chain.Height{},
		&auth.Policy{},
		&ledger.Asset{},
		&Order{},
		&activity.Record{},
		&transfer.Instruction{},
	))

	policy := auth.NewPolicyStore(db)
	_, err = policy.Ensure("admin", "atomex", []string{"filler-1"})
	require.NoError(t, err)

	client := transfer.NewStubClient()
	transfers := transfer.NewService(db)
	ledgerSvc := ledger.NewService(db, policy, transfers, client, "atomex")
	activitySvc := activity.NewService(db)

	_, err = ledgerSvc.RegisterAsset("admin", "TOKA", "ref-a")
	require.NoError(t, err)
	_, err = ledgerSvc.RegisterAsset("admin", "TOKB", "ref-b")
	require.NoError(t, err)

	return &testStack{
		svc:       NewService(db, ledgerSvc, activitySvc, transfers, policy, client, "LOYAL"),
		db:        db,
		client:    client,
		transfers: transfers,
		activity:  activitySvc,
		ledger:    ledgerSvc,
	}
}

func (ts *testStack) createOrder(t *testing.T, creator string, loyalty, fromAmount, toRequested uint64) *OrderView {
	t.Helper()
	ts.client.SetBalance("LOYAL", creator, loyalty)
	view, err := ts.svc.CreateOrder(context.Background(), CreateOrderRequest{
		Creator:           creator,
		FromToken:         "TOKA",
		FromAmount:        fromAmount,
		ToToken:           "TOKB",
		ToAmountRequested: toRequested,
		LoyaltyProof:      "proof",
	})
	require.NoError(t, err)
	return view
}

func TestFeeTierBoundaries(t *testing.T) {
	cases := []struct {
		loyalty uint64
		bps     uint64
	}{
		{100_000_000_000, 0},
		{99_999_999_999, 6},
		{50_000_000_000, 6},
		{49_999_999_999, 12},
		{25_000_000_000, 12},
		{24_999_999_999, 18},
		{12_500_000_000, 18},
		{12_499_999_999, 24},
		{6_250_000_000, 24},
		{6_249_999_999, 30},
		{0, 30},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.bps, feeTierBps(tc.loyalty), "loyalty %d", tc.loyalty)
	}
}

func TestCalculateFeeFloors(t *testing.T) {
	// 30 bps of 10_000 is exactly 30.
	fee, err := calculateFee(0, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), fee)

	// 30 bps of 333 is 0.999, floored to 0.
	fee, err = calculateFee(0, 333)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fee)

	// Top tier pays nothing.
	fee, err = calculateFee(100_000_000_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fee)
}

func TestCreateOrderDeductsFee(t *testing.T) {
	ts := newTestStack(t)

	view := ts.createOrder(t, "alice", 0, 1000, 10_000)
	assert.Equal(t, uint64(30), view.Fee)
	assert.Equal(t, uint64(9_970), view.NetToAmount)
	assert.Equal(t, uint64(0), view.Position)
	assert.Equal(t, uint64(0), view.OtherStoragePosition)
}

func TestCreateOrderValidation(t *testing.T) {
	ts := newTestStack(t)
	ts.client.SetBalance("LOYAL", "alice", 0)

	_, err := ts.svc.CreateOrder(context.Background(), CreateOrderRequest{
		Creator: "alice", FromToken: "TOKA", FromAmount: 0,
		ToToken: "TOKB", ToAmountRequested: 100, LoyaltyProof: "proof",
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = ts.svc.CreateOrder(context.Background(), CreateOrderRequest{
		Creator: "alice", FromToken: "TOKA", FromAmount: 100,
		ToToken: "UNKNOWN", ToAmountRequested: 100, LoyaltyProof: "proof",
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	// Amounts above the storable signed 64-bit range are rejected up front.
	_, err = ts.svc.CreateOrder(context.Background(), CreateOrderRequest{
		Creator: "alice", FromToken: "TOKA", FromAmount: uint64(math.MaxInt64) + 1,
		ToToken: "TOKB", ToAmountRequested: 100, LoyaltyProof: "proof",
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestProportionalFillAndExactRemainder(t *testing.T) {
	ts := newTestStack(t)

	// Top loyalty tier so the requested amount is the net amount.
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 3)

	released, _, err := ts.svc.FillOrder("filler-1", 0, 1, "TOKB", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(333), released)

	released, _, err = ts.svc.FillOrder("filler-1", 0, 1, "TOKB", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(333), released)

	// The completing fill releases the exact remainder, not the floor.
	released, view, err := ts.svc.FillOrder("filler-1", 0, 1, "TOKB", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(334), released)
	assert.Equal(t, uint64(1000), view.FromAmountFilled)
	assert.Equal(t, uint64(3), view.NetToAmountFilled)
}

func TestFillHalves(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	released, _, err := ts.svc.FillOrder("filler-1", 0, 500, "TOKB", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), released)

	released, view, err := ts.svc.FillOrder("filler-1", 0, 500, "TOKB", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), released)
	assert.True(t, view.FromAmountFilled == view.FromAmount)
}

func TestFillEmitsTransfers(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, _, err := ts.svc.FillOrder("filler-1", 0, 400, "TOKB", "")
	require.NoError(t, err)

	pending, err := ts.transfers.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "TOKA", pending[0].Token)
	assert.Equal(t, "filler-1", pending[0].Recipient)
	assert.Equal(t, uint64(400), pending[0].Amount)
	assert.Equal(t, "TOKB", pending[1].Token)
	assert.Equal(t, "alice", pending[1].Recipient)
	assert.Equal(t, uint64(400), pending[1].Amount)
}

func TestFillValidation(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, _, err := ts.svc.FillOrder("mallory", 0, 100, "TOKB", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, _, err = ts.svc.FillOrder("filler-1", 0, 100, "TOKA", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, _, err = ts.svc.FillOrder("filler-1", 0, 1001, "TOKB", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, _, err = ts.svc.FillOrder("filler-1", 99, 100, "TOKB", "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFillCancelledOrder(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, err := ts.svc.CancelOrder("alice", 0, "TOKA")
	require.NoError(t, err)

	_, _, err = ts.svc.FillOrder("filler-1", 0, 100, "TOKB", "")
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestMirrorViews(t *testing.T) {
	ts := newTestStack(t)

	// Two creators interleaved so the namespaces diverge.
	ts.createOrder(t, "alice", 0, 100, 100) // creator 0, book 0
	ts.createOrder(t, "bob", 0, 100, 100)   // creator 0, book 1
	view := ts.createOrder(t, "alice", 0, 100, 100)

	assert.Equal(t, uint64(1), view.Position)
	assert.Equal(t, uint64(2), view.OtherStoragePosition)

	// The admin resolves the same order from the book namespace.
	bookViews, err := ts.svc.OrdersByPositions("admin", []uint64{2})
	require.NoError(t, err)
	require.Len(t, bookViews, 1)
	assert.Equal(t, uint64(2), bookViews[0].Position)
	assert.Equal(t, uint64(1), bookViews[0].OtherStoragePosition)
	assert.Equal(t, "alice", bookViews[0].Creator)
}

func TestCancelRefundsUnfilled(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, _, err := ts.svc.FillOrder("filler-1", 0, 400, "TOKB", "")
	require.NoError(t, err)

	view, err := ts.svc.CancelOrder("alice", 0, "TOKA")
	require.NoError(t, err)
	assert.True(t, view.Cancelled)

	pending, err := ts.transfers.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	refund := pending[2]
	assert.Equal(t, "alice", refund.Recipient)
	assert.Equal(t, "TOKA", refund.Token)
	assert.Equal(t, uint64(600), refund.Amount)

	_, err = ts.svc.CancelOrder("alice", 0, "TOKA")
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestCancelValidation(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, err := ts.svc.CancelOrder("alice", 0, "TOKB")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, _, err = ts.svc.FillOrder("filler-1", 0, 1000, "TOKB", "")
	require.NoError(t, err)

	_, err = ts.svc.CancelOrder("alice", 0, "TOKA")
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestExecutionFeeLifecycle(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	view, err := ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), view.ExecutionFee)

	// Setting it twice is rejected.
	_, err = ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestExecutionFeeOnlyAtCreationHeight(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, err := chain.Advance(ts.db)
	require.NoError(t, err)

	_, err = ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestExecutionFeePaidOnFirstFill(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)
	_, err := ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	require.NoError(t, err)

	_, _, err = ts.svc.FillOrder("filler-1", 0, 100, "TOKB", "")
	require.NoError(t, err)

	pending, err := ts.transfers.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	escrow := pending[2]
	assert.Equal(t, "GAS", escrow.Token)
	assert.Equal(t, "filler-1", escrow.Recipient)
	assert.Equal(t, uint64(25), escrow.Amount)

	// The second fill does not pay the escrow again.
	_, _, err = ts.svc.FillOrder("filler-1", 0, 100, "TOKB", "")
	require.NoError(t, err)
	pending, err = ts.transfers.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

func TestExecutionFeeGoesToRouteInitiator(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)
	_, err := ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	require.NoError(t, err)

	_, _, err = ts.svc.FillOrder("filler-1", 0, 100, "TOKB", "searcher-9")
	require.NoError(t, err)

	pending, err := ts.transfers.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "searcher-9", pending[2].Recipient)
}

func TestEscrowRefundOnlyWhenUntouched(t *testing.T) {
	ts := newTestStack(t)

	// Untouched cancel refunds input and escrow.
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)
	_, err := ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	require.NoError(t, err)
	_, err = ts.svc.CancelOrder("alice", 0, "TOKA")
	require.NoError(t, err)

	pending, err := ts.transfers.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(1000), pending[0].Amount)
	assert.Equal(t, "GAS", pending[1].Token)
	assert.Equal(t, "alice", pending[1].Recipient)

	// A partially filled order keeps the escrow with its first filler.
	ts.createOrder(t, "bob", 100_000_000_000, 1000, 1000)
	_, err = ts.svc.SetExecutionFee("bob", 0, 25, "GAS")
	require.NoError(t, err)
	_, _, err = ts.svc.FillOrder("filler-1", 1, 100, "TOKB", "")
	require.NoError(t, err)
	_, err = ts.svc.CancelOrder("bob", 0, "TOKA")
	require.NoError(t, err)

	pending, err = ts.transfers.Pending()
	require.NoError(t, err)
	for _, instr := range pending[2:] {
		if instr.Token == "GAS" {
			assert.Equal(t, "filler-1", instr.Recipient)
		}
	}
}

func TestEscrowPaidOnceWhenFirstFillReleasesNothing(t *testing.T) {
	ts := newTestStack(t)

	// A steep order: the first small fill floors its released input to zero,
	// so the input side still looks untouched after the escrow was paid.
	ts.createOrder(t, "alice", 100_000_000_000, 10, 1000)
	_, err := ts.svc.SetExecutionFee("alice", 0, 25, "GAS")
	require.NoError(t, err)

	released, _, err := ts.svc.FillOrder("filler-1", 0, 50, "TOKB", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), released)

	_, err = ts.svc.CancelOrder("alice", 0, "TOKA")
	require.NoError(t, err)

	pending, err := ts.transfers.Pending()
	require.NoError(t, err)

	var escrows []transfer.Instruction
	for _, instr := range pending {
		if instr.Token == "GAS" {
			escrows = append(escrows, instr)
		}
	}
	require.Len(t, escrows, 1)
	assert.Equal(t, "filler-1", escrows[0].Recipient)
	assert.Equal(t, uint64(25), escrows[0].Amount)
}

func TestListOrdersPagesBackward(t *testing.T) {
	ts := newTestStack(t)
	for i := 0; i < 3; i++ {
		ts.createOrder(t, "alice", 0, 100, 100)
	}

	views, total, err := ts.svc.ListOrders("alice", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, views, 2)
	assert.Equal(t, uint64(2), views[0].Position)
	assert.Equal(t, uint64(1), views[1].Position)

	views, _, err = ts.svc.ListOrders("alice", 1, 2)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, uint64(0), views[0].Position)

	views, _, err = ts.svc.ListOrders("alice", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, views)

	// A negative page clamps to the first page instead of a negative offset.
	views, _, err = ts.svc.ListOrders("alice", -3, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, uint64(2), views[0].Position)
}

func TestFillRecordsActivity(t *testing.T) {
	ts := newTestStack(t)
	ts.createOrder(t, "alice", 100_000_000_000, 1000, 1000)

	_, _, err := ts.svc.FillOrder("filler-1", 0, 400, "TOKB", "")
	require.NoError(t, err)

	records, total, err := ts.activity.Paginate("admin", activity.KindFill, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(0), records[0].OrderPosition)
	require.NotNil(t, records[0].ResultNetToFilled)
	assert.Equal(t, uint64(400), *records[0].ResultNetToFilled)
}
