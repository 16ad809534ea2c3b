package entity

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestPO(supplier string) *PurchaseOrder {
	return NewDraftPO(supplier, Header{Requestor: "J.Lee"}, "test-user", testNow)
}

func item(id, supplier string, price int64) ItemSnapshot {
	return ItemSnapshot{ItemID: id, Name: "Item " + id, Supplier: supplier, UnitPrice: decimal.NewFromInt(price)}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func assertTotalInvariant(t *testing.T, po *PurchaseOrder) {
	t.Helper()
	sum := decimal.Zero
	for _, l := range po.LineItems {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	assert.True(t, sum.Equal(po.TotalAmount), "total %s != Σ lines %s", po.TotalAmount, sum)
	for _, l := range po.LineItems {
		assert.Equal(t, po.Supplier, l.Supplier)
	}
}

func TestNewDraftPO(t *testing.T) {
	po := newTestPO("AcmeValves")

	assert.NotEmpty(t, po.ID)
	assert.Equal(t, POStatusDraft, po.CurrentStatus)
	assert.True(t, po.TotalAmount.IsZero())
	assert.True(t, po.SupplierLocked)
	assert.Equal(t, DefaultPaymentTerms, po.PaymentTerms)
	require.Len(t, po.StatusHistory, 1)
	assert.Equal(t, POStatusDraft, po.StatusHistory[0].Status)
	assert.Equal(t, 1, po.StatusHistory[0].Seq)
	assert.Equal(t, po.ID, po.StatusHistory[0].POID)
}

// Scenario A
func TestAddLineMergesSameItem(t *testing.T) {
	po := newTestPO("AcmeValves")
	x := item("X", "AcmeValves", 120)

	line, created, err := po.AddLine(x, 3)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(360)))

	line, created, err = po.AddLine(x, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 5, line.Quantity)
	require.Len(t, po.LineItems, 1)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(600)))
	assertTotalInvariant(t, po)
}

// Scenario B
func TestAddLineSupplierMismatch(t *testing.T) {
	po := newTestPO("AcmeValves")
	_, _, err := po.AddLine(item("X", "AcmeValves", 120), 3)
	require.NoError(t, err)

	_, _, err = po.AddLine(item("Y", "BetaPumps", 50), 1)
	requireKind(t, err, apperr.KindSupplierMismatch)
	assert.Contains(t, err.Error(), "AcmeValves")
	assert.Contains(t, err.Error(), "BetaPumps")

	require.Len(t, po.LineItems, 1)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(360)))
}

func TestAddLineQuantityBoundary(t *testing.T) {
	po := newTestPO("AcmeValves")
	x := item("X", "AcmeValves", 1)

	_, _, err := po.AddLine(x, 9999)
	require.NoError(t, err)
	line, _, err := po.AddLine(x, 1)
	require.NoError(t, err)
	assert.Equal(t, MaxLineQuantity, line.Quantity)

	_, _, err = po.AddLine(x, 1)
	requireKind(t, err, apperr.KindQuantityExceeded)
	assert.Equal(t, MaxLineQuantity, po.LineItems[0].Quantity)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(10000)))
}

func TestAddLineRejectsOutOfRangeQuantity(t *testing.T) {
	po := newTestPO("AcmeValves")
	for _, qty := range []int{0, -1, 10001} {
		_, _, err := po.AddLine(item("X", "AcmeValves", 1), qty)
		requireKind(t, err, apperr.KindValidation)
	}
	assert.Empty(t, po.LineItems)
}

func TestAddLineRoundsUnitPrice(t *testing.T) {
	po := newTestPO("AcmeValves")
	x := ItemSnapshot{ItemID: "X", Supplier: "AcmeValves", UnitPrice: decimal.RequireFromString("10.005")}

	line, _, err := po.AddLine(x, 3)
	require.NoError(t, err)
	assert.Equal(t, "10.01", line.UnitPrice.String())
	assert.Equal(t, "30.03", po.TotalAmount.String())
	assertTotalInvariant(t, po)
}

func TestAddLineRejectsInvalidUnitPrice(t *testing.T) {
	po := newTestPO("AcmeValves")
	for _, price := range []string{"-0.01", "-0.001", "10000000000"} {
		x := ItemSnapshot{ItemID: "X", Supplier: "AcmeValves", UnitPrice: decimal.RequireFromString(price)}
		_, _, err := po.AddLine(x, 1)
		requireKind(t, err, apperr.KindValidation)
	}
	assert.Empty(t, po.LineItems)
	assert.True(t, po.TotalAmount.IsZero())

	_, _, err := po.AddLine(ItemSnapshot{ItemID: "X", Supplier: "AcmeValves", UnitPrice: MaxUnitPrice}, 1)
	require.NoError(t, err)
}

// 总额列要能容纳若干条满额行
func TestTotalAmountColumnHoldsMaxLines(t *testing.T) {
	s, err := schema.Parse(&PurchaseOrder{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := s.LookUpField("TotalAmount")
	require.NotNil(t, field)

	var precision, scale int
	_, err = fmt.Sscanf(field.TagSettings["TYPE"], "decimal(%d,%d)", &precision, &scale)
	require.NoError(t, err)
	require.Equal(t, 2, scale)

	po := newTestPO("AcmeValves")
	for i := 0; i < 100; i++ {
		x := ItemSnapshot{ItemID: fmt.Sprintf("X-%d", i), Supplier: "AcmeValves", UnitPrice: MaxUnitPrice}
		_, _, err := po.AddLine(x, MaxLineQuantity)
		require.NoError(t, err)
	}
	intDigits := len(po.TotalAmount.Truncate(0).String())
	assert.LessOrEqual(t, intDigits, precision-scale, "total %s overflows decimal(%d,%d)", po.TotalAmount, precision, scale)
}

func TestRemoveLastLineReleasesSupplierLock(t *testing.T) {
	po := newTestPO("AcmeValves")
	line, _, err := po.AddLine(item("X", "AcmeValves", 10), 1)
	require.NoError(t, err)
	lineID := line.ID

	removed, err := po.RemoveLine(lineID)
	require.NoError(t, err)
	assert.Equal(t, lineID, removed.ID)
	assert.False(t, po.SupplierLocked)
	assert.True(t, po.TotalAmount.IsZero())

	_, _, err = po.AddLine(item("Y", "BetaPumps", 7), 2)
	require.NoError(t, err)
	assert.Equal(t, "BetaPumps", po.Supplier)
	assert.True(t, po.SupplierLocked)
	assertTotalInvariant(t, po)
}

func TestRemoveLineKeepsLockWhileLinesRemain(t *testing.T) {
	po := newTestPO("AcmeValves")
	a, _, _ := po.AddLine(item("A", "AcmeValves", 10), 1)
	aID := a.ID
	_, _, err := po.AddLine(item("B", "AcmeValves", 20), 1)
	require.NoError(t, err)

	_, err = po.RemoveLine(aID)
	require.NoError(t, err)
	assert.True(t, po.SupplierLocked)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(20)))

	_, err = po.RemoveLine("missing")
	requireKind(t, err, apperr.KindNotFound)
}

func TestSetLineQuantity(t *testing.T) {
	po := newTestPO("AcmeValves")
	line, _, _ := po.AddLine(item("X", "AcmeValves", 120), 3)
	lineID := line.ID

	updated, err := po.SetLineQuantity(lineID, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Quantity)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(1200)))

	_, err = po.SetLineQuantity(lineID, 10001)
	requireKind(t, err, apperr.KindValidation)
	_, err = po.SetLineQuantity("other", 1)
	requireKind(t, err, apperr.KindNotFound)
	assert.True(t, po.TotalAmount.Equal(decimal.NewFromInt(1200)))
}

// Scenario C (aggregate part) and D
func TestSubmitFreezesLedger(t *testing.T) {
	po := newTestPO("AcmeValves")

	_, err := po.Transition(POStatusSubmitted, nil, "u1", testNow)
	requireKind(t, err, apperr.KindEmptyOrder)
	assert.Equal(t, POStatusDraft, po.CurrentStatus)
	assert.Len(t, po.StatusHistory, 1)

	line, _, _ := po.AddLine(item("X", "AcmeValves", 120), 1)
	lineID := line.ID
	entry, err := po.Transition(POStatusSubmitted, nil, "u1", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Seq)
	assert.Equal(t, POStatusSubmitted, po.CurrentStatus)
	require.Len(t, po.StatusHistory, 2)
	assert.Equal(t, POStatusDraft, po.StatusHistory[0].Status)
	assert.Equal(t, POStatusSubmitted, po.StatusHistory[1].Status)

	_, err = po.RemoveLine(lineID)
	requireKind(t, err, apperr.KindInvalidState)
	_, _, err = po.AddLine(item("X", "AcmeValves", 120), 1)
	requireKind(t, err, apperr.KindInvalidState)
	_, err = po.SetLineQuantity(lineID, 2)
	requireKind(t, err, apperr.KindInvalidState)
	cc := "CC-1"
	err = po.ApplyHeader(HeaderPatch{CostCenter: &cc})
	requireKind(t, err, apperr.KindInvalidState)
}

func TestTransitionWhitelist(t *testing.T) {
	allowed := map[POStatus]map[POStatus]bool{
		POStatusDraft:     {POStatusSubmitted: true},
		POStatusSubmitted: {POStatusApproved: true, POStatusRejected: true},
		POStatusApproved:  {POStatusFulfilled: true},
		POStatusRejected:  {},
		POStatusFulfilled: {},
	}

	for _, from := range AllPOStatuses {
		for _, to := range AllPOStatuses {
			po := newTestPO("AcmeValves")
			_, _, err := po.AddLine(item("X", "AcmeValves", 1), 1)
			require.NoError(t, err)
			po.CurrentStatus = from

			_, err = po.Transition(to, nil, "u1", testNow)
			if allowed[from][to] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, po.CurrentStatus)
			} else {
				requireKind(t, err, apperr.KindInvalidTransition)
				assert.Equal(t, from, po.CurrentStatus, "%s -> %s must not change status", from, to)
			}
		}
	}

	assert.True(t, POStatusRejected.IsTerminal())
	assert.True(t, POStatusFulfilled.IsTerminal())
	assert.False(t, POStatusSubmitted.IsTerminal())
	assert.False(t, POStatus("Cancelled").Valid())
	assert.Equal(t, []POStatus{POStatusApproved, POStatusRejected}, AllowedTransitions(POStatusSubmitted))
}

// Scenario E
func TestSubmittedCannotSkipToFulfilled(t *testing.T) {
	po := newTestPO("AcmeValves")
	_, _, _ = po.AddLine(item("X", "AcmeValves", 1), 1)
	_, err := po.Transition(POStatusSubmitted, nil, "u1", testNow)
	require.NoError(t, err)

	_, err = po.Transition(POStatusFulfilled, nil, "u1", testNow)
	requireKind(t, err, apperr.KindInvalidTransition)
	assert.Equal(t, POStatusSubmitted, po.CurrentStatus)
}

func TestTransitionNoteAndAnnotate(t *testing.T) {
	po := newTestPO("AcmeValves")
	_, _, _ = po.AddLine(item("X", "AcmeValves", 1), 1)
	note := "budget ok"
	_, err := po.Transition(POStatusSubmitted, nil, "u1", testNow)
	require.NoError(t, err)
	entry, err := po.Transition(POStatusApproved, &note, "u2", testNow.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, entry.Note)
	assert.Equal(t, "budget ok", *entry.Note)

	_, err = po.AnnotateStatus(POStatusApproved, "first")
	require.NoError(t, err)
	annotated, err := po.AnnotateStatus(POStatusApproved, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", *annotated.Note)
	assert.Equal(t, 3, annotated.Seq)

	_, err = po.AnnotateStatus(POStatusRejected, "x")
	requireKind(t, err, apperr.KindNotFound)
}

func TestApplyHeader(t *testing.T) {
	po := newTestPO("AcmeValves")
	date := "2026-04-01"
	requestor := "M.Chen"
	require.NoError(t, po.ApplyHeader(HeaderPatch{Requestor: &requestor, NeededByDate: &date}))
	assert.Equal(t, "M.Chen", po.Requestor)
	require.NotNil(t, po.NeededByDate)
	assert.Equal(t, "2026-04-01", *po.NeededByDate)

	clear := ""
	terms := ""
	require.NoError(t, po.ApplyHeader(HeaderPatch{NeededByDate: &clear, PaymentTerms: &terms}))
	assert.Nil(t, po.NeededByDate)
	assert.Equal(t, DefaultPaymentTerms, po.PaymentTerms)
	assert.True(t, HeaderPatch{}.IsEmpty())
}

func TestLedgerInvariantUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	po := newTestPO("AcmeValves")
	items := []ItemSnapshot{
		item("A", "AcmeValves", 120),
		item("B", "AcmeValves", 35),
		{ItemID: "C", Supplier: "AcmeValves", UnitPrice: decimal.RequireFromString("19.99")},
		item("Z", "BetaPumps", 80),
	}

	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			_, _, _ = po.AddLine(items[rng.Intn(len(items))], rng.Intn(3000)+1)
		case 1:
			if len(po.LineItems) > 0 {
				l := po.LineItems[rng.Intn(len(po.LineItems))]
				_, _ = po.SetLineQuantity(l.ID, rng.Intn(12000))
			}
		case 2:
			if len(po.LineItems) > 0 {
				l := po.LineItems[rng.Intn(len(po.LineItems))]
				_, _ = po.RemoveLine(l.ID)
			}
		}
		assertTotalInvariant(t, po)

		seen := map[string]bool{}
		for _, l := range po.LineItems {
			assert.False(t, seen[l.CatalogItemID], "duplicate line for %s", l.CatalogItemID)
			seen[l.CatalogItemID] = true
			assert.True(t, l.Quantity >= MinLineQuantity && l.Quantity <= MaxLineQuantity)
		}
	}
}
