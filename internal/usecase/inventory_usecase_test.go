package usecase_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"farmstore/internal/domain/model"
	"farmstore/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAdmit_FromStock(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)

	res, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.StockUnits)
	assert.Equal(t, int64(0), res.PreorderUnits)

	assert.Equal(t, int64(2), f.store.Product(p.ID).StockQuantity)
	logs := f.store.Logs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.InventoryChangeDecrement, logs[0].ChangeType)
	assert.Equal(t, int64(3), logs[0].Quantity)
	assert.Equal(t, int64(5), logs[0].PreviousQty)
	assert.Equal(t, int64(2), logs[0].NewQty)
	assert.Equal(t, model.InventorySourceCheckout, logs[0].Source)
}

func TestAdmit_SplitsIntoPreorder(t *testing.T) {
	f := newFixture(t)
	p := f.seedPreorder("Lamb box", 9000, 2, 5)

	res, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 4, AllowPreorder: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.StockUnits)
	assert.Equal(t, int64(2), res.PreorderUnits)

	got := f.store.Product(p.ID)
	assert.Equal(t, int64(0), got.StockQuantity)
	assert.Equal(t, int64(2), got.PreorderCount)

	logs := f.store.Logs(p.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, model.InventoryChangeDecrement, logs[0].ChangeType)
	assert.Equal(t, model.InventoryChangePreorder, logs[1].ChangeType)
	assert.Equal(t, int64(2), logs[1].Quantity)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Admissions.WithLabelValues("granted", "preorder")))
}

func TestAdmit_InsufficientIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	p := f.seedPreorder("Lamb box", 9000, 2, 1)

	_, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 4, AllowPreorder: true})
	require.ErrorIs(t, err, usecase.ErrInsufficientStock)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 409, he.Status)
	assert.Equal(t, usecase.CodeInsufficientStock, he.Code)
	assert.Equal(t, p.ID, he.ProductID)

	got := f.store.Product(p.ID)
	assert.Equal(t, int64(2), got.StockQuantity)
	assert.Equal(t, int64(0), got.PreorderCount)
	assert.Empty(t, f.store.Logs(p.ID))
}

func TestAdmit_PreorderNeedsOptIn(t *testing.T) {
	f := newFixture(t)
	p := f.seedPreorder("Lamb box", 9000, 1, 10)

	_, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 2})
	assert.ErrorIs(t, err, usecase.ErrInsufficientStock)
}

func TestAdmit_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)
	hidden := f.store.Seed(model.Product{Name: "Hidden", StockQuantity: 5})
	gone := f.seed("Gone", 100, 5)
	f.store.SoftDelete(gone.ID)

	tests := []struct {
		name string
		in   usecase.AdmitInput
	}{
		{"zero qty", usecase.AdmitInput{ProductID: p.ID, Quantity: 0}},
		{"negative qty", usecase.AdmitInput{ProductID: p.ID, Quantity: -1}},
		{"missing product", usecase.AdmitInput{ProductID: 999, Quantity: 1}},
		{"inactive product", usecase.AdmitInput{ProductID: hidden.ID, Quantity: 1}},
		{"deleted product", usecase.AdmitInput{ProductID: gone.ID, Quantity: 1}},
		{"bad source", usecase.AdmitInput{ProductID: p.ID, Quantity: 1, Source: "web"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Admit(context.Background(), tt.in)
			assert.ErrorIs(t, err, usecase.ErrValidation)
		})
	}
	assert.Equal(t, int64(5), f.store.Product(p.ID).StockQuantity)
}

// 在庫2に対してadmit(2)が同時に2本。成功は1本だけ。
func TestAdmit_ConcurrentSameProduct(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Honey", 1500, 2)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 2})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], usecase.ErrInsufficientStock)

	assert.Equal(t, int64(0), f.store.Product(p.ID).StockQuantity)
	logs := f.store.Logs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.InventoryChangeDecrement, logs[0].ChangeType)
	assert.Equal(t, int64(2), logs[0].Quantity)
}

func TestAdmit_NoOversellUnderContention(t *testing.T) {
	f := newFixture(t)
	const stock, limit = 17, 6
	p := f.seedPreorder("Beef share", 20000, stock, limit)

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		stockUnits    int64
		preorderUnits int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		qty := int64(i%4 + 1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: qty, AllowPreorder: true})
			if err != nil {
				assert.ErrorIs(t, err, usecase.ErrInsufficientStock)
				return
			}
			mu.Lock()
			stockUnits += res.StockUnits
			preorderUnits += res.PreorderUnits
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, stockUnits+preorderUnits, int64(stock+limit))
	got := f.store.Product(p.ID)
	assert.Equal(t, stock-stockUnits, got.StockQuantity)
	assert.Equal(t, preorderUnits, got.PreorderCount)
	assert.GreaterOrEqual(t, got.StockQuantity, int64(0))
	assert.LessOrEqual(t, got.PreorderCount, int64(limit))
}

func TestRelease_RestoresAndFloorsPreorder(t *testing.T) {
	f := newFixture(t)
	p := f.seedPreorder("Lamb box", 9000, 0, 5)
	_, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 2, AllowPreorder: true})
	require.NoError(t, err)

	got, err := f.ledger.Release(context.Background(), usecase.ReleaseInput{
		ProductID:     p.ID,
		StockUnits:    1,
		PreorderUnits: 5,
		Reason:        "recount",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.StockQuantity)
	assert.Equal(t, int64(0), got.PreorderCount)

	logs := f.store.Logs(p.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, model.InventoryChangeIncrement, logs[1].ChangeType)
	assert.Equal(t, model.InventoryChangePreorder, logs[2].ChangeType)
	assert.Equal(t, int64(-2), logs[2].Quantity, "only the applied delta is logged")
	assert.Equal(t, model.InventorySourceSystem, logs[2].Source)
}

func TestRelease_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)

	_, err := f.ledger.Release(context.Background(), usecase.ReleaseInput{ProductID: p.ID})
	assert.ErrorIs(t, err, usecase.ErrValidation)
	_, err = f.ledger.Release(context.Background(), usecase.ReleaseInput{ProductID: p.ID, StockUnits: -1})
	assert.ErrorIs(t, err, usecase.ErrValidation)
	_, err = f.ledger.Release(context.Background(), usecase.ReleaseInput{ProductID: 404, StockUnits: 1})
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestAdjust_SetsStockAndAudits(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)

	out, err := f.ledger.Adjust(context.Background(), usecase.AdjustInput{
		ProductID: p.ID,
		Quantity:  12,
		Note:      " weekly recount ",
		Actor:     adminActor,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), out.Product.StockQuantity)
	assert.Equal(t, model.InventoryChangeSet, out.LogEntry.ChangeType)
	assert.Equal(t, int64(5), out.LogEntry.PreviousQty)
	assert.Equal(t, int64(12), out.LogEntry.NewQty)
	assert.Equal(t, "weekly recount", out.LogEntry.Note)
	assert.Equal(t, model.InventorySourceAdmin, out.LogEntry.Source)
	assert.NotZero(t, out.LogEntry.ID)

	audits := f.store.AuditLogs()
	require.Len(t, audits, 1)
	assert.Equal(t, model.AuditActionUpdateStock, audits[0].Action)
	assert.Equal(t, "admin-1", audits[0].ActorID)
	assert.JSONEq(t, `{"stock_quantity":5}`, audits[0].BeforeJSON)
	assert.JSONEq(t, `{"stock_quantity":12}`, audits[0].AfterJSON)
}

func TestAdjust_Errors(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)

	_, err := f.ledger.Adjust(context.Background(), usecase.AdjustInput{ProductID: p.ID, Quantity: -1, Actor: adminActor})
	assert.ErrorIs(t, err, usecase.ErrValidation)

	_, err = f.ledger.Adjust(context.Background(), usecase.AdjustInput{ProductID: 999, Quantity: 1, Actor: adminActor})
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	_, err = f.ledger.Adjust(context.Background(), usecase.AdjustInput{ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, usecase.ErrUnauthorized)

	assert.Equal(t, int64(5), f.store.Product(p.ID).StockQuantity)
}

func TestLedger_StorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)
	f.store.Fail("inventory_logs.append", errors.New("disk full"))

	_, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 2})
	require.ErrorIs(t, err, usecase.ErrStorageUnavailable)
	he, _ := usecase.AsHTTPError(err)
	assert.Equal(t, 503, he.Status)

	assert.Equal(t, int64(5), f.store.Product(p.ID).StockQuantity, "counter update is rolled back with the failed log append")
}

func TestLedger_LowStockSignal(t *testing.T) {
	f := newFixture(t)
	p := f.store.Seed(model.Product{Name: "Milk", Price: 300, StockQuantity: 5, LowStockThreshold: 2, IsActive: true})
	label := strconv.FormatInt(p.ID, 10)

	_, err := f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.LowStock.WithLabelValues(label)))

	_, err = f.ledger.Admit(context.Background(), usecase.AdmitInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LowStock.WithLabelValues(label)))
	assert.Equal(t, 1, f.logs.FilterMessage("product at or below low stock threshold").Len())
}

func TestHistory_OldestFirst(t *testing.T) {
	f := newFixture(t)
	p := f.seed("Eggs", 400, 5)
	ctx := context.Background()

	_, err := f.ledger.Admit(ctx, usecase.AdmitInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.ledger.Adjust(ctx, usecase.AdjustInput{ProductID: p.ID, Quantity: 9, Actor: adminActor})
	require.NoError(t, err)

	entries, err := f.ledger.History(ctx, p.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.InventoryChangeDecrement, entries[0].ChangeType)
	assert.Equal(t, model.InventoryChangeSet, entries[1].ChangeType)

	_, err = f.ledger.History(ctx, 999, 0, 0)
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

// 任意の admit/release/adjust の列について、履歴を再生すると現在のカウンタに一致する
func TestLedger_AuditReplay_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()

		initial := rapid.Int64Range(0, 30).Draw(rt, "initial")
		p := f.seedPreorder("Box", 1000, initial, rapid.Int64Range(0, 20).Draw(rt, "limit"))

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				_, err := f.ledger.Admit(ctx, usecase.AdmitInput{
					ProductID:     p.ID,
					Quantity:      rapid.Int64Range(1, 10).Draw(rt, "qty"),
					AllowPreorder: rapid.Bool().Draw(rt, "allow"),
				})
				if err != nil && !errors.Is(err, usecase.ErrInsufficientStock) {
					rt.Fatalf("admit: %v", err)
				}
			case 1:
				stockUnits := rapid.Int64Range(0, 5).Draw(rt, "stock_units")
				preorderUnits := rapid.Int64Range(0, 5).Draw(rt, "preorder_units")
				if stockUnits == 0 && preorderUnits == 0 {
					continue
				}
				if _, err := f.ledger.Release(ctx, usecase.ReleaseInput{ProductID: p.ID, StockUnits: stockUnits, PreorderUnits: preorderUnits}); err != nil {
					rt.Fatalf("release: %v", err)
				}
			case 2:
				if _, err := f.ledger.Adjust(ctx, usecase.AdjustInput{
					ProductID: p.ID,
					Quantity:  rapid.Int64Range(0, 40).Draw(rt, "set"),
					Actor:     adminActor,
				}); err != nil {
					rt.Fatalf("adjust: %v", err)
				}
			}
		}

		got := f.store.Product(p.ID)
		stock, preorder := model.ReplayInventory(initial, 0, f.store.Logs(p.ID))
		if stock != got.StockQuantity || preorder != got.PreorderCount {
			rt.Fatalf("replay (%d,%d) != counters (%d,%d)", stock, preorder, got.StockQuantity, got.PreorderCount)
		}
		if got.StockQuantity < 0 || got.PreorderCount < 0 {
			rt.Fatalf("negative counters (%d,%d)", got.StockQuantity, got.PreorderCount)
		}
	})
}
