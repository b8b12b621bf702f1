package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"farmstore/internal/domain/model"
	"farmstore/internal/metrics"
	"farmstore/internal/repository/repotest"
	"farmstore/internal/usecase"
	"farmstore/internal/validator"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// 先頭6桁が毎回変わるID
type seqIDs struct {
	mu     sync.Mutex
	n      int64
	script []string
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.script) > 0 {
		id := g.script[0]
		g.script = g.script[1:]
		return id
	}
	g.n++
	return fmt.Sprintf("%06x-0000-4000-8000-000000000000", g.n)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []model.OrderNotification
}

func (r *recordingNotifier) Notify(_ context.Context, n model.OrderNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) All() []model.OrderNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OrderNotification(nil), r.got...)
}

type fixture struct {
	store    *repotest.Store
	clock    *fixedClock
	ids      *seqIDs
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	logs     *observer.ObservedLogs

	ledger   *usecase.InventoryLedger
	checkout *usecase.CheckoutUsecase
	orders   *usecase.OrderUsecase
	admin    *usecase.AdminOrderUsecase
	products *usecase.ProductUsecase
}

var testPricing = usecase.PricingPolicy{
	TaxBasisPoints: 1000,
	DeliveryFees: map[model.DeliveryMethod]int64{
		model.DeliveryLocalDelivery: 500,
		model.DeliveryShipping:      1200,
	},
}

func newFixture(t testing.TB) *fixture {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	f := &fixture{
		store:    repotest.NewStore(),
		clock:    newClock(),
		ids:      &seqIDs{},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
		logs:     logs,
	}
	f.ledger = usecase.NewInventoryLedger(f.store, f.clock, logger, f.metrics)
	f.checkout = usecase.NewCheckoutUsecase(f.store, f.ledger, validator.NewCheckoutValidator(), f.notifier, f.ids, f.clock, testPricing, logger, f.metrics)
	f.orders = usecase.NewOrderUsecase(f.store, f.ledger, f.notifier, f.ids, f.clock, logger, f.metrics)
	f.admin = usecase.NewAdminOrderUsecase(f.store)
	f.products = usecase.NewProductUsecase(f.store.Products(), f.store, f.clock, logger)
	return f
}

func (f *fixture) seed(name string, price, stock int64) model.Product {
	return f.store.Seed(model.Product{Name: name, Price: price, StockQuantity: stock, IsActive: true})
}

func (f *fixture) seedPreorder(name string, price, stock, limit int64) model.Product {
	return f.store.Seed(model.Product{
		Name:            name,
		Price:           price,
		StockQuantity:   stock,
		PreorderEnabled: true,
		PreorderLimit:   limit,
		IsActive:        true,
	})
}

func checkoutInput(lines ...usecase.CartLine) usecase.CheckoutInput {
	return usecase.CheckoutInput{
		Lines:          lines,
		Customer:       usecase.CustomerInput{Name: "Hanako", Email: "hanako@example.com", Phone: "090-1234-5678"},
		DeliveryMethod: model.DeliveryPickup,
	}
}

func line(productID, qty int64) usecase.CartLine {
	return usecase.CartLine{ProductID: productID, Quantity: qty}
}

var adminActor = model.Principal{ID: "admin-1", Name: "Admin", Role: model.RoleAdmin}
