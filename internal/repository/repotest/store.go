// Package repotest provides an in-memory implementation of the repository
// interfaces for tests. Transactions are serialized by a single mutex and a
// transaction that returns an error leaves no trace.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"farmstore/internal/domain/model"
	repo "farmstore/internal/repository"

	"gorm.io/gorm"
)

type state struct {
	products map[int64]model.Product
	orders   map[int64]model.Order
	items    map[int64][]model.OrderItem
	logs     []model.InventoryLogEntry
	audits   []model.AuditLog

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
	nextLogID     int64
	nextAuditID   int64
}

func (s *state) clone() state {
	c := *s
	c.products = make(map[int64]model.Product, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.orders = make(map[int64]model.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.items = make(map[int64][]model.OrderItem, len(s.items))
	for k, v := range s.items {
		c.items[k] = append([]model.OrderItem(nil), v...)
	}
	c.logs = append([]model.InventoryLogEntry(nil), s.logs...)
	c.audits = append([]model.AuditLog(nil), s.audits...)
	return c
}

// Store implements repository.TransactionManager in memory.
type Store struct {
	mu       sync.Mutex
	st       state
	failures map[string]error
}

func NewStore() *Store {
	return &Store{
		st: state{
			products: map[int64]model.Product{},
			orders:   map[int64]model.Order{},
			items:    map[int64][]model.OrderItem{},
		},
		failures: map[string]error{},
	}
}

// Fail makes every later call of op return err until Recover is called.
// Ops: products.update_counters, products.find_for_update, orders.create,
// orders.update_lifecycle, order_items.create_bulk, inventory_logs.append, audit_logs.create.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) Recover(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	if err := fn(&txRepos{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Products returns a repository usable outside a transaction.
func (s *Store) Products() repo.ProductRepository {
	return &lockedProducts{s: s}
}

// Seed inserts p as is and returns it with its ID.
func (s *Store) Seed(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextProductID++
	p.ID = s.st.nextProductID
	s.st.products[p.ID] = p
	return p
}

// SoftDelete marks a product deleted the way gorm does.
func (s *Store) SoftDelete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[id]
	p.DeletedAt = gorm.DeletedAt{Valid: true}
	s.st.products[id] = p
}

func (s *Store) Product(id int64) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

func (s *Store) Order(id int64) (model.Order, []model.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id], append([]model.OrderItem(nil), s.st.items[id]...)
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

// Logs returns the product's inventory log oldest first.
func (s *Store) Logs(productID int64) []model.InventoryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.InventoryLogEntry
	for _, e := range s.st.logs {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.st.audits...)
}

type txRepos struct {
	s *Store
}

func (r *txRepos) Orders() repo.OrderRepository               { return &orders{s: r.s} }
func (r *txRepos) OrderItems() repo.OrderItemRepository       { return &orderItems{s: r.s} }
func (r *txRepos) Products() repo.ProductRepository           { return &products{s: r.s} }
func (r *txRepos) InventoryLogs() repo.InventoryLogRepository { return &inventoryLogs{s: r.s} }
func (r *txRepos) AuditLogs() repo.AuditLogRepository         { return &auditLogs{s: r.s} }

// products assumes the store mutex is held.
type products struct {
	s *Store
}

func (r *products) ListPublic(_ context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	var all []model.Product
	for _, p := range r.s.st.products {
		if !p.IsActive || p.DeletedAt.Valid {
			continue
		}
		if q.Q != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Q)) {
			continue
		}
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		all = append(all, p)
	}

	sort.Slice(all, func(i, j int) bool {
		switch q.Sort {
		case "price_asc":
			if all[i].Price != all[j].Price {
				return all[i].Price < all[j].Price
			}
			return all[i].ID < all[j].ID
		case "price_desc":
			if all[i].Price != all[j].Price {
				return all[i].Price > all[j].Price
			}
			return all[i].ID > all[j].ID
		case "name":
			if all[i].Name != all[j].Name {
				return all[i].Name < all[j].Name
			}
			return all[i].ID < all[j].ID
		default:
			return all[i].ID > all[j].ID
		}
	})
	return page(all, q.Page, q.Limit), int64(len(all)), nil
}

func (r *products) FindByID(_ context.Context, id int64) (model.Product, error) {
	p, ok := r.s.st.products[id]
	if !ok || p.DeletedAt.Valid {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *products) FindByIDForUpdate(_ context.Context, id int64) (model.Product, error) {
	if err := r.s.fail("products.find_for_update"); err != nil {
		return model.Product{}, err
	}
	p, ok := r.s.st.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *products) Create(_ context.Context, p model.Product) (model.Product, error) {
	r.s.st.nextProductID++
	p.ID = r.s.st.nextProductID
	r.s.st.products[p.ID] = p
	return p, nil
}

func (r *products) UpdateCounters(_ context.Context, id int64, stockQuantity int64, preorderCount int64) error {
	if err := r.s.fail("products.update_counters"); err != nil {
		return err
	}
	p, ok := r.s.st.products[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.StockQuantity = stockQuantity
	p.PreorderCount = preorderCount
	r.s.st.products[id] = p
	return nil
}

type lockedProducts struct {
	s *Store
}

func (r *lockedProducts) inner() *products { return &products{s: r.s} }

func (r *lockedProducts) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.inner().ListPublic(ctx, q)
}

func (r *lockedProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.inner().FindByID(ctx, id)
}

func (r *lockedProducts) FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.inner().FindByIDForUpdate(ctx, id)
}

func (r *lockedProducts) Create(ctx context.Context, p model.Product) (model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.inner().Create(ctx, p)
}

func (r *lockedProducts) UpdateCounters(ctx context.Context, id int64, stockQuantity int64, preorderCount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.inner().UpdateCounters(ctx, id, stockQuantity, preorderCount)
}

type orders struct {
	s *Store
}

func (r *orders) FindByID(_ context.Context, id int64) (model.Order, error) {
	o, ok := r.s.st.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *orders) FindByIDForUpdate(ctx context.Context, id int64) (model.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *orders) Create(_ context.Context, o model.Order) (int64, error) {
	if err := r.s.fail("orders.create"); err != nil {
		return 0, err
	}
	for _, ex := range r.s.st.orders {
		if ex.OrderNumber == o.OrderNumber {
			return 0, repo.ErrDuplicate
		}
		if o.IdempotencyKey != nil && ex.IdempotencyKey != nil && *ex.IdempotencyKey == *o.IdempotencyKey {
			return 0, repo.ErrDuplicate
		}
	}
	r.s.st.nextOrderID++
	o.ID = r.s.st.nextOrderID
	o.Items = nil
	r.s.st.orders[o.ID] = o
	return o.ID, nil
}

func (r *orders) UpdateLifecycle(_ context.Context, o model.Order) error {
	if err := r.s.fail("orders.update_lifecycle"); err != nil {
		return err
	}
	cur, ok := r.s.st.orders[o.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Status = o.Status
	cur.PaidAt = o.PaidAt
	cur.PaymentReference = o.PaymentReference
	cur.StockReleased = o.StockReleased
	cur.UpdatedAt = o.UpdatedAt
	r.s.st.orders[o.ID] = cur
	return nil
}

func (r *orders) FindByIdempotencyKey(_ context.Context, key string) (model.Order, bool, error) {
	for _, o := range r.s.st.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r *orders) ListAdmin(_ context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	var all []model.Order
	for _, o := range r.s.st.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.Email != "" && o.CustomerEmail != f.Email {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, f.Page, f.Limit), int64(len(all)), nil
}

type orderItems struct {
	s *Store
}

func (r *orderItems) CreateBulk(_ context.Context, orderID int64, items []model.OrderItem) error {
	if err := r.s.fail("order_items.create_bulk"); err != nil {
		return err
	}
	for _, it := range items {
		r.s.st.nextItemID++
		it.ID = r.s.st.nextItemID
		it.OrderID = orderID
		r.s.st.items[orderID] = append(r.s.st.items[orderID], it)
	}
	return nil
}

func (r *orderItems) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderItem, error) {
	return append([]model.OrderItem(nil), r.s.st.items[orderID]...), nil
}

type inventoryLogs struct {
	s *Store
}

func (r *inventoryLogs) Append(_ context.Context, e *model.InventoryLogEntry) error {
	if err := r.s.fail("inventory_logs.append"); err != nil {
		return err
	}
	r.s.st.nextLogID++
	e.ID = r.s.st.nextLogID
	r.s.st.logs = append(r.s.st.logs, *e)
	return nil
}

func (r *inventoryLogs) ListByProduct(_ context.Context, f repo.InventoryLogFilter) ([]model.InventoryLogEntry, error) {
	var out []model.InventoryLogEntry
	for _, e := range r.s.st.logs {
		if e.ProductID == f.ProductID {
			out = append(out, e)
		}
	}
	if f.Offset >= len(out) {
		return []model.InventoryLogEntry{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type auditLogs struct {
	s *Store
}

func (r *auditLogs) Create(_ context.Context, l model.AuditLog) error {
	if err := r.s.fail("audit_logs.create"); err != nil {
		return err
	}
	r.s.st.nextAuditID++
	l.ID = r.s.st.nextAuditID
	r.s.st.audits = append(r.s.st.audits, l)
	return nil
}

func (r *auditLogs) List(_ context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	var out []model.AuditLog
	for i := len(r.s.st.audits) - 1; i >= 0; i-- {
		l := r.s.st.audits[i]
		if f.ActorID != "" && l.ActorID != f.ActorID {
			continue
		}
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		if f.ResourceType != nil && l.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != nil && l.ResourceID != *f.ResourceID {
			continue
		}
		out = append(out, l)
	}
	if f.Offset >= len(out) {
		return []model.AuditLog{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func page[T any](all []T, p, limit int) []T {
	if p < 1 || limit < 1 {
		return all
	}
	start := (p - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	end := min(start+limit, len(all))
	return all[start:end]
}
