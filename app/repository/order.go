package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luastore/ms-go-checkout/app/entity"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

type OrderFilter struct {
	OrderRef  string
	HasStatus bool
	Status    int32
	Provider  int32
	Limit     int32
	Offset    int32
}

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_ref, customer_name, customer_email, customer_phone, customer_tax_id,
		amount_cents, currency, status, provider,
		provider_reference, checkout_url, pix_code, pix_code_image,
		callback_hash, expires_at, paid_at, metadata_json,
		created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	metadataJSON, err := serializeMetadata(order.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (
			order_ref, customer_name, customer_email, customer_phone, customer_tax_id,
			amount_cents, currency, status, provider,
			provider_reference, checkout_url, pix_code, pix_code_image,
			callback_hash, expires_at, paid_at, metadata_json,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		order.OrderRef,
		order.CustomerName,
		order.CustomerEmail,
		nullableStringValue(order.CustomerPhone),
		nullableStringValue(order.CustomerTaxID),
		order.AmountCents,
		order.Currency,
		order.Status,
		order.Provider,
		nullableStringValue(order.ProviderReference),
		nullableStringValue(order.CheckoutURL),
		nullableStringValue(order.PixCode),
		nullableStringValue(order.PixCodeImageBase64),
		order.CallbackHash,
		nullableTimeValue(order.ExpiresAt),
		nullableTimeValue(order.PaidAt),
		metadataJSON,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOrderAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(id)

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		itemResult, err := r.db.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_ref, name, quantity, unit_price_cents)
			VALUES (?, ?, ?, ?, ?)
		`, item.OrderID, item.ProductRef, item.Name, item.Quantity, item.UnitPriceCents)
		if err != nil {
			return err
		}
		itemID, err := itemResult.LastInsertId()
		if err != nil {
			return err
		}
		item.ID = uint64(itemID)
	}

	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	metadataJSON, err := serializeMetadata(order.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders SET
			customer_name = ?,
			customer_email = ?,
			customer_phone = ?,
			customer_tax_id = ?,
			amount_cents = ?,
			currency = ?,
			status = ?,
			provider = ?,
			provider_reference = ?,
			checkout_url = ?,
			pix_code = ?,
			pix_code_image = ?,
			expires_at = ?,
			paid_at = ?,
			metadata_json = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		order.CustomerName,
		order.CustomerEmail,
		nullableStringValue(order.CustomerPhone),
		nullableStringValue(order.CustomerTaxID),
		order.AmountCents,
		order.Currency,
		order.Status,
		order.Provider,
		nullableStringValue(order.ProviderReference),
		nullableStringValue(order.CheckoutURL),
		nullableStringValue(order.PixCode),
		nullableStringValue(order.PixCodeImageBase64),
		nullableTimeValue(order.ExpiresAt),
		nullableTimeValue(order.PaidAt),
		metadataJSON,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// CompareAndSwapStatus transitions an order to a new status only if its
// current status is still one of the expected values. The condition
// lives in the UPDATE itself, so two concurrent webhook deliveries
// cannot both win.
func (r *OrderRepository) CompareAndSwapStatus(ctx context.Context, orderID uint64, from []int32, to int32, paidAt *time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("compare and swap requires at least one expected status")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := fmt.Sprintf(`
		UPDATE orders SET
			status = ?,
			paid_at = COALESCE(?, paid_at),
			updated_at = ?
		WHERE id = ? AND status IN (%s)
	`, placeholders)

	args := make([]interface{}, 0, len(from)+4)
	args = append(args, to, nullableTimeValue(paidAt), time.Now().UTC(), orderID)
	for _, status := range from {
		args = append(args, status)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, id), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByOrderRef(ctx context.Context, orderRef string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_ref = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, orderRef), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByProviderReference(ctx context.Context, provider int32, providerReference string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE provider = ? AND provider_reference = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, provider, providerReference), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.OrderRef) != "" {
		conditions = append(conditions, "order_ref = ?")
		args = append(args, filter.OrderRef)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Provider > 0 {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadItemsForAll(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// ListStaleAwaitingPayment feeds the expiry job: orders still waiting
// on payment whose charge expiry or creation cutoff has passed.
func (r *OrderRepository) ListStaleAwaitingPayment(ctx context.Context, awaitingStatuses []int32, expiresBefore, createdBefore time.Time, limit int32) ([]*entity.Order, error) {
	if len(awaitingStatuses) == 0 {
		return []*entity.Order{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(awaitingStatuses)), ", ")
	query := fmt.Sprintf(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN (%s)
		  AND (
			(expires_at IS NOT NULL AND expires_at <= ?)
			OR (expires_at IS NULL AND created_at <= ?)
		  )
		ORDER BY created_at ASC
		LIMIT ?
	`, placeholders)

	args := make([]interface{}, 0, len(awaitingStatuses)+3)
	for _, status := range awaitingStatuses {
		args = append(args, status)
	}
	args = append(args, expiresBefore, createdBefore, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadItemsForAll(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// ListForReconcile returns non-terminal orders with a provider
// reference that have not been touched since the given instant.
func (r *OrderRepository) ListForReconcile(ctx context.Context, openStatuses []int32, before time.Time, limit int32) ([]*entity.Order, error) {
	if len(openStatuses) == 0 {
		return []*entity.Order{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(openStatuses)), ", ")
	query := fmt.Sprintf(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN (%s)
		  AND provider_reference IS NOT NULL
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, placeholders)

	args := make([]interface{}, 0, len(openStatuses)+2)
	for _, status := range openStatuses {
		args = append(args, status)
	}
	args = append(args, before, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadItemsForAll(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

func collectOrders(rows *sql.Rows) ([]*entity.Order, error) {
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item, err := scanOrderFromRows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// loadItemsForAll runs after the order rows are fully consumed, so the
// item queries never overlap an open result set on the same connection.
func (r *OrderRepository) loadItemsForAll(ctx context.Context, orders []*entity.Order) error {
	for _, order := range orders {
		if err := r.loadItems(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, order *entity.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_ref, name, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = ?
		ORDER BY id ASC
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	items := make([]entity.OrderItem, 0)
	for rows.Next() {
		var item entity.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductRef, &item.Name, &item.Quantity, &item.UnitPriceCents); err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	order.Items = items
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var customerPhone sql.NullString
	var customerTaxID sql.NullString
	var providerReference sql.NullString
	var checkoutURL sql.NullString
	var pixCode sql.NullString
	var pixCodeImage sql.NullString
	var expiresAt sql.NullTime
	var paidAt sql.NullTime
	var metadataJSON string

	err := scan.Scan(
		&order.ID,
		&order.OrderRef,
		&order.CustomerName,
		&order.CustomerEmail,
		&customerPhone,
		&customerTaxID,
		&order.AmountCents,
		&order.Currency,
		&order.Status,
		&order.Provider,
		&providerReference,
		&checkoutURL,
		&pixCode,
		&pixCodeImage,
		&order.CallbackHash,
		&expiresAt,
		&paidAt,
		&metadataJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.CustomerPhone = stringPtrFromNull(customerPhone)
	order.CustomerTaxID = stringPtrFromNull(customerTaxID)
	order.ProviderReference = stringPtrFromNull(providerReference)
	order.CheckoutURL = stringPtrFromNull(checkoutURL)
	order.PixCode = stringPtrFromNull(pixCode)
	order.PixCodeImageBase64 = stringPtrFromNull(pixCodeImage)
	order.ExpiresAt = timePtrFromNull(expiresAt)
	order.PaidAt = timePtrFromNull(paidAt)

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return err
	}
	order.Metadata = metadata

	return nil
}

func scanOrderFromRows(rows *sql.Rows) (*entity.Order, error) {
	item := &entity.Order{}
	if err := scanOrder(rows, item); err != nil {
		return nil, err
	}
	return item, nil
}
