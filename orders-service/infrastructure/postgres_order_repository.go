package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/models"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *sqlx.DB
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// postgresOrder represents order in database
type postgresOrder struct {
	ID                  string     `db:"id"`
	StoreID             string     `db:"store_id"`
	CustomerID          string     `db:"customer_id"`
	Currency            string     `db:"currency"`
	FinancialStatus     string     `db:"financial_status"`
	FulfillmentStatus   string     `db:"fulfillment_status"`
	ShippingAddress     []byte     `db:"shipping_address"`
	Subtotal            int64      `db:"subtotal"`
	Shipping            int64      `db:"shipping"`
	Tax                 int64      `db:"tax"`
	Total               int64      `db:"total"`
	Refunded            int64      `db:"refunded"`
	ReservationID       *string    `db:"reservation_id"`
	PaymentIntentID     *string    `db:"payment_intent_id"`
	CancelReason        *string    `db:"cancel_reason"`
	CancelledAt         *time.Time `db:"cancelled_at"`
	NeedsReconciliation bool       `db:"needs_reconciliation"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	Version             int        `db:"version"`
	PersistedVersion    int        `db:"persisted_version"`
}

type postgresLineItem struct {
	OrderID   string  `db:"order_id"`
	Position  int     `db:"position"`
	ProductID string  `db:"product_id"`
	VariantID *string `db:"variant_id"`
	Quantity  int     `db:"quantity"`
	UnitPrice int64   `db:"unit_price"`
}

type postgresHistoryEntry struct {
	ID                  string    `db:"id"`
	OrderID             string    `db:"order_id"`
	PreviousFinancial   string    `db:"previous_financial_status"`
	NewFinancial        string    `db:"new_financial_status"`
	PreviousFulfillment string    `db:"previous_fulfillment_status"`
	NewFulfillment      string    `db:"new_fulfillment_status"`
	Actor               string    `db:"actor"`
	Reason              *string   `db:"reason"`
	CreatedAt           time.Time `db:"created_at"`
}

type postgresRefund struct {
	ID               string    `db:"id"`
	OrderID          string    `db:"order_id"`
	Amount           int64     `db:"amount"`
	Currency         string    `db:"currency"`
	Reason           *string   `db:"reason"`
	ProviderRefundID *string   `db:"provider_refund_id"`
	CreatedAt        time.Time `db:"created_at"`
}

const selectOrderQuery = `
	SELECT id, store_id, customer_id, currency, financial_status, fulfillment_status,
		   shipping_address, subtotal, shipping, tax, total, refunded, reservation_id,
		   payment_intent_id, cancel_reason, cancelled_at, needs_reconciliation,
		   created_at, updated_at, version
	FROM orders
	WHERE id = $1`

// Save writes the order together with its pending history entries and refunds
// in one transaction. A new order is inserted; a loaded one is updated only if
// nobody else wrote it since it was read.
func (r *PostgresOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	pgOrder, err := r.toPostgres(order)
	if err != nil {
		return err
	}

	if order.PersistedVersion() == 0 {
		if err := r.insertOrder(ctx, tx, pgOrder); err != nil {
			return err
		}
		if err := r.insertLineItems(ctx, tx, order); err != nil {
			return err
		}
	} else if err := r.updateOrder(ctx, tx, pgOrder); err != nil {
		return err
	}

	for _, entry := range order.PendingHistory() {
		if err := r.insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	for _, refund := range order.PendingRefunds() {
		if err := r.insertRefund(ctx, tx, refund); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit order")
	}
	order.MarkPersisted()
	return nil
}

func (r *PostgresOrderRepository) insertOrder(ctx context.Context, tx *sqlx.Tx, pgOrder *postgresOrder) error {
	query := `
		INSERT INTO orders (
			id, store_id, customer_id, currency, financial_status, fulfillment_status,
			shipping_address, subtotal, shipping, tax, total, refunded, reservation_id,
			payment_intent_id, cancel_reason, cancelled_at, needs_reconciliation,
			created_at, updated_at, version
		) VALUES (
			:id, :store_id, :customer_id, :currency, :financial_status, :fulfillment_status,
			:shipping_address, :subtotal, :shipping, :tax, :total, :refunded, :reservation_id,
			:payment_intent_id, :cancel_reason, :cancelled_at, :needs_reconciliation,
			:created_at, :updated_at, :version
		)
		ON CONFLICT (id) DO NOTHING`

	result, err := tx.NamedExecContext(ctx, query, pgOrder)
	if err != nil {
		return errors.Wrap(err, "failed to insert order")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to insert order")
	}
	if rows == 0 {
		return errors.Wrapf(domain.ErrOrderExists, "order %s", pgOrder.ID)
	}
	return nil
}

func (r *PostgresOrderRepository) insertLineItems(ctx context.Context, tx *sqlx.Tx, order *domain.Order) error {
	query := `
		INSERT INTO order_line_items (order_id, position, product_id, variant_id, quantity, unit_price)
		VALUES (:order_id, :position, :product_id, :variant_id, :quantity, :unit_price)`

	for i, item := range order.Items {
		row := postgresLineItem{
			OrderID:   order.ID.String(),
			Position:  i,
			ProductID: item.ProductID,
			VariantID: nullable(item.VariantID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Amount,
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return errors.Wrapf(err, "failed to insert line item %d", i)
		}
	}
	return nil
}

// updateOrder is the compare-and-swap on the version read by the caller
func (r *PostgresOrderRepository) updateOrder(ctx context.Context, tx *sqlx.Tx, pgOrder *postgresOrder) error {
	query := `
		UPDATE orders
		SET financial_status = :financial_status, fulfillment_status = :fulfillment_status,
			shipping = :shipping, tax = :tax, total = :total, refunded = :refunded,
			reservation_id = :reservation_id, payment_intent_id = :payment_intent_id,
			cancel_reason = :cancel_reason, cancelled_at = :cancelled_at,
			needs_reconciliation = :needs_reconciliation, updated_at = :updated_at, version = :version
		WHERE id = :id AND version = :persisted_version`

	result, err := tx.NamedExecContext(ctx, query, pgOrder)
	if err != nil {
		return errors.Wrap(err, "failed to update order")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update order")
	}
	if rows == 0 {
		return &domain.ConcurrentModificationError{
			OrderID:         models.ID(pgOrder.ID),
			ExpectedVersion: pgOrder.PersistedVersion,
		}
	}
	return nil
}

func (r *PostgresOrderRepository) insertHistory(ctx context.Context, tx *sqlx.Tx, entry domain.StatusHistoryEntry) error {
	query := `
		INSERT INTO order_status_history (
			id, order_id, previous_financial_status, new_financial_status,
			previous_fulfillment_status, new_fulfillment_status, actor, reason, created_at
		) VALUES (
			:id, :order_id, :previous_financial_status, :new_financial_status,
			:previous_fulfillment_status, :new_fulfillment_status, :actor, :reason, :created_at
		)`

	_, err := tx.NamedExecContext(ctx, query, postgresHistoryEntry{
		ID:                  entry.ID.String(),
		OrderID:             entry.OrderID.String(),
		PreviousFinancial:   entry.PreviousFinancial.String(),
		NewFinancial:        entry.NewFinancial.String(),
		PreviousFulfillment: entry.PreviousFulfillment.String(),
		NewFulfillment:      entry.NewFulfillment.String(),
		Actor:               entry.Actor,
		Reason:              nullable(entry.Reason),
		CreatedAt:           entry.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to insert status history")
	}
	return nil
}

func (r *PostgresOrderRepository) insertRefund(ctx context.Context, tx *sqlx.Tx, refund *domain.Refund) error {
	query := `
		INSERT INTO order_refunds (id, order_id, amount, currency, reason, provider_refund_id, created_at)
		VALUES (:id, :order_id, :amount, :currency, :reason, :provider_refund_id, :created_at)
		ON CONFLICT (id) DO NOTHING`

	result, err := tx.NamedExecContext(ctx, query, postgresRefund{
		ID:               refund.ID.String(),
		OrderID:          refund.OrderID.String(),
		Amount:           refund.Amount.Amount,
		Currency:         refund.Amount.Currency,
		Reason:           nullable(refund.Reason),
		ProviderRefundID: nullable(refund.ProviderRefundID),
		CreatedAt:        refund.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to insert refund")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to insert refund")
	}
	if rows == 0 {
		return errors.Wrapf(domain.ErrRefundRecorded, "refund %s", refund.ID)
	}
	return nil
}

// FindByID finds an order by ID. It returns nil, nil when there is none.
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	var pgOrder postgresOrder
	err := r.db.GetContext(ctx, &pgOrder, selectOrderQuery, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find order")
	}

	var items []postgresLineItem
	err = r.db.SelectContext(ctx, &items, `
		SELECT order_id, position, product_id, variant_id, quantity, unit_price
		FROM order_line_items
		WHERE order_id = $1
		ORDER BY position`, id.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to find line items")
	}

	return r.toDomain(&pgOrder, items)
}

// FindHistory returns the status history of an order, oldest first
func (r *PostgresOrderRepository) FindHistory(ctx context.Context, id models.ID) ([]domain.StatusHistoryEntry, error) {
	query := `
		SELECT id, order_id, previous_financial_status, new_financial_status,
			   previous_fulfillment_status, new_fulfillment_status, actor, reason, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id`

	var rows []postgresHistoryEntry
	if err := r.db.SelectContext(ctx, &rows, query, id.String()); err != nil {
		return nil, errors.Wrap(err, "failed to find status history")
	}

	history := make([]domain.StatusHistoryEntry, len(rows))
	for i, row := range rows {
		history[i] = domain.StatusHistoryEntry{
			ID:                  models.ID(row.ID),
			OrderID:             models.ID(row.OrderID),
			PreviousFinancial:   domain.FinancialStatus(row.PreviousFinancial),
			NewFinancial:        domain.FinancialStatus(row.NewFinancial),
			PreviousFulfillment: domain.FulfillmentStatus(row.PreviousFulfillment),
			NewFulfillment:      domain.FulfillmentStatus(row.NewFulfillment),
			Actor:               row.Actor,
			Reason:              value(row.Reason),
			CreatedAt:           row.CreatedAt,
		}
	}
	return history, nil
}

// toPostgres converts domain order to postgres model
func (r *PostgresOrderRepository) toPostgres(order *domain.Order) (*postgresOrder, error) {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode shipping address")
	}

	return &postgresOrder{
		ID:                  order.ID.String(),
		StoreID:             order.StoreID,
		CustomerID:          order.CustomerID,
		Currency:            order.Currency,
		FinancialStatus:     order.FinancialStatus.String(),
		FulfillmentStatus:   order.FulfillmentStatus.String(),
		ShippingAddress:     address,
		Subtotal:            order.Totals.Subtotal.Amount,
		Shipping:            order.Totals.Shipping.Amount,
		Tax:                 order.Totals.Tax.Amount,
		Total:               order.Totals.Total.Amount,
		Refunded:            order.Totals.Refunded.Amount,
		ReservationID:       nullable(order.ReservationID),
		PaymentIntentID:     nullable(order.PaymentIntentID),
		CancelReason:        nullable(order.CancelReason),
		CancelledAt:         order.CancelledAt,
		NeedsReconciliation: order.NeedsReconciliation,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
		Version:             order.Version.Value,
		PersistedVersion:    order.PersistedVersion(),
	}, nil
}

// toDomain converts postgres model to domain order
func (r *PostgresOrderRepository) toDomain(pgOrder *postgresOrder, items []postgresLineItem) (*domain.Order, error) {
	id, err := models.NewID(pgOrder.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	var address domain.Address
	if err := json.Unmarshal(pgOrder.ShippingAddress, &address); err != nil {
		return nil, errors.Wrap(err, "invalid shipping address")
	}

	currency := pgOrder.Currency
	lineItems := make([]domain.LineItem, len(items))
	for i, item := range items {
		lineItems[i] = domain.LineItem{
			ProductID: item.ProductID,
			VariantID: value(item.VariantID),
			Quantity:  item.Quantity,
			UnitPrice: models.NewMoney(item.UnitPrice, currency),
		}
	}

	order := &domain.Order{
		ID:                id,
		StoreID:           pgOrder.StoreID,
		CustomerID:        pgOrder.CustomerID,
		Currency:          currency,
		FinancialStatus:   domain.FinancialStatus(pgOrder.FinancialStatus),
		FulfillmentStatus: domain.FulfillmentStatus(pgOrder.FulfillmentStatus),
		Items:             lineItems,
		ShippingAddress:   address,
		Totals: domain.Totals{
			Subtotal: models.NewMoney(pgOrder.Subtotal, currency),
			Shipping: models.NewMoney(pgOrder.Shipping, currency),
			Tax:      models.NewMoney(pgOrder.Tax, currency),
			Total:    models.NewMoney(pgOrder.Total, currency),
			Refunded: models.NewMoney(pgOrder.Refunded, currency),
		},
		ReservationID:       value(pgOrder.ReservationID),
		PaymentIntentID:     value(pgOrder.PaymentIntentID),
		CancelReason:        value(pgOrder.CancelReason),
		CancelledAt:         pgOrder.CancelledAt,
		NeedsReconciliation: pgOrder.NeedsReconciliation,
		Timestamps: models.Timestamps{
			CreatedAt: pgOrder.CreatedAt,
			UpdatedAt: pgOrder.UpdatedAt,
		},
		Version: models.Version{Value: pgOrder.Version},
	}
	order.MarkPersisted()
	return order, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
