package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/store-backoffice/internal/domain/activity"
	"github.com/xenking/store-backoffice/internal/domain/auth"
	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/domain/invoice"
	"github.com/xenking/store-backoffice/internal/domain/stock"
)

const instrumentationName = "github.com/xenking/store-backoffice/internal/domain/order"

// Service places orders and changes existing ones. Each operation runs in a
// single unit of work and reports failures as *Error.
type Service struct {
	uow       UnitOfWork
	reader    catalog.Reader
	evaluator *coupon.Evaluator
	ledger    stock.Ledger
	sequencer *invoice.Sequencer
	policy    TransitionPolicy
	activity  activity.Recorder
	notifier  Notifier

	tracer trace.Tracer
	placed metric.Int64Counter
	failed metric.Int64Counter
	now    func() time.Time
}

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	series         string
	policy         TransitionPolicy
	now            func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithInvoiceSeries selects the invoice counter row.
func WithInvoiceSeries(series string) Option {
	return func(o *options) { o.series = series }
}

// WithTransitionPolicy sets the status transition policy.
func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithClock overrides the clock used for coupon windows and narratives.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewService creates a Service.
func NewService(uow UnitOfWork, rec activity.Recorder, notifier Notifier, opts ...Option) (*Service, error) {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed by checkout placement"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	failed, err := meter.Int64Counter("orders.failed",
		metric.WithDescription("Order operations that failed, by operation and kind"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}

	return &Service{
		uow:       uow,
		evaluator: coupon.NewEvaluator(o.now),
		sequencer: invoice.NewSequencer(o.series),
		policy:    o.policy,
		activity:  rec,
		notifier:  notifier,
		tracer:    o.tracerProvider.Tracer(instrumentationName),
		placed:    placed,
		failed:    failed,
		now:       o.now,
	}, nil
}

// PlaceOrder turns a cart into a committed order. Variants are locked and
// priced first, then the coupon is evaluated, stock is debited, an invoice
// code is allocated and the order is written. Nothing is visible unless all
// of it succeeds.
func (s *Service) PlaceOrder(ctx context.Context, req *PlaceRequest) (*Order, error) {
	const op = "place order"

	ctx, span := s.tracer.Start(ctx, "order.Place")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	lines := mergedLines(req.Lines)

	var placed *Order
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		if r, ok := req.Shipping.(RegisteredShipping); ok {
			if err := ownAddress(ctx, tx, r.AddressID, req.CustomerID); err != nil {
				return err
			}
		}

		snap, err := s.reader.Load(ctx, tx, catalogRequests(lines))
		if err != nil {
			return err
		}

		var discount *coupon.Discount
		if c, ok := req.Coupon.(AppliedCoupon); ok {
			discount, err = s.evaluator.Evaluate(ctx, tx, c.ID, couponLines(lines, snap), req.CustomerID)
			if err != nil {
				return err
			}
		}

		if err := s.ledger.Reserve(ctx, tx, movements(lines)); err != nil {
			return err
		}

		code, err := s.sequencer.Next(ctx, tx)
		if err != nil {
			return err
		}

		details, err := tx.VariantDetails(ctx, catalog.VariantIDs(catalogRequests(lines)))
		if err != nil {
			return errors.Wrap(err, "variant details")
		}

		o, err := Assemble(Draft{
			Request:  req,
			Lines:    lines,
			Snapshot: snap,
			Discount: discount,
			Invoice:  code,
			Details:  details,
		})
		if err != nil {
			return err
		}

		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		placed = o
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	lg := zctx.From(ctx)
	if req.DeclaredSubtotal.Valid && !req.DeclaredSubtotal.Decimal.Equal(placed.ItemSubtotal) {
		lg.Warn("Declared subtotal differs from computed subtotal",
			zap.String("invoice", placed.InvoiceCode),
			zap.Stringer("declared", req.DeclaredSubtotal.Decimal),
			zap.Stringer("computed", placed.ItemSubtotal),
		)
	}

	span.SetAttributes(
		attribute.Int64("order.id", placed.ID),
		attribute.String("order.invoice", placed.InvoiceCode),
		attribute.String("invoice.series", s.sequencer.Series()),
	)
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", placed.Payment.Method.String())))

	s.record(ctx, activity.Entry{
		SubjectType: activity.SubjectOrder,
		SubjectID:   placed.ID,
		Description: fmt.Sprintf("Order %s placed with %d line(s), total %s", placed.InvoiceCode, len(placed.Lines), placed.Total.StringFixed(2)),
	})
	s.notifier.OrderPlaced(context.WithoutCancel(ctx), placed)

	lg.Info("Order placed",
		zap.Int64("order_id", placed.ID),
		zap.String("invoice", placed.InvoiceCode),
		zap.Stringer("total", placed.Total),
	)
	return placed, nil
}

// ownAddress fails unless the saved address exists and belongs to the
// customer. Foreign addresses are reported as missing.
func ownAddress(ctx context.Context, tx Tx, id int64, customerID *int64) error {
	a, err := tx.ShippingAddress(ctx, id)
	if err != nil && !errors.Is(err, ErrAddressNotFound) {
		return errors.Wrapf(err, "shipping address %d", id)
	}
	if err != nil || customerID == nil || a.CustomerID != *customerID {
		return &ValidationError{Field: "shipping_id", Message: fmt.Sprintf("shipping address %d not found", id)}
	}
	return nil
}

// GetOrder returns the order with its lines and payment.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	const op = "get order"

	var o *Order
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return o, nil
}

// GetOrderByInvoice returns the order carrying the invoice code. A non-nil
// customerID restricts the lookup to that customer's orders.
func (s *Service) GetOrderByInvoice(ctx context.Context, code string, customerID *int64) (*Order, error) {
	const op = "get order by invoice"

	parsed, err := invoice.ParseCode(strings.TrimSpace(code))
	if err != nil {
		return nil, s.fail(ctx, op, &ValidationError{Field: "invoice", Message: err.Error()})
	}
	parsed.Prefix = strings.ToUpper(parsed.Prefix)

	var o *Order
	err = s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.GetOrderByInvoice(ctx, parsed.String()); err != nil {
			return err
		}
		if customerID != nil && (o.CustomerID == nil || *o.CustomerID != *customerID) {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return o, nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// OrderList is a page of orders plus per-status counts. The counts honour
// the customer and invoice filters but not the status filter.
type OrderList struct {
	Orders  []Order
	Summary map[Status]int
}

// ListOrders returns order headers with payments, newest first.
func (s *Service) ListOrders(ctx context.Context, f ListFilter) (*OrderList, error) {
	const op = "list orders"

	if f.Status != nil && !f.Status.Valid() {
		return nil, s.fail(ctx, op, &ValidationError{Field: "status", Message: "unknown order status"})
	}
	if f.CustomerID != nil && *f.CustomerID <= 0 {
		return nil, s.fail(ctx, op, &ValidationError{Field: "customer_id", Message: "must be a positive id"})
	}
	f.Invoice = strings.TrimSpace(f.Invoice)
	if f.Offset < 0 {
		return nil, s.fail(ctx, op, &ValidationError{Field: "offset", Message: "must not be negative"})
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}

	out := &OrderList{}
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if out.Orders, err = tx.ListOrders(ctx, f); err != nil {
			return errors.Wrap(err, "list orders")
		}
		if out.Summary, err = tx.StatusSummary(ctx, f); err != nil {
			return errors.Wrap(err, "status summary")
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return out, nil
}

// fail classifies err, records it on the current span and counters, and
// logs internal failures with full detail.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	e := classify(op, err)

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, e.Reason)
	s.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", e.Kind.String()),
	))

	lg := zctx.From(ctx)
	if e.Kind == KindInternal {
		lg.Error("Order operation failed", zap.String("op", op), zap.Error(err))
	} else {
		lg.Debug("Order operation rejected",
			zap.String("op", op),
			zap.String("reason", e.Reason),
			zap.Error(err),
		)
	}
	return e
}

// record hands an entry to the activity log. It never fails.
func (s *Service) record(ctx context.Context, e activity.Entry) {
	if e.Description == "" {
		return
	}
	e.ActorID = auth.ActorFromContext(ctx)
	e.CreatedAt = s.now()
	s.activity.Record(ctx, e)
}
