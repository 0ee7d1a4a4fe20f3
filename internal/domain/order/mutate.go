package order

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/store-backoffice/internal/domain/activity"
	"github.com/xenking/store-backoffice/internal/domain/catalog"
	"github.com/xenking/store-backoffice/internal/domain/stock"
)

type changeFunc func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error)

// change locks the order row, applies fn and commits. Lock order is the
// order row first, then any variants fn touches.
func (s *Service) change(ctx context.Context, op string, orderID int64, fn changeFunc) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Change",
		trace.WithAttributes(attribute.String("order.op", op), attribute.Int64("order.id", orderID)),
	)
	defer span.End()

	var (
		out   *Order
		entry activity.Entry
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if entry, err = fn(ctx, tx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	s.record(ctx, entry)
	return out, nil
}

// AddProduct adds a variant to an order, merging into the existing line for
// that variant. A merged line keeps its captured unit price unless the
// request overrides it.
func (s *Service) AddProduct(ctx context.Context, orderID int64, req *AddProductRequest) (*Order, error) {
	const op = "add product"
	if err := req.Validate(); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		if !o.Status.LinesMutable() {
			return activity.Entry{}, ErrLinesLocked
		}

		snap, err := s.reader.Load(ctx, tx, []catalog.Request{{
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  req.Quantity,
		}})
		if err != nil {
			return activity.Entry{}, err
		}
		if err := s.ledger.Reserve(ctx, tx, []stock.Movement{{VariantID: req.VariantID, Quantity: req.Quantity}}); err != nil {
			return activity.Entry{}, err
		}
		variant, _ := snap.Variant(req.VariantID)

		var delta decimal.Decimal
		if i := o.variantLineIndex(req.VariantID); i >= 0 {
			line := &o.Lines[i]
			before := line.Amount()
			line.Quantity += req.Quantity
			if req.UnitPrice.Valid {
				line.UnitPrice = req.UnitPrice.Decimal
			}
			delta = line.Amount().Sub(before)
			if err := tx.UpdateLine(ctx, *line); err != nil {
				return activity.Entry{}, errors.Wrap(err, "update line")
			}
		} else {
			line := Line{
				OrderID:   o.ID,
				ProductID: req.ProductID,
				VariantID: req.VariantID,
				Quantity:  req.Quantity,
				UnitPrice: variant.UnitPrice(),
			}
			if req.UnitPrice.Valid {
				line.UnitPrice = req.UnitPrice.Decimal
			}
			if err := tx.InsertLine(ctx, &line); err != nil {
				return activity.Entry{}, errors.Wrap(err, "insert line")
			}
			o.Lines = append(o.Lines, line)
			delta = line.Amount()
		}

		if err := s.settle(ctx, tx, o, delta); err != nil {
			return activity.Entry{}, err
		}
		return activity.Entry{
			SubjectType: activity.SubjectOrder,
			SubjectID:   o.ID,
			Description: fmt.Sprintf("Added %d x SKU %s to order %s, total changed by %s",
				req.Quantity, variant.Code, o.InvoiceCode, delta.StringFixed(2)),
		}, nil
	})
}

// UpdateLine changes a line's quantity and optionally its unit price. Stock
// moves by the quantity difference.
func (s *Service) UpdateLine(ctx context.Context, orderID, lineID int64, req *UpdateLineRequest) (*Order, error) {
	const op = "update line"
	if err := req.Validate(); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		if !o.Status.LinesMutable() {
			return activity.Entry{}, ErrLinesLocked
		}
		i := o.lineIndex(lineID)
		if i < 0 {
			return activity.Entry{}, ErrLineNotFound
		}
		line := &o.Lines[i]

		if err := s.ledger.Adjust(ctx, tx, line.VariantID, req.Quantity-line.Quantity); err != nil {
			return activity.Entry{}, err
		}

		before, prevQty := line.Amount(), line.Quantity
		line.Quantity = req.Quantity
		if req.UnitPrice.Valid {
			line.UnitPrice = req.UnitPrice.Decimal
		}
		delta := line.Amount().Sub(before)

		if err := tx.UpdateLine(ctx, *line); err != nil {
			return activity.Entry{}, errors.Wrap(err, "update line")
		}
		if err := s.settle(ctx, tx, o, delta); err != nil {
			return activity.Entry{}, err
		}
		return activity.Entry{
			SubjectType: activity.SubjectOrder,
			SubjectID:   o.ID,
			Description: fmt.Sprintf("Changed line %d of order %s from %d to %d unit(s), total changed by %s",
				lineID, o.InvoiceCode, prevQty, req.Quantity, delta.StringFixed(2)),
		}, nil
	})
}

// RemoveLine deletes a line and returns its quantity to stock.
func (s *Service) RemoveLine(ctx context.Context, orderID, lineID int64) (*Order, error) {
	const op = "remove line"

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		if !o.Status.LinesMutable() {
			return activity.Entry{}, ErrLinesLocked
		}
		i := o.lineIndex(lineID)
		if i < 0 {
			return activity.Entry{}, ErrLineNotFound
		}
		if len(o.Lines) == 1 {
			return activity.Entry{}, ErrLastLine
		}
		line := o.Lines[i]

		if err := s.ledger.Release(ctx, tx, []stock.Movement{{VariantID: line.VariantID, Quantity: line.Quantity}}); err != nil {
			return activity.Entry{}, err
		}
		if err := tx.DeleteLine(ctx, line.ID); err != nil {
			return activity.Entry{}, errors.Wrap(err, "delete line")
		}
		o.Lines = slices.Delete(o.Lines, i, i+1)

		delta := line.Amount().Neg()
		if err := s.settle(ctx, tx, o, delta); err != nil {
			return activity.Entry{}, err
		}
		return activity.Entry{
			SubjectType: activity.SubjectOrder,
			SubjectID:   o.ID,
			Description: fmt.Sprintf("Removed line %d (%d unit(s)) from order %s, total changed by %s",
				line.ID, line.Quantity, o.InvoiceCode, delta.StringFixed(2)),
		}, nil
	})
}

// settle applies a line amount change to the order totals and the payment,
// regenerates the description and saves both rows.
func (s *Service) settle(ctx context.Context, tx Tx, o *Order, delta decimal.Decimal) error {
	if err := o.applyDelta(delta); err != nil {
		return err
	}

	details, err := tx.VariantDetails(ctx, o.VariantIDs())
	if err != nil {
		return errors.Wrap(err, "variant details")
	}
	o.Description = Describe(o.Lines, details)

	if err := tx.UpdateOrder(ctx, o); err != nil {
		return errors.Wrap(err, "update order")
	}
	if err := tx.UpdatePayment(ctx, o.Payment); err != nil {
		return errors.Wrap(err, "update payment")
	}
	return nil
}

// ChangeStatus moves the order to another status and appends the narrative.
func (s *Service) ChangeStatus(ctx context.Context, orderID int64, to Status) (*Order, error) {
	const op = "change status"
	if !to.Valid() {
		return nil, s.fail(ctx, op, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %d", int(to))})
	}

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		if err := s.policy.Check(o.Status, to); err != nil {
			return activity.Entry{}, err
		}

		line := Narrative(o.InvoiceCode, o.Status, to, s.now())
		o.Status = to
		o.StatusNarrative = appendNarrative(o.StatusNarrative, line)

		if err := tx.UpdateOrder(ctx, o); err != nil {
			return activity.Entry{}, errors.Wrap(err, "update order")
		}
		return activity.Entry{SubjectType: activity.SubjectOrder, SubjectID: o.ID, Description: line}, nil
	})
}

// SetPaidAmount records how much of the payment was received.
func (s *Service) SetPaidAmount(ctx context.Context, orderID int64, paid decimal.Decimal) (*Order, error) {
	const op = "set paid amount"
	if paid.IsNegative() {
		return nil, s.fail(ctx, op, &ValidationError{Field: "paid_amount", Message: "must not be negative"})
	}

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		if paid.GreaterThan(o.Payment.Amount) {
			return activity.Entry{}, ErrPaidExceedsAmount
		}

		prev := o.Payment.PaidAmount
		o.Payment.PaidAmount = paid
		if err := tx.UpdatePayment(ctx, o.Payment); err != nil {
			return activity.Entry{}, errors.Wrap(err, "update payment")
		}
		return activity.Entry{
			SubjectType: activity.SubjectPayment,
			SubjectID:   o.Payment.ID,
			Description: fmt.Sprintf("Paid amount of order %s changed from %s to %s",
				o.InvoiceCode, prev.StringFixed(2), paid.StringFixed(2)),
		}, nil
	})
}

// SetPaymentStatus changes the recorded payment status.
func (s *Service) SetPaymentStatus(ctx context.Context, orderID int64, status PaymentStatus) (*Order, error) {
	const op = "set payment status"
	if !status.Valid() {
		return nil, s.fail(ctx, op, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown payment status %d", int(status))})
	}

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		prev := o.Payment.Status
		o.Payment.Status = status
		if err := tx.UpdatePayment(ctx, o.Payment); err != nil {
			return activity.Entry{}, errors.Wrap(err, "update payment")
		}
		return activity.Entry{
			SubjectType: activity.SubjectPayment,
			SubjectID:   o.Payment.ID,
			Description: fmt.Sprintf("Payment status of order %s changed from %s to %s", o.InvoiceCode, prev, status),
		}, nil
	})
}

// UpdateCustomer replaces the inline contact details of a guest order.
func (s *Service) UpdateCustomer(ctx context.Context, orderID int64, g GuestShipping) (*Order, error) {
	const op = "update customer"
	if err := validateGuest(g); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	return s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		if _, guest := o.Shipping.(GuestShipping); !guest || o.CustomerID != nil {
			return activity.Entry{}, ErrNotGuestOrder
		}

		o.Shipping = g
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return activity.Entry{}, errors.Wrap(err, "update order")
		}
		return activity.Entry{
			SubjectType: activity.SubjectOrder,
			SubjectID:   o.ID,
			Description: fmt.Sprintf("Customer details of order %s updated", o.InvoiceCode),
		}, nil
	})
}

// DeleteOrder removes an unpaid order that was never completed and returns
// its stock.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) error {
	const op = "delete order"

	_, err := s.change(ctx, op, orderID, func(ctx context.Context, tx Tx, o *Order) (activity.Entry, error) {
		switch {
		case o.Status != StatusProcessing && o.Status != StatusOnHold && o.Status != StatusCancelled:
			return activity.Entry{}, ErrNotDeletable
		case o.Payment.PaidAmount.IsPositive():
			return activity.Entry{}, ErrNotDeletable
		}

		moves := make([]stock.Movement, len(o.Lines))
		for i, l := range o.Lines {
			moves[i] = stock.Movement{VariantID: l.VariantID, Quantity: l.Quantity}
		}
		if err := s.ledger.Release(ctx, tx, moves); err != nil {
			return activity.Entry{}, err
		}
		if err := tx.DeleteOrder(ctx, o.ID); err != nil {
			return activity.Entry{}, errors.Wrap(err, "delete order")
		}
		return activity.Entry{
			SubjectType: activity.SubjectOrder,
			SubjectID:   o.ID,
			Description: fmt.Sprintf("Order %s deleted, %d line(s) returned to stock", o.InvoiceCode, len(moves)),
		}, nil
	})
	return err
}
