package order

import (
	"fmt"
	"strconv"
)

// PaymentMethod is how the customer intends to pay.
type PaymentMethod int

const (
	MethodCashOnDelivery PaymentMethod = 1
	MethodMobileWallet   PaymentMethod = 2
	MethodCard           PaymentMethod = 3
)

// PaymentStatus is the recorded state of a payment.
type PaymentStatus int

const (
	PaymentUnpaid  PaymentStatus = 0
	PaymentPaid    PaymentStatus = 1
	PaymentPending PaymentStatus = 2
	PaymentFailed  PaymentStatus = 3
)

type methodInfo struct {
	name    string
	initial PaymentStatus
	// requiresRef methods are settled before checkout and must carry the
	// external transaction reference.
	requiresRef bool
}

// paymentMethods maps every accepted method to its initial payment status.
var paymentMethods = map[PaymentMethod]methodInfo{
	MethodCashOnDelivery: {name: "cod", initial: PaymentUnpaid},
	MethodMobileWallet:   {name: "mobile_wallet", initial: PaymentPaid, requiresRef: true},
	MethodCard:           {name: "card", initial: PaymentPending},
}

var paymentStatusNames = map[PaymentStatus]string{
	PaymentUnpaid:  "unpaid",
	PaymentPaid:    "paid",
	PaymentPending: "pending",
	PaymentFailed:  "failed",
}

// Valid reports whether m is an accepted method.
func (m PaymentMethod) Valid() bool {
	_, ok := paymentMethods[m]
	return ok
}

func (m PaymentMethod) String() string {
	if info, ok := paymentMethods[m]; ok {
		return info.name
	}
	return "method(" + strconv.Itoa(int(m)) + ")"
}

// InitialStatus returns the payment status a new order starts with.
func (m PaymentMethod) InitialStatus() PaymentStatus {
	return paymentMethods[m].initial
}

// RequiresTransactionRef reports whether checkout must supply an external
// transaction reference.
func (m PaymentMethod) RequiresTransactionRef() bool {
	return paymentMethods[m].requiresRef
}

// ParsePaymentMethod accepts either the method name or its numeric code.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	for m, info := range paymentMethods {
		if info.name == s {
			return m, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && PaymentMethod(n).Valid() {
		return PaymentMethod(n), nil
	}
	return 0, &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unknown payment method %q", s)}
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentStatusNames[s]
	return ok
}

func (s PaymentStatus) String() string {
	if n, ok := paymentStatusNames[s]; ok {
		return n
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// ParsePaymentStatus accepts either the status name or its numeric code.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	for st, name := range paymentStatusNames {
		if name == s {
			return st, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && PaymentStatus(n).Valid() {
		return PaymentStatus(n), nil
	}
	return 0, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown payment status %q", s)}
}
