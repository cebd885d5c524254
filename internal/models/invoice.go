package models

import (
	"fmt"
	"slices"
	"time"
)

// InvoiceGroup is a billing service group.
type InvoiceGroup string

// Invoice groups reported by the portal.
const (
	InvoiceGroupGas  InvoiceGroup = "gas"
	InvoiceGroupVDGO InvoiceGroup = "vdgo"
	InvoiceGroupTech InvoiceGroup = "tech"
)

// InvoiceGroups lists every group in display order.
var InvoiceGroups = []InvoiceGroup{InvoiceGroupGas, InvoiceGroupVDGO, InvoiceGroupTech}

// Known reports whether g is one of InvoiceGroups.
func (g InvoiceGroup) Known() bool {
	return slices.Contains(InvoiceGroups, g)
}

// InvoicePeriod is a billing month.
type InvoicePeriod struct {
	Year  int
	Month int
}

// Compare orders periods chronologically.
func (p InvoicePeriod) Compare(o InvoicePeriod) int {
	if p.Year != o.Year {
		return p.Year - o.Year
	}
	return p.Month - o.Month
}

// Date returns the first day of the period.
func (p InvoicePeriod) Date() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

func (p InvoicePeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Payment is one payment applied to an invoice.
type Payment struct {
	At time.Time
}

// Invoice is the bill of one group for one period.
type Invoice struct {
	guard    sharedLock
	data     InvoiceData
	group    InvoiceGroup
	payments []Payment
	period   InvoicePeriod
}

func newInvoice(guard sharedLock, group InvoiceGroup, period InvoicePeriod, data InvoiceData, payments []Payment) *Invoice {
	inv := &Invoice{guard: guard, group: group, period: period}
	inv.assign(data, payments)
	return inv
}

// assign expects the write lock to be held.
func (i *Invoice) assign(data InvoiceData, payments []Payment) {
	i.data = data
	i.payments = payments
}

func (i *Invoice) load() (InvoiceData, []Payment) {
	defer i.guard.rlock()()
	return i.data, i.payments
}

func parsePayments(raw []PaymentData) ([]Payment, error) {
	payments := make([]Payment, 0, len(raw))
	for _, p := range raw {
		at, err := p.Date.Time()
		if err != nil {
			return nil, fmt.Errorf("payment date: %w", err)
		}
		payments = append(payments, Payment{At: at})
	}
	return payments, nil
}

// Data returns a copy of the raw payload.
func (i *Invoice) Data() InvoiceData {
	data, _ := i.load()
	data.Payments = slices.Clone(data.Payments)
	return data
}

// Group returns the invoice group.
func (i *Invoice) Group() InvoiceGroup { return i.group }

// Period returns the billing period.
func (i *Invoice) Period() InvoicePeriod { return i.period }

// Total is the invoiced amount.
func (i *Invoice) Total() float64 {
	data, _ := i.load()
	return round2(data.Invoice.Float())
}

// Paid is the amount paid during the period.
func (i *Invoice) Paid() float64 {
	data, _ := i.load()
	return round2(data.Payment.Float())
}

// Balance is the balance at the moment the invoice was issued.
func (i *Invoice) Balance() float64 {
	data, _ := i.load()
	return round2(data.Balance.Float())
}

// Payments returns the payments in portal order.
func (i *Invoice) Payments() []Payment {
	_, payments := i.load()
	return slices.Clone(payments)
}

// PaymentsCount returns the number of payments.
func (i *Invoice) PaymentsCount() int {
	_, payments := i.load()
	return len(payments)
}

// ChargeState is paid + balance - total; negative means debt unless invert is
// set. Zero is always returned as positive zero.
func (i *Invoice) ChargeState(invert bool) float64 {
	data, _ := i.load()
	total := round2(data.Invoice.Float())
	paid := round2(data.Payment.Float())
	balance := round2(data.Balance.Float())

	state := round2(paid + balance - total)
	if invert {
		state = -state
	}
	if state == 0 {
		return 0
	}
	return state
}

func (i *Invoice) String() string {
	return fmt.Sprintf("Invoice[%s %s]", i.group, i.period)
}
