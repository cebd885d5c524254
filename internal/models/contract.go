package models

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
)

// ErrEmptyContractData is returned when a contract is assigned nil data.
var ErrEmptyContractData = errors.New("contract data cannot be empty")

// ContractDelta summarizes one Contract.SetData pass.
type ContractDelta struct {
	Invoices map[InvoiceGroup]Delta[InvoicePeriod]
	History  map[string]Delta[HistoryPeriod]
	Devices  Delta[string]
}

// Contract is one gas-service account. It may be read while a refresh
// updates it: the contract and everything it owns share one lock.
type Contract struct {
	guard    sharedLock
	data     *ContractData
	devices  map[string]*Device
	invoices map[InvoiceGroup]map[InvoicePeriod]*Invoice
	number   string
}

// NewContract creates a contract whose devices are known only by ID.
func NewContract(number string, deviceIDs []string) *Contract {
	c := &Contract{
		guard:   newSharedLock(),
		number:  number,
		devices: make(map[string]*Device, len(deviceIDs)),
	}
	for _, id := range deviceIDs {
		c.devices[id] = nil
	}
	return c
}

// Number is the contract number.
func (c *Contract) Number() string { return c.number }

// HasData reports whether detail data has been assigned.
func (c *Contract) HasData() bool {
	defer c.guard.rlock()()
	return c.data != nil
}

// Data returns the raw detail payload, or nil before the first SetData.
func (c *Contract) Data() *ContractData {
	defer c.guard.rlock()()
	return c.data
}

func (c *Contract) String() string { return fmt.Sprintf("Contract[%s]", c.number) }

// UpdateDeviceIDs aligns the device set with a listing: unknown IDs become
// placeholders and absent devices are dropped. Known devices are left untouched.
func (c *Contract) UpdateDeviceIDs(ids []string) Delta[string] {
	defer c.guard.lock()()
	return reconcile(c.devices, ids, func(_ string, current *Device, exists bool) (*Device, bool) {
		if exists {
			return current, false
		}
		return nil, true
	}, cmp.Compare[string])
}

type preparedInvoice struct {
	data     InvoiceData
	payments []Payment
}

type preparedContract struct {
	history  map[string][]parsedReading
	invoices map[InvoiceGroup]map[InvoicePeriod]preparedInvoice
}

// prepare validates a payload completely so that SetData either applies all of it or nothing.
func prepare(data *ContractData) (*preparedContract, error) {
	p := &preparedContract{
		history:  make(map[string][]parsedReading),
		invoices: make(map[InvoiceGroup]map[InvoicePeriod]preparedInvoice),
	}

	for _, pair := range data.MetersHistory.Data {
		id := string(pair.Info.ID)
		if _, seen := p.history[id]; seen {
			continue
		}
		readings, err := parseReadings(pair.Values)
		if err != nil {
			return nil, fmt.Errorf("meter %s: %w", id, err)
		}
		p.history[id] = readings
	}

	groups, err := data.InvoiceGroups()
	if err != nil {
		return nil, err
	}
	for group, periods := range groups {
		parsed := make(map[InvoicePeriod]preparedInvoice, len(periods))
		for key, invoice := range periods {
			period, err := ParseInvoicePeriod(key)
			if err != nil {
				return nil, fmt.Errorf("%s invoices: %w", group, err)
			}
			payments, err := parsePayments(invoice.Payments)
			if err != nil {
				return nil, fmt.Errorf("%s invoice %s: %w", group, key, err)
			}
			parsed[period] = preparedInvoice{data: invoice, payments: payments}
		}
		p.invoices[group] = parsed
	}

	return p, nil
}

// SetData assigns a full detail payload and reconciles devices, meter history
// and invoices against it. Existing children keep their identity, absent ones
// are removed, and meter history only grows.
func (c *Contract) SetData(data *ContractData) (ContractDelta, error) {
	if data == nil {
		return ContractDelta{}, ErrEmptyContractData
	}
	prepared, err := prepare(data)
	if err != nil {
		return ContractDelta{}, fmt.Errorf("contract %s: %w", c.number, err)
	}

	defer c.guard.lock()()
	c.data = data
	delta := ContractDelta{
		History:  make(map[string]Delta[HistoryPeriod]),
		Invoices: make(map[InvoiceGroup]Delta[InvoicePeriod]),
	}

	raw := data.Devices()
	byID := make(map[string]DeviceData, len(raw))
	ids := make([]string, 0, len(raw))
	for _, d := range raw {
		id := string(d.ID)
		if _, dup := byID[id]; !dup {
			ids = append(ids, id)
			byID[id] = d
		}
	}

	delta.Devices = reconcile(c.devices, ids, func(id string, current *Device, exists bool) (*Device, bool) {
		if exists && current != nil {
			current.data = byID[id]
			return current, false
		}
		return newDevice(c.guard, c.number, byID[id]), true
	}, cmp.Compare[string])

	for _, id := range ids {
		meter, ok := c.devices[id].Meter()
		if !ok {
			continue
		}
		if readings, listed := prepared.history[id]; listed {
			delta.History[id] = meter.mergeReadings(readings)
		}
	}

	if c.invoices == nil {
		c.invoices = make(map[InvoiceGroup]map[InvoicePeriod]*Invoice, len(InvoiceGroups))
	}
	for _, group := range InvoiceGroups {
		incoming := prepared.invoices[group]
		existing := c.invoices[group]
		if existing == nil {
			existing = make(map[InvoicePeriod]*Invoice, len(incoming))
			c.invoices[group] = existing
		}

		periods := slices.SortedFunc(maps.Keys(incoming), InvoicePeriod.Compare)
		delta.Invoices[group] = reconcile(existing, periods, func(period InvoicePeriod, current *Invoice, exists bool) (*Invoice, bool) {
			in := incoming[period]
			if exists && current != nil {
				current.assign(in.data, in.payments)
				return current, false
			}
			return newInvoice(c.guard, group, period, in.data, in.payments), true
		}, InvoicePeriod.Compare)
	}

	return delta, nil
}

// requireData expects the read lock to be held.
func (c *Contract) requireData() (*ContractData, error) {
	if c.data == nil {
		return nil, apierr.ContractUpdateRequired(c.number)
	}
	return c.data, nil
}

func (c *Contract) loadData() (*ContractData, error) {
	defer c.guard.rlock()()
	return c.requireData()
}

// Person is the customer name.
func (c *Contract) Person() (string, error) {
	data, err := c.loadData()
	if err != nil {
		return "", err
	}
	return string(data.Name), nil
}

// DepartmentTitle is the serving filial.
func (c *Contract) DepartmentTitle() (string, error) {
	data, err := c.loadData()
	if err != nil {
		return "", err
	}
	return string(data.Filial.Title), nil
}

// Address is the service address.
func (c *Contract) Address() (string, error) {
	data, err := c.loadData()
	if err != nil {
		return "", err
	}
	return string(data.Address), nil
}

// Alias is the user-assigned contract name; "" when unset.
func (c *Contract) Alias() (string, error) {
	data, err := c.loadData()
	if err != nil {
		return "", err
	}
	return string(data.Alias), nil
}

// Balance is the live balance rounded to two places.
func (c *Contract) Balance() (float64, error) {
	data, err := c.loadData()
	if err != nil {
		return 0, err
	}
	if data.LiveBalance == nil {
		return 0, nil
	}
	return round2(data.LiveBalance.LiveBalance.Float()), nil
}

// HasDevices reports whether any device (or placeholder) is known.
func (c *Contract) HasDevices() bool {
	defer c.guard.rlock()()
	return len(c.devices) > 0
}

// DeviceIDs returns the known device IDs, sorted. It works before data is fetched.
func (c *Contract) DeviceIDs() []string {
	defer c.guard.rlock()()
	return slices.Sorted(maps.Keys(c.devices))
}

// Devices returns the devices by ID. It fails while any device is still a placeholder.
func (c *Contract) Devices() (map[string]*Device, error) {
	defer c.guard.rlock()()
	for _, d := range c.devices {
		if d == nil {
			return nil, apierr.ContractUpdateRequired(c.number)
		}
	}
	return maps.Clone(c.devices), nil
}

// Meters returns the meter-kind devices by ID.
func (c *Contract) Meters() (map[string]*Meter, error) {
	devices, err := c.Devices()
	if err != nil {
		return nil, err
	}
	meters := make(map[string]*Meter)
	for id, d := range devices {
		if m, ok := d.Meter(); ok {
			meters[id] = m
		}
	}
	return meters, nil
}

// Meter looks up one meter by device ID.
func (c *Contract) Meter(id string) (*Meter, error) {
	meters, err := c.Meters()
	if err != nil {
		return nil, err
	}
	m, ok := meters[id]
	if !ok {
		return nil, fmt.Errorf("contract %s has no meter %s", c.number, id)
	}
	return m, nil
}

// AllInvoicesByGroups returns every invoice by group and period.
func (c *Contract) AllInvoicesByGroups() (map[InvoiceGroup]map[InvoicePeriod]*Invoice, error) {
	defer c.guard.rlock()()
	if c.invoices == nil {
		return nil, apierr.ContractUpdateRequired(c.number)
	}
	result := make(map[InvoiceGroup]map[InvoicePeriod]*Invoice, len(c.invoices))
	for group, invoices := range c.invoices {
		result[group] = maps.Clone(invoices)
	}
	return result, nil
}

// Invoices returns the invoices of one group by period.
func (c *Contract) Invoices(group InvoiceGroup) (map[InvoicePeriod]*Invoice, error) {
	all, err := c.AllInvoicesByGroups()
	if err != nil {
		return nil, err
	}
	return all[group], nil
}

// InvoicesGas returns the gas invoices.
func (c *Contract) InvoicesGas() (map[InvoicePeriod]*Invoice, error) {
	return c.Invoices(InvoiceGroupGas)
}

// InvoicesVDGO returns the in-house gas equipment maintenance invoices.
func (c *Contract) InvoicesVDGO() (map[InvoicePeriod]*Invoice, error) {
	return c.Invoices(InvoiceGroupVDGO)
}

// InvoicesTech returns the technical service invoices.
func (c *Contract) InvoicesTech() (map[InvoicePeriod]*Invoice, error) {
	return c.Invoices(InvoiceGroupTech)
}

// SortedInvoices returns a group's invoices, newest period first.
func (c *Contract) SortedInvoices(group InvoiceGroup) ([]*Invoice, error) {
	invoices, err := c.Invoices(group)
	if err != nil {
		return nil, err
	}
	return newestFirst(invoices), nil
}

func newestFirst(invoices map[InvoicePeriod]*Invoice) []*Invoice {
	sorted := slices.Collect(maps.Values(invoices))
	slices.SortFunc(sorted, func(a, b *Invoice) int {
		return b.period.Compare(a.period)
	})
	return sorted
}

// LastAndPreviousInvoice returns the two newest invoices of a group; either may be nil.
func (c *Contract) LastAndPreviousInvoice(group InvoiceGroup) (last, previous *Invoice, err error) {
	sorted, err := c.SortedInvoices(group)
	if err != nil {
		return nil, nil, err
	}
	if len(sorted) > 0 {
		last = sorted[0]
	}
	if len(sorted) > 1 {
		previous = sorted[1]
	}
	return last, previous, nil
}

// LastInvoices returns the newest invoice of every non-empty group.
func (c *Contract) LastInvoices() (map[InvoiceGroup]*Invoice, error) {
	all, err := c.AllInvoicesByGroups()
	if err != nil {
		return nil, err
	}
	result := make(map[InvoiceGroup]*Invoice)
	for _, group := range InvoiceGroups {
		if sorted := newestFirst(all[group]); len(sorted) > 0 {
			result[group] = sorted[0]
		}
	}
	return result, nil
}

// ReconcileContracts aligns tracked contracts with an accounts listing: known
// contracts get their device IDs updated, new ones are created with placeholder
// devices and unlisted ones are removed.
func ReconcileContracts(contracts map[string]*Contract, listing []ContractSummary) Delta[string] {
	deviceIDs := make(map[string][]string, len(listing))
	numbers := make([]string, 0, len(listing))
	for _, summary := range listing {
		number := string(summary.Number)
		if _, dup := deviceIDs[number]; !dup {
			numbers = append(numbers, number)
		}
		deviceIDs[number] = summary.DeviceIDs()
	}

	return reconcile(contracts, numbers, func(number string, current *Contract, exists bool) (*Contract, bool) {
		if exists && current != nil {
			current.UpdateDeviceIDs(deviceIDs[number])
			return current, false
		}
		return NewContract(number, deviceIDs[number]), true
	}, cmp.Compare[string])
}
