package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
)

func loggedInClient(t *testing.T, fp *fakePortal) *Client {
	t.Helper()
	c := newTestClient(t, fp, "secret", Tokens{})
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return c
}

func TestFetchContractsPlaceholderToMeters(t *testing.T) {
	fp := newFakePortal(t)
	c := loggedInClient(t, fp)
	ctx := context.Background()

	contracts, err := c.FetchContracts(ctx, FetchOptions{RaiseForStatuses: true})
	if err != nil {
		t.Fatalf("FetchContracts() error = %v", err)
	}
	contract := contracts["100"]
	if contract == nil {
		t.Fatalf("FetchContracts() = %v, want contract 100", contracts)
	}
	if !contract.HasDevices() {
		t.Error("listed devices should be tracked as placeholders")
	}
	if _, err := contract.Meters(); !errors.Is(err, apierr.ErrContractUpdateRequired) {
		t.Errorf("Meters() error = %v, want ContractUpdateRequired", err)
	}
	if delta := c.LastDelta(); len(delta.Added) != 1 || delta.Added[0] != "100" {
		t.Errorf("LastDelta() = %+v", delta)
	}

	contracts, err = c.FetchContracts(ctx, FetchOptions{WithData: true, RaiseForStatuses: true})
	if err != nil {
		t.Fatalf("FetchContracts(WithData) error = %v", err)
	}
	if contracts["100"] != contract {
		t.Error("contract should keep its identity across fetches")
	}
	meters, err := contract.Meters()
	if err != nil {
		t.Fatalf("Meters() error = %v", err)
	}
	meter, ok := meters["m1"]
	if !ok || meter.LastHistoryEntry().Value() != 100 {
		t.Fatalf("Meters() = %v", meters)
	}
	if alias, _ := contract.Alias(); alias != "Home" {
		t.Errorf("Alias() = %q", alias)
	}
	if balance, _ := contract.Balance(); balance != 10.5 {
		t.Errorf("Balance() = %v", balance)
	}

	reading, err := c.PushMeterIndication(ctx, meter, 5, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), PushOptions{Incremental: true})
	if err != nil {
		t.Fatalf("PushMeterIndication() error = %v", err)
	}
	if reading != 105 {
		t.Errorf("reading = %d, want 105", reading)
	}
	fp.update(func() {
		if len(fp.pushes) != 1 {
			t.Fatalf("pushes = %v", fp.pushes)
		}
		push := fp.pushes[0]
		if push["contract"] != "100" || push["meter"] != "m1" || push["value"] != "105" || push["date"] != "2024-02-01" || push["auth"] != "hidden-1" {
			t.Errorf("push = %v", push)
		}
	})

	fp.update(func() { fp.contracts = []string{"200"} })
	contracts, err = c.FetchContracts(ctx, FetchOptions{RaiseForStatuses: true})
	if err != nil {
		t.Fatalf("FetchContracts() error = %v", err)
	}
	if _, ok := contracts["100"]; ok || len(contracts) != 1 {
		t.Errorf("contract 100 should be removed, got %v", contracts)
	}
	if delta := c.LastDelta(); len(delta.Removed) != 1 || delta.Removed[0] != "100" {
		t.Errorf("LastDelta() = %+v", delta)
	}
}

func TestFetchContractsDataBatchOrder(t *testing.T) {
	fp := newFakePortal(t)
	fp.update(func() { fp.contracts = []string{"300", "100", "200"} })
	c := loggedInClient(t, fp)

	if _, err := c.FetchContracts(context.Background(), FetchOptions{WithData: true}); err != nil {
		t.Fatalf("FetchContracts() error = %v", err)
	}

	fp.update(func() {
		if len(fp.batches) != 2 {
			t.Fatalf("batches = %d, want 2", len(fp.batches))
		}
		items := fp.batches[1].Items
		want := []string{"100", "200", "300"}
		if len(items) != len(want) {
			t.Fatalf("data batch has %d items", len(items))
		}
		for i, item := range items {
			if item.Variables["number"] != want[i] {
				t.Errorf("item %d number = %v, want %s", i, item.Variables["number"], want[i])
			}
		}
	})

	for _, number := range []string{"100", "200", "300"} {
		contract, ok := c.Contract(number)
		if !ok {
			t.Fatalf("contract %s missing", number)
		}
		if got := contract.Data().Number.String(); got != number {
			t.Errorf("contract %s got data for %s", number, got)
		}
	}
}

func TestFetchContractsStatuses(t *testing.T) {
	fp := newFakePortal(t)
	fp.update(func() { fp.coffeeBreak = true })
	c := loggedInClient(t, fp)
	ctx := context.Background()

	if _, err := c.FetchContracts(ctx, FetchOptions{RaiseForStatuses: true}); !errors.Is(err, apierr.ErrPartialOffline) {
		t.Errorf("FetchContracts() error = %v, want PartialOffline", err)
	}
	if len(c.Contracts()) != 0 {
		t.Error("partial offline should not reconcile contracts")
	}

	contracts, err := c.FetchContracts(ctx, FetchOptions{RaiseForStatuses: false})
	if err != nil {
		t.Fatalf("FetchContracts() error = %v", err)
	}
	if len(contracts) != 1 {
		t.Errorf("contracts = %v", contracts)
	}
}

func TestFetchContractsStaleUser(t *testing.T) {
	fp := newFakePortal(t)
	fp.update(func() { fp.staleUser = true })
	c := newTestClient(t, fp, "secret", Tokens{Bearer: "old"})

	_, err := c.FetchContracts(context.Background(), FetchOptions{})
	if !errors.Is(err, apierr.ErrAuthenticationFailed) {
		t.Errorf("FetchContracts() error = %v, want authentication failure", err)
	}
}

func TestUpdateContract(t *testing.T) {
	fp := newFakePortal(t)
	c := loggedInClient(t, fp)
	ctx := context.Background()

	if _, err := c.UpdateContract(ctx, "100"); err == nil {
		t.Error("UpdateContract() of an untracked contract should fail")
	}
	if _, err := c.FetchContracts(ctx, FetchOptions{}); err != nil {
		t.Fatalf("FetchContracts() error = %v", err)
	}

	contract, err := c.UpdateContract(ctx, "100")
	if err != nil {
		t.Fatalf("UpdateContract() error = %v", err)
	}
	last, _, err := contract.LastAndPreviousInvoice(models.InvoiceGroupGas)
	if err != nil || last == nil {
		t.Fatalf("LastAndPreviousInvoice() = %v, %v", last, err)
	}
	if got := last.ChargeState(false); got != -70 {
		t.Errorf("ChargeState() = %v, want -70", got)
	}
}

func TestFetchContractsConcurrentReaders(t *testing.T) {
	fp := newFakePortal(t)
	c := loggedInClient(t, fp)
	ctx := context.Background()

	contracts, err := c.FetchContracts(ctx, FetchOptions{WithData: true})
	if err != nil {
		t.Fatalf("FetchContracts() error = %v", err)
	}
	contract := contracts["100"]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := c.FetchContracts(ctx, FetchOptions{WithData: true}); err != nil {
				t.Errorf("FetchContracts() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if meters, err := contract.Meters(); err == nil {
				for _, m := range meters {
					_ = m.LastHistoryEntry()
				}
			}
			if last, err := contract.LastInvoices(); err == nil {
				for _, inv := range last {
					_ = inv.ChargeState(false)
				}
			}
		}
	}()
	wg.Wait()
}
