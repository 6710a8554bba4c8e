package instrument

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var issuer = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func testBond(t *testing.T, isin string) *Instrument {
	t.Helper()
	maturity := time.Date(2030, 6, 15, 0, 0, 0, 0, time.UTC)
	b, err := New(isin, "Test Bond 2030", issuer, 7.25, 102500, 25, maturity)
	if err != nil {
		t.Fatalf("new instrument: %v", err)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	maturity := time.Date(2030, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		isin      string
		bondName  string
		coupon    float64
		faceValue int64
		minUnit   int64
		maturity  time.Time
		wantErr   bool
	}{
		{"valid", "IN0020240011", "GOI 7.25% 2030", 7.25, 102500, 25, maturity, false},
		{"zero coupon ok", "IN0020240012", "ZCB 2030", 0, 102500, 25, maturity, false},
		{"empty isin", "", "Bond", 7.25, 102500, 25, maturity, true},
		{"empty name", "IN0020240013", "", 7.25, 102500, 25, maturity, true},
		{"negative coupon", "IN0020240014", "Bond", -1, 102500, 25, maturity, true},
		{"zero face value", "IN0020240015", "Bond", 7.25, 0, 25, maturity, true},
		{"zero min unit", "IN0020240016", "Bond", 7.25, 102500, 0, maturity, true},
		{"no maturity", "IN0020240017", "Bond", 7.25, 102500, 25, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.isin, tt.bondName, issuer, tt.coupon, tt.faceValue, tt.minUnit, tt.maturity)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil {
				if b.Status != Pending {
					t.Errorf("new bond must start pending, got %s", b.Status)
				}
				if b.ReferencePrice != tt.faceValue {
					t.Errorf("reference price must start at face value")
				}
			}
		})
	}
}

func TestRegisterDuplicates(t *testing.T) {
	r := NewRegistry(nil)

	b := testBond(t, "IN0020240011")
	if err := r.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Errorf("duplicate id must be rejected")
	}

	dup := testBond(t, "IN0020240011")
	if err := r.Register(dup); err == nil || !strings.Contains(err.Error(), "isin") {
		t.Errorf("duplicate isin must be rejected, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		wantErr  bool
	}{
		{Pending, Active, false},
		{Active, Matured, false},
		{Active, Delisted, false},
		{Pending, Matured, true},
		{Pending, Delisted, true},
		{Active, Pending, true},
		{Matured, Active, true},
		{Delisted, Active, true},
	}

	for _, tt := range tests {
		err := validateTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s -> %s: err = %v, wantErr = %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	r := NewRegistry(nil)
	b := testBond(t, "IN0020240011")
	if err := r.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}

	get := func() *Instrument {
		t.Helper()
		got, err := r.Get(b.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return got
	}

	if err := get().Tradable(); !errors.Is(err, ErrNotTradable) {
		t.Errorf("pending bond must not be tradable, got %v", err)
	}

	if err := r.UpdateStatus(b.ID, Active); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := get().Tradable(); err != nil {
		t.Errorf("active bond must be tradable, got %v", err)
	}

	if err := r.UpdateStatus(b.ID, Matured); err != nil {
		t.Fatalf("mature: %v", err)
	}
	if err := r.UpdateStatus(b.ID, Active); err == nil {
		t.Errorf("terminal status must be locked")
	}
	if !get().Terminal() {
		t.Errorf("matured bond must report terminal")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	b := testBond(t, "IN0020240011")
	if err := r.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}

	before, err := r.Get(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := r.SetReferencePrice(b.ID, 101875); err != nil {
		t.Fatalf("set reference price: %v", err)
	}

	// The earlier snapshot is detached from registry mutations
	if before.ReferencePrice != 102500 {
		t.Errorf("snapshot mutated: got %d", before.ReferencePrice)
	}
	after, err := r.Get(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.ReferencePrice != 101875 {
		t.Errorf("fresh get: got %d, want 101875", after.ReferencePrice)
	}

	// Writes through a snapshot never reach the registry
	after.Status = Delisted
	if got, _ := r.Get(b.ID); got.Status != Pending {
		t.Errorf("snapshot write leaked into registry: %s", got.Status)
	}

	for _, l := range r.List() {
		l.ReferencePrice = 1
	}
	if got := r.ReferencePrice(b.ID); got != 101875 {
		t.Errorf("list snapshot write leaked into registry: %d", got)
	}
}

func TestListOrderedByISIN(t *testing.T) {
	r := NewRegistry(nil)
	for _, isin := range []string{"IN0020240033", "IN0020240011", "IN0020240022"} {
		if err := r.Register(testBond(t, isin)); err != nil {
			t.Fatalf("register %s: %v", isin, err)
		}
	}

	got := r.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 bonds, got %d", len(got))
	}
	for i, want := range []string{"IN0020240011", "IN0020240022", "IN0020240033"} {
		if got[i].ISIN != want {
			t.Errorf("list[%d] = %s, want %s", i, got[i].ISIN, want)
		}
	}

	if active := r.ListActive(); len(active) != 0 {
		t.Errorf("no bond is active yet, got %d", len(active))
	}
	if err := r.UpdateStatus(got[1].ID, Active); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active := r.ListActive(); len(active) != 1 || active[0].ISIN != "IN0020240022" {
		t.Errorf("active list wrong: %+v", active)
	}
}

func TestReferencePrice(t *testing.T) {
	r := NewRegistry(nil)
	b := testBond(t, "IN0020240011")
	if err := r.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}

	if got := r.ReferencePrice(b.ID); got != 102500 {
		t.Errorf("initial reference price: got %d, want face value", got)
	}

	if err := r.SetReferencePrice(b.ID, 101875); err != nil {
		t.Fatalf("set reference price: %v", err)
	}
	if got := r.ReferencePrice(b.ID); got != 101875 {
		t.Errorf("reference price: got %d, want 101875", got)
	}

	if err := r.SetReferencePrice(b.ID, 0); err == nil {
		t.Errorf("zero reference price must be rejected")
	}
}

func TestValidateQuantity(t *testing.T) {
	b := testBond(t, "IN0020240011")

	tests := []struct {
		qty     int64
		wantErr bool
	}{
		{25, false},
		{100, false},
		{0, true},
		{-25, true},
		{30, true},
	}
	for _, tt := range tests {
		err := b.ValidateQuantity(tt.qty)
		if (err != nil) != tt.wantErr {
			t.Errorf("qty %d: err = %v, wantErr = %v", tt.qty, err, tt.wantErr)
		}
	}
}
