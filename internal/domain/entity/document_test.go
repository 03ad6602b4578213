package entity

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDocumentType_Prefix(t *testing.T) {
	tests := []struct {
		docType DocumentType
		want    string
	}{
		{TypeCashAdvance, "CA"},
		{TypeSettlement, "STL"},
		{TypeReimbursement, "RB"},
		{TypePurchaseOrder, "PO"},
		{TypeDeliveryOrder, "DO"},
		{TypeSalesOrder, "SO"},
		{TypeAccountsPayable, "AP"},
		{DocumentType("journal"), ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.docType), func(t *testing.T) {
			if got := tt.docType.Prefix(); got != tt.want {
				t.Errorf("Prefix() = %q, want %q", got, tt.want)
			}
			if got := tt.docType.IsValid(); got != (tt.want != "") {
				t.Errorf("IsValid() = %v", got)
			}
		})
	}
}

func TestCashAdvance_CheckBalance(t *testing.T) {
	d := decimal.NewFromInt
	tests := []struct {
		name      string
		total     decimal.Decimal
		used      decimal.Decimal
		remaining decimal.Decimal
		wantErr   bool
	}{
		{"fresh", d(1000000), d(0), d(1000000), false},
		{"partially used", d(1000000), d(400000), d(600000), false},
		{"mismatch", d(1000000), d(400000), d(500000), true},
		{"negative remaining", d(100), d(200), d(-100), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca := &CashAdvance{TotalAmount: tt.total, UsedAmount: tt.used, RemainingAmount: tt.remaining}
			if err := ca.CheckBalance(); (err != nil) != tt.wantErr {
				t.Errorf("CheckBalance() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActor_IsSystem(t *testing.T) {
	if !SystemActor.IsSystem() {
		t.Error("SystemActor.IsSystem() = false")
	}
	if (Actor{Code: "EMP-001"}).IsSystem() {
		t.Error("regular actor reported as system")
	}
}
