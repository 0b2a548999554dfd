package catalog_test

import (
	"testing"
	"time"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role      catalog.Role
		manage    bool
		circulate bool
	}{
		{catalog.RoleAdmin, true, true},
		{catalog.RoleLibrarian, true, true},
		{catalog.RoleMember, false, true},
		{catalog.Role("ghost"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.CanManageCatalog(); got != tt.manage {
				t.Errorf("CanManageCatalog() = %v, want %v", got, tt.manage)
			}
			if got := tt.role.CanCirculate(); got != tt.circulate {
				t.Errorf("CanCirculate() = %v, want %v", got, tt.circulate)
			}
		})
	}
}

func TestBookAvailable(t *testing.T) {
	b := &catalog.Book{ID: id.NewBookID(), CopiesTotal: 3, CopiesAvailable: 1}
	if !b.Available() {
		t.Error("expected book with available copies to be available")
	}

	b.CopiesAvailable = 0
	if b.Available() {
		t.Error("expected book with no available copies to be unavailable")
	}
}

func TestLoanOpenAndOverdue(t *testing.T) {
	now := time.Now()
	l := &catalog.Loan{
		ID:         id.NewLoanID(),
		BookID:     id.NewBookID(),
		MemberID:   id.NewMemberID(),
		BorrowedAt: now.Add(-48 * time.Hour),
		DueAt:      now.Add(-time.Hour),
	}

	if !l.Open() {
		t.Error("expected loan without return time to be open")
	}
	if !l.Overdue(now) {
		t.Error("expected loan past its due time to be overdue")
	}
	if l.Overdue(now.Add(-2 * time.Hour)) {
		t.Error("expected loan before its due time to not be overdue")
	}

	returned := now
	l.ReturnedAt = &returned
	if l.Open() {
		t.Error("expected returned loan to be closed")
	}
	if l.Overdue(now.Add(time.Hour)) {
		t.Error("expected returned loan to never be overdue")
	}
}

func TestHoldActive(t *testing.T) {
	h := &catalog.Hold{
		ID:       id.NewHoldID(),
		BookID:   id.NewBookID(),
		MemberID: id.NewMemberID(),
		PlacedAt: time.Now(),
		Status:   catalog.HoldActive,
	}
	if !h.Active() {
		t.Error("expected hold with active status to be active")
	}

	h.Status = catalog.HoldFulfilled
	if h.Active() {
		t.Error("expected fulfilled hold to be inactive")
	}

	h.Status = catalog.HoldCancelled
	if h.Active() {
		t.Error("expected cancelled hold to be inactive")
	}
}
