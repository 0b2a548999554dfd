package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.eng.CatalogStore().ListMembers(r.Context(), catalog.MemberFilter{
		Role:   catalog.Role(r.URL.Query().Get("role")),
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, members)
}

// createMember writes straight to the store: membership changes are
// registration bookkeeping, not circulation work, so they skip the
// scheduler.
func (a *API) createMember(w http.ResponseWriter, r *http.Request) {
	var m catalog.Member
	if err := decodeJSON(r, &m); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	if m.ID.IsNil() {
		m.ID = id.NewMemberID()
	}
	if m.Role == "" {
		m.Role = catalog.RoleMember
	}
	if m.CreatedAt.IsZero() {
		m.Entity = circulate.NewEntity()
	}
	if err := a.eng.CatalogStore().CreateMember(r.Context(), &m); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, &m)
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := id.ParseMemberID(r.PathValue("memberID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
		return
	}
	m, err := a.eng.CatalogStore().GetMember(r.Context(), memberID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, m)
}

func (a *API) updateMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := id.ParseMemberID(r.PathValue("memberID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
		return
	}
	var m catalog.Member
	if err := decodeJSON(r, &m); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	existing, err := a.eng.CatalogStore().GetMember(r.Context(), memberID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	m.ID = memberID
	m.Entity = existing.Entity
	if err := a.eng.CatalogStore().UpdateMember(r.Context(), &m); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, &m)
}

func (a *API) deleteMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := id.ParseMemberID(r.PathValue("memberID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
		return
	}
	if err := a.eng.CatalogStore().DeleteMember(r.Context(), memberID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) listMemberLoans(w http.ResponseWriter, r *http.Request) {
	memberID, err := id.ParseMemberID(r.PathValue("memberID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
		return
	}
	loans, err := a.eng.CatalogStore().ListLoans(r.Context(), catalog.LoanFilter{
		MemberID: memberID,
		OpenOnly: queryBool(r, "open"),
		Limit:    defaultLimit(queryInt(r, "limit")),
		Offset:   queryInt(r, "offset"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, loans)
}
