package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

func (a *API) listLoans(w http.ResponseWriter, r *http.Request) {
	f := catalog.LoanFilter{
		OpenOnly: queryBool(r, "open"),
		Limit:    defaultLimit(queryInt(r, "limit")),
		Offset:   queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("book_id"); raw != "" {
		bookID, err := id.ParseBookID(raw)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid book ID: %v", err))
			return
		}
		f.BookID = bookID
	}
	if raw := r.URL.Query().Get("member_id"); raw != "" {
		memberID, err := id.ParseMemberID(raw)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
			return
		}
		f.MemberID = memberID
	}

	loans, err := a.eng.CatalogStore().ListLoans(r.Context(), f)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, loans)
}

func (a *API) getLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := id.ParseLoanID(r.PathValue("loanID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid loan ID: %v", err))
		return
	}
	l, err := a.eng.CatalogStore().GetLoan(r.Context(), loanID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, l)
}

func (a *API) returnLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := id.ParseLoanID(r.PathValue("loanID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid loan ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.await(w, ctx, a.eng.Service().Return(ctx, loanID), http.StatusOK)
}
