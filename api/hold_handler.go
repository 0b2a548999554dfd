package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

func (a *API) listHolds(w http.ResponseWriter, r *http.Request) {
	f := catalog.HoldFilter{
		Status: catalog.HoldStatus(r.URL.Query().Get("status")),
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
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

	holds, err := a.eng.CatalogStore().ListHolds(r.Context(), f)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, holds)
}

func (a *API) getHold(w http.ResponseWriter, r *http.Request) {
	holdID, err := id.ParseHoldID(r.PathValue("holdID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid hold ID: %v", err))
		return
	}
	h, err := a.eng.CatalogStore().GetHold(r.Context(), holdID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, h)
}

func (a *API) cancelHold(w http.ResponseWriter, r *http.Request) {
	holdID, err := id.ParseHoldID(r.PathValue("holdID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid hold ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.await(w, ctx, a.eng.Service().CancelHold(ctx, holdID), http.StatusOK)
}
