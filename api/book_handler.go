package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

func (a *API) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := a.eng.CatalogStore().ListBooks(r.Context(), catalog.BookFilter{
		ISBN:   r.URL.Query().Get("isbn"),
		Genre:  r.URL.Query().Get("genre"),
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, books)
}

func (a *API) createBook(w http.ResponseWriter, r *http.Request) {
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	var b catalog.Book
	if err := decodeJSON(r, &b); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.await(w, ctx, a.eng.Service().AddBook(ctx, &b), http.StatusCreated)
}

func (a *API) getBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := id.ParseBookID(r.PathValue("bookID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid book ID: %v", err))
		return
	}
	b, err := a.eng.CatalogStore().GetBook(r.Context(), bookID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, b)
}

func (a *API) updateBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := id.ParseBookID(r.PathValue("bookID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid book ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	var b catalog.Book
	if err := decodeJSON(r, &b); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	// The path names the book; a conflicting body ID is ignored.
	b.ID = bookID
	a.await(w, ctx, a.eng.Service().UpdateBook(ctx, &b), http.StatusOK)
}

func (a *API) removeBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := id.ParseBookID(r.PathValue("bookID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid book ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.await(w, ctx, a.eng.Service().RemoveBook(ctx, bookID), http.StatusOK)
}

func (a *API) borrowBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := id.ParseBookID(r.PathValue("bookID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid book ID: %v", err))
		return
	}
	var req BorrowRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	memberID, err := id.ParseMemberID(req.MemberID)
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.await(w, ctx, a.eng.Service().Borrow(ctx, bookID, memberID), http.StatusCreated)
}

func (a *API) reserveBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := id.ParseBookID(r.PathValue("bookID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid book ID: %v", err))
		return
	}
	var req ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	memberID, err := id.ParseMemberID(req.MemberID)
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid member ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.await(w, ctx, a.eng.Service().Reserve(ctx, bookID, memberID), http.StatusCreated)
}
