package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

func (a *API) listJournal(w http.ResponseWriter, r *http.Request) {
	f := journal.Filter{
		Label:  r.URL.Query().Get("label"),
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("actor"); raw != "" {
		actor, err := id.ParseMemberID(raw)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid actor ID: %v", err))
			return
		}
		f.Actor = actor
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
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid since time: %v", err))
			return
		}
		f.Since = since
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid until time: %v", err))
			return
		}
		f.Until = until
	}

	entries, err := a.eng.JournalStore().ListEntries(r.Context(), f)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getJournalEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseJournalID(r.PathValue("entryID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid journal entry ID: %v", err))
		return
	}
	e, err := a.eng.JournalStore().GetEntry(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) journalCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.JournalStore().CountEntries(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, CountResponse{Count: count})
}
