package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.DLQService().DLQStore().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:      defaultLimit(queryInt(r, "limit")),
		Offset:     queryInt(r, "offset"),
		Label:      r.URL.Query().Get("label"),
		Unreplayed: queryBool(r, "unreplayed"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(r.PathValue("entryID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return
	}
	entry, err := a.eng.DLQService().DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(r.PathValue("entryID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return
	}
	ctx, err := requestContext(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	out, err := a.eng.DLQService().Replay(ctx, entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	res, err := out.Wait(ctx)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, ReplayResponse{
		TaskID: out.Task().ID.String(),
		Result: res,
	})
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	// Purge entries older than 30 days.
	before := time.Now().UTC().Add(-30 * 24 * time.Hour)

	count, err := a.eng.DLQService().DLQStore().PurgeDLQ(r.Context(), before)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: count})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, CountResponse{Count: count})
}
