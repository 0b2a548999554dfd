// Package api provides HTTP handlers for the Circulate API.
package api

import (
	"context"
	"log/slog"
	"net/http"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	journalCount, err := a.eng.JournalStore().CountEntries(ctx)
	if err != nil {
		a.writeError(w, err)
		return
	}
	dlqCount, err := a.eng.DLQService().DLQStore().CountDLQ(ctx)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Scheduler: a.eng.Scheduler().Stats(),
		Progress:  a.eng.Service().Progress(),
		Journal:   journalCount,
		DLQ:       dlqCount,
	})
}

func (a *API) setConcurrency(w http.ResponseWriter, r *http.Request) {
	var req SetConcurrencyRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, err.Error())
		return
	}
	a.eng.SetConcurrency(r.Context(), req.Limit)
	a.writeJSON(w, http.StatusOK, ConcurrencyResponse{
		Concurrency: a.eng.Scheduler().Stats().Concurrency,
	})
}

func (a *API) clearQueue(w http.ResponseWriter, r *http.Request) {
	dropped := a.eng.Clear(r.Context())
	a.writeJSON(w, http.StatusOK, ClearResponse{Dropped: dropped})
}

func (a *API) syncStatus(w http.ResponseWriter, r *http.Request) {
	sources := a.eng.Syncer().Sources()
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	a.writeJSON(w, http.StatusOK, SyncStatusResponse{
		Sources: names,
		NextRun: a.eng.Syncer().NextRun(),
		LastRun: a.eng.Syncer().LastRun(),
	})
}

func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	// A round can pull remote catalogs for minutes; detach it from the
	// request.
	go func() {
		if err := a.eng.Syncer().SyncNow(context.Background()); err != nil {
			a.logger.Error("manual sync failed", slog.String("error", err.Error()))
		}
	}()
	a.writeJSON(w, http.StatusAccepted, StatusResponse{Status: "sync started"})
}

func (a *API) listInstances(w http.ResponseWriter, r *http.Request) {
	insts, err := a.eng.ClusterStore().ListInstances(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, insts)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Circulator().Store().Ping(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
