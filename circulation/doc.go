// Package circulation implements the lending workflow on top of the task
// scheduler: cataloging, borrowing, returning, reserving, and catalog
// synchronization.
//
// Every mutating action is submitted to the scheduler as one labeled task
// and returns a [sched.Outcome] immediately. The outcome is the only
// channel through which the caller learns whether the action succeeded;
// service methods never block on execution.
//
//	svc := circulation.NewService(store, scheduler)
//
//	outcome := svc.Borrow(ctx, bookID, memberID)
//	if err := outcome.Wait(ctx); err != nil {
//	    // no copies, loan limit reached, permission denied, ...
//	}
//
// # Ops
//
// Each action is described by a serializable [Op]. The op rides on the
// task as its payload, so lifecycle extensions (the journal recorder, the
// dead letter capture) can attribute and replay work. [Service.Apply]
// executes a descriptor directly, which is how dead-lettered ops are
// replayed and how remote submissions arrive over the wire.
//
// # Permissions
//
// When the submitting context carries an actor (see [circulate.WithActor]),
// the service loads the member and enforces role checks: catalog changes
// require a librarian or admin, circulation actions any known role.
// Internal submissions such as scheduled syncs carry no actor and skip
// the check.
package circulation
