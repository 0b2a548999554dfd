// Package engine wires all Circulate subsystems together and turns a
// configured Circulator into a running circulation service.
//
// # Building an Engine
//
// Create a Circulator with a store, then build the engine around it:
//
//	c, err := circulate.New(
//		circulate.WithStore(memory.New()),
//		circulate.WithConcurrency(4),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	eng, err := engine.Build(c,
//		engine.WithExtension(webhook.New("https://ops.example.com/hooks")),
//		engine.WithSyncSource(syncer.NewHTTPSource("central-catalog", feedURL)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Build wires the scheduler middleware chain, registers the journal
// recorder, the dead letter capture, the stream broker, and the
// observability metrics extension, and announces the instance in the
// cluster store.
//
// # Running Operations
//
// All circulation work goes through the service, which schedules one
// task per mutating action and hands back an outcome:
//
//	out := eng.Service().Borrow(ctx, bookID, memberID)
//	loan, err := sched.Await[*catalog.Loan](ctx, out)
//
// # Lifecycle
//
// Start and Stop are normally driven through the Circulator, which
// Build registers itself with:
//
//	if err := c.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer c.Stop(context.Background())
//
// Start initializes every extension, begins scheduled catalog syncing,
// and starts cluster heartbeats. Stop discards pending tasks, drains
// in-flight ones within the configured shutdown timeout, and
// deregisters the instance.
package engine
