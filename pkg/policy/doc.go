/*
Package policy implements the admission policies of the execution scheduler.

An Engine keeps two ordered sets of items: the active set, whose members hold
a processing slot, and a FIFO queue. Admit decides what happens to a new item
under one of four policies:

  - Concat starts the item when nothing is active and queues it otherwise.
    Items start in arrival order and none is ever dropped.
  - Switch displaces every active and queued item and starts the new one.
    The caller is told which items to cancel.
  - Exhaust turns the item away while another is in flight and reports the
    in-flight item instead.
  - Merge behaves like Concat with a configurable number of slots.

Release removes an item that finished (or was cancelled) and promotes queued
items into the freed slots:

	engine, err := policy.NewEngine[string](policy.Merge, 2)
	if err != nil {
		log.Fatal(err)
	}

	engine.Admit("a") // Start
	engine.Admit("b") // Start
	engine.Admit("c") // Queued

	next := engine.Release("a") // ["c"]

Engine performs no locking. Slots, the counter underneath it, is safe for
concurrent use and panics when released more often than acquired.
*/
package policy
