// Package resourcesync keeps user-authored resources synchronized
// between an application's form layer, a durable local mirror, and a
// remote store, without ever blocking the UI on the network or losing
// typed content to a sign-out, a flaky connection, or a renamed
// section.
//
// A Client owns the shared machinery: the identity gate, the local
// mirror, the record resolver, the reconciliation engine, and the
// single-processor save queue. Each editable record is represented by
// a Resource, obtained from the Client, which forwards field changes
// from the form layer and manages that record's hydrate/edit/save
// lifecycle:
//
//	c, err := resourcesync.New(resourcesync.Config{
//		Store:    rest.New(restCfg, log),
//		Identity: authProvider,
//		Storage:  storage,
//	})
//	if err != nil { ... }
//	defer c.Close()
//
//	res := c.Resource(resourcesync.Scope{StepID: "step-3", Section: "SWOT Analysis"}, "swot_analysis")
//	res.Hydrate(ctx, defaults)
//	res.HandleFieldChange("strengths", "fast iteration")
//
// Saves are debounced, deduplicated by content signature, queued, and
// retried with a bounded budget. A save attempted while signed out is
// parked, not failed: the content stays in the mirror and the queue,
// and the next sign-in re-attempts it automatically.
package resourcesync
