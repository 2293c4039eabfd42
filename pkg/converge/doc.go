// Package converge runs a node's run list against a target.
//
// A run collects facts through the target's shell, composes the node's
// attributes, loads each recipe of the run list in order (the compile
// phase, during which recipes such as mysql::ruby activate resources
// immediately), then activates every resource still pending (the
// converge phase). Policies are evaluated over the finished run. The
// run, its activation journal and its events are recorded in the store.
//
//	runner := converge.NewRunner(loader, collector,
//	    converge.WithStore(store),
//	    converge.WithPolicy(policies),
//	    converge.WithTelemetry(tel),
//	)
//	run, err := runner.Converge(ctx, converge.Request{Node: node, Shell: shell})
package converge
