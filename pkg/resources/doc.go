// Package resources implements the run's resource collection.
//
// Recipes declare resources into a Collection; nothing happens until a
// resource is activated. A recipe may activate a resource immediately
// (compile phase) by looking it up and passing the handle to Activate:
//
//	h, err := coll.Lookup(engine.KindRepository, "percona")
//	if err != nil {
//	    return err
//	}
//	if err := coll.Activate(ctx, h); err != nil {
//	    return err
//	}
//
// Resources still pending after compilation are activated in declaration
// order by the converge phase. Every activation is appended to the journal
// and reported to observers.
package resources
