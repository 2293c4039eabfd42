// Package policy evaluates Open Policy Agent (Rego) policies against
// finished runs.
//
// Policies see one document as input:
//
//	{
//	  "node":           {...merged node attributes...},
//	  "run_list":       ["mysql::percona_repo", "mysql::ruby"],
//	  "loaded_recipes": [...],
//	  "dry_run":        false,
//	  "activations":    [{"seq": 1, "ref": "repository[percona]", "kind": "repository", ...}]
//	}
//
// Every policy module must define a "deny" set. Elements are either a
// message string or an object with "message", "severity" and "resource"
// fields. Violations with severity error or critical fail the run.
//
// # Built-in policies
//
//   - repository-overlap (warning): percona and mariadb repositories both
//     activated in one run
//   - unsupported-platform (info): mysql::ruby ran on a platform family
//     without a repository branch
//   - driver-last (error): the driver gem was not the last compile-time
//     activation
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPaths(ctx, []string{"/etc/froyo-mysql/policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, policy.NewInput(run, node.Merged()))
//
// User policies are plain .rego files, or .json files carrying a Policy
// document. Loader.Watch reloads them when they change.
package policy
