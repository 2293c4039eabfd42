// Package engine provides the core types and interfaces for the froyo-mysql
// convergence engine.
//
// # Overview
//
// A run converges one node in four phases:
//
//  1. Facts - Discover the node's platform and platform family
//  2. Compile - Load the run-list recipes; recipes declare resources and may
//     activate some of them immediately
//  3. Converge - Activate the remaining declared resources in declaration order
//  4. Report - Evaluate policies on the activation journal and persist the run
//
// # Core Domain Types
//
//   - Resource: A declared unit of desired state (package, repository, key, gem)
//   - ResourceRef: The kind and name of a resource; lookups are keyed by it
//   - ResourceHandle: A typed handle returned by ResourceRegistry.Lookup
//   - Activation: One entry of the run's activation journal
//   - Run: A convergence of a node with its journal and summary
//   - Facts: Discovered platform information
//
// # Collaborator Interfaces
//
// Recipes never touch process-wide state. Everything they read or trigger
// comes through interfaces passed in by the run:
//
//   - RecipeInclusionSet: which recipes have been loaded
//   - RecipeIncluder: load another recipe
//   - Attributes: dotted-key node attributes
//   - ResourceRegistry: look up and activate declared resources
//   - DriverInstaller: install the language-runtime database driver
//
// Resources are converged by a Provider per resource type, which in turn
// runs commands through a Shell (local or SSH).
//
// # Error Classification
//
// Errors are classified (transient, conflict, permanent) and carry a code.
// A run never retries; any error aborts it and is reported unmodified:
//
//	if IsNotFound(err) {
//	    // a resource or attribute was never declared
//	}
//
// # Ordering
//
// Every activation completes before the next one starts. Repository and key
// activations issued by a recipe therefore finish before the packages that
// depend on them are installed.
package engine
