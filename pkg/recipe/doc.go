// Package recipe implements the mysql cookbook recipes that install the
// MySQL client and its Ruby driver.
//
// The heart of the package is Selector, which looks at the recipes already
// loaded in the run and the node attributes to decide whether the Percona
// or MariaDB repositories must be activated before the client packages.
// Recipes run against a RunContext that tracks inclusion order and exposes
// the resource collection.
package recipe
