package policy

// Built-in policy names.
const (
	RepositoryOverlapPolicy   = "repository-overlap"
	UnsupportedPlatformPolicy = "unsupported-platform"
	DriverLastPolicy          = "driver-last"
)

// BuiltinPolicies returns the policies shipped with the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		repositoryOverlapPolicy(),
		unsupportedPlatformPolicy(),
		driverLastPolicy(),
	}
}

// repositoryOverlapPolicy flags runs that activated both the Percona and
// the MariaDB repository.
func repositoryOverlapPolicy() Policy {
	return Policy{
		Name:        RepositoryOverlapPolicy,
		Description: "Warns when the Percona and MariaDB repositories are both active on one node",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package froyo.policies.overlap

import rego.v1

activated(name) if {
	some a in input.activations
	a.kind == "repository"
	a.name == name
	not a.error
}

deny contains violation if {
	activated("percona")
	activated("mariadb")
	violation := {
		"message": "percona and mariadb repositories were both activated; client packages may come from either",
		"severity": "warning",
		"resource": "repository[mariadb]",
	}
}`,
	}
}

// unsupportedPlatformPolicy notes nodes where no repository branch
// applies.
func unsupportedPlatformPolicy() Policy {
	return Policy{
		Name:        UnsupportedPlatformPolicy,
		Description: "Reports platform families without Percona or MariaDB repository support",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Rego: `package froyo.policies.platform

import rego.v1

supported := {"debian", "rhel"}

deny contains violation if {
	"mysql::ruby" in input.loaded_recipes
	family := input.node.platform_family
	not family in supported
	violation := {
		"message": sprintf("platform family %s has no repository branch; client packages come from the distribution", [family]),
		"severity": "info",
	}
}`,
	}
}

// driverLastPolicy requires the driver gem to be the last activation of
// the compile phase.
func driverLastPolicy() Policy {
	return Policy{
		Name:        DriverLastPolicy,
		Description: "Requires the mysql driver gem to be installed after every other compile-time activation",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package froyo.policies.driver

import rego.v1

compile_phase := [a | some a in input.activations; a.phase == "compile"]

deny contains violation if {
	some i, a in compile_phase
	a.kind == "gem"
	a.name == "mysql"
	i != count(compile_phase) - 1
	violation := {
		"message": sprintf("driver gem activated at compile position %d of %d", [i + 1, count(compile_phase)]),
		"severity": "error",
		"resource": a.ref,
	}
}`,
	}
}
