// Package config loads node definitions and composes node attributes.
//
// A node file names the node, its run list and its attributes:
//
//	name: db1
//	run_list:
//	  - recipe[mysql::ruby]
//	attributes:
//	  mysql:
//	    implementation: mariadb
//	attribute_scripts:
//	  - client.star
//
// YAML, JSON and CUE node files are accepted. Every file is checked twice:
// once with validator struct tags and once against the built-in CUE #Node
// schema, which also constrains known cookbook attributes.
//
// # Attribute precedence
//
// Attributes are stored in four layers. Reads see the deep merge of all
// layers, higher layers winning:
//
//	default < normal < override < automatic
//
// Defaults come from the mysql and build-essential cookbooks for the node's
// platform family, normal attributes from the node file, overrides from the
// node file and from attribute scripts, automatic attributes from facts.
//
// # Attribute scripts
//
// Attribute scripts are Starlark programs. They see the merged attributes
// as the global "node" and publish overrides by assigning a dict to
// "override":
//
//	if node["platform_family"] == "rhel":
//	    override = {"mysql": {"client": {"packages": ["mysql", "mysql-devel"]}}}
//
// Scripts run with a timeout and cannot print or load modules.
package config
