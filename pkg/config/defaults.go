package config

// Attribute keys read by the cookbook recipes.
const (
	AttrPlatform        = "platform"
	AttrPlatformFamily  = "platform_family"
	AttrPlatformVersion = "platform_version"
	AttrHostname        = "hostname"
	AttrCodename        = "lsb.codename"

	AttrImplementation = "mysql.implementation"
	AttrClientPackages = "mysql.client.packages"
	AttrGemBinary      = "mysql.ruby.gem_binary"

	AttrBuildEssentialCompileTime = "build-essential.compile_time"
)

// Implementations of the MySQL server family.
const (
	ImplementationMySQL   = "mysql"
	ImplementationMariaDB = "mariadb"
	ImplementationGalera  = "galera"
	ImplementationPercona = "percona"
)

// IsMariaDBFamily reports whether implementation is served from the MariaDB
// repository.
func IsMariaDBFamily(implementation string) bool {
	return implementation == ImplementationMariaDB || implementation == ImplementationGalera
}

// clientPackages lists the default client packages per platform family.
var clientPackages = map[string][]string{
	"debian": {"mysql-client", "libmysqlclient-dev"},
	"rhel":   {"mysql", "mysql-devel"},
	"fedora": {"community-mysql", "community-mysql-devel"},
	"suse":   {"mysql-community-server-client", "libmysqlclient-devel"},
}

// mariadbClientPackages lists the client packages when the MariaDB
// repository is in use.
var mariadbClientPackages = map[string][]string{
	"debian": {"mariadb-client", "libmariadbclient-dev"},
	"rhel":   {"MariaDB-client", "MariaDB-devel"},
}

// ApplyDefaults sets the mysql and build-essential cookbook defaults for
// the platform family at default precedence. Families without known client
// packages get no mysql.client.packages default, so a node on such a
// platform must set it explicitly.
func ApplyDefaults(attrs *Attributes, platformFamily string) {
	attrs.Set(PrecedenceDefault, AttrImplementation, ImplementationMySQL)
	attrs.Set(PrecedenceDefault, AttrGemBinary, "gem")
	attrs.Set(PrecedenceDefault, AttrBuildEssentialCompileTime, false)

	implementation := attrs.StringOr(AttrImplementation, ImplementationMySQL)
	packages, ok := clientPackages[platformFamily]
	if IsMariaDBFamily(implementation) {
		if mpkgs, mok := mariadbClientPackages[platformFamily]; mok {
			packages, ok = mpkgs, true
		}
	}
	if ok {
		attrs.Set(PrecedenceDefault, AttrClientPackages, packages)
	}

	attrs.Merge(PrecedenceDefault, map[string]interface{}{
		"mysql": map[string]interface{}{
			"percona": map[string]interface{}{
				"apt": map[string]interface{}{
					"uri":        "http://repo.percona.com/apt",
					"components": []string{"main"},
					"keyserver":  "keys.gnupg.net",
					"key":        "1C4CBDCDCD2EFD2A",
				},
				"yum": map[string]interface{}{
					"description": "Percona Packages",
					"baseurl":     "http://repo.percona.com/centos/$releasever/os/$basearch/",
					"gpgkey":      "http://www.percona.com/downloads/RPM-GPG-KEY-percona",
				},
			},
			"mariadb": map[string]interface{}{
				"apt": map[string]interface{}{
					"uri":        "http://ftp.osuosl.org/pub/mariadb/repo/5.5/" + aptDistro(platformFamily, attrs),
					"components": []string{"main"},
					"keyserver":  "keyserver.ubuntu.com",
					"key":        "0xcbcb082a1bb943db",
				},
				"yum": map[string]interface{}{
					"description": "MariaDB",
					"baseurl":     "http://yum.mariadb.org/5.5/centos$releasever-amd64",
					"gpgkey":      "https://yum.mariadb.org/RPM-GPG-KEY-MariaDB",
				},
			},
		},
	})
}

// aptDistro returns the distribution path segment of the MariaDB mirror.
func aptDistro(platformFamily string, attrs *Attributes) string {
	if platformFamily != "debian" {
		return ""
	}
	return attrs.StringOr(AttrPlatform, "ubuntu")
}
