package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

func TestAttributes_Precedence(t *testing.T) {
	attrs := NewAttributes()
	attrs.Set(PrecedenceDefault, "mysql.implementation", "mysql")
	attrs.Set(PrecedenceNormal, "mysql.implementation", "mariadb")

	got, err := attrs.String("mysql.implementation")
	require.NoError(t, err)
	assert.Equal(t, "mariadb", got)

	attrs.Set(PrecedenceOverride, "mysql.implementation", "galera")
	got, err = attrs.String("mysql.implementation")
	require.NoError(t, err)
	assert.Equal(t, "galera", got)

	attrs.Set(PrecedenceAutomatic, "platform_family", "rhel")
	attrs.Set(PrecedenceOverride, "platform_family", "debian")
	got, err = attrs.String("platform_family")
	require.NoError(t, err)
	assert.Equal(t, "rhel", got, "automatic attributes win over overrides")
}

func TestAttributes_DeepMerge(t *testing.T) {
	attrs := NewAttributes()
	attrs.Merge(PrecedenceDefault, map[string]interface{}{
		"mysql": map[string]interface{}{
			"client": map[string]interface{}{
				"packages": []string{"mysql-client", "libmysqlclient-dev"},
			},
			"ruby": map[string]interface{}{"gem_binary": "gem"},
		},
	})
	attrs.Merge(PrecedenceNormal, map[string]interface{}{
		"mysql": map[string]interface{}{
			"ruby": map[string]interface{}{"gem_binary": "/opt/chef/embedded/bin/gem"},
		},
	})

	pkgs, err := attrs.Strings("mysql.client.packages")
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql-client", "libmysqlclient-dev"}, pkgs)

	bin, err := attrs.String("mysql.ruby.gem_binary")
	require.NoError(t, err)
	assert.Equal(t, "/opt/chef/embedded/bin/gem", bin)

	mysql, ok := attrs.Get("mysql")
	require.True(t, ok)
	assert.Contains(t, mysql.(map[string]interface{}), "client")
	assert.Contains(t, mysql.(map[string]interface{}), "ruby")

	assert.Equal(t, []string{"mysql.client.packages", "mysql.ruby.gem_binary"}, attrs.Keys())
}

func TestAttributes_ListsReplace(t *testing.T) {
	attrs := NewAttributes()
	attrs.Set(PrecedenceDefault, "mysql.client.packages", []string{"a", "b"})
	attrs.Set(PrecedenceNormal, "mysql.client.packages", []interface{}{"c"})

	pkgs, err := attrs.Strings("mysql.client.packages")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, pkgs)
}

func TestAttributes_Missing(t *testing.T) {
	attrs := NewAttributes()

	_, err := attrs.Strings("mysql.client.packages")
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
	assert.ErrorIs(t, err, &engine.EngineError{Class: engine.ErrorClassPermanent, Code: engine.ErrCodeMissingAttribute})

	_, err = attrs.String("mysql.implementation")
	assert.True(t, engine.IsNotFound(err))

	assert.Equal(t, "mysql", attrs.StringOr("mysql.implementation", "mysql"))
	assert.False(t, attrs.Bool("build-essential.compile_time"))
}

func TestAttributes_EmptyListIsNotMissing(t *testing.T) {
	attrs := NewAttributes()
	attrs.Set(PrecedenceNormal, "mysql.client.packages", []interface{}{})

	pkgs, err := attrs.Strings("mysql.client.packages")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestAttributes_WrongType(t *testing.T) {
	attrs := NewAttributes()
	attrs.Set(PrecedenceNormal, "mysql.client.packages", "mysql-client")
	attrs.Set(PrecedenceNormal, "mysql.implementation", int64(3))
	attrs.Set(PrecedenceNormal, "mixed", []interface{}{"a", int64(1)})

	_, err := attrs.Strings("mysql.client.packages")
	require.Error(t, err)
	assert.False(t, engine.IsNotFound(err))

	_, err = attrs.String("mysql.implementation")
	require.Error(t, err)

	_, err = attrs.Strings("mixed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed[1]")
}

func TestAttributes_MergedIsACopy(t *testing.T) {
	attrs := NewAttributes()
	attrs.Set(PrecedenceNormal, "mysql.client.packages", []string{"a"})

	merged := attrs.Merged()
	merged["mysql"].(map[string]interface{})["client"].(map[string]interface{})["packages"] = []interface{}{"x"}

	pkgs, err := attrs.Strings("mysql.client.packages")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, pkgs)
}

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name           string
		family         string
		implementation string
		wantPackages   []string
		wantMissing    bool
	}{
		{name: "debian", family: "debian", wantPackages: []string{"mysql-client", "libmysqlclient-dev"}},
		{name: "rhel", family: "rhel", wantPackages: []string{"mysql", "mysql-devel"}},
		{name: "fedora", family: "fedora", wantPackages: []string{"community-mysql", "community-mysql-devel"}},
		{name: "debian mariadb", family: "debian", implementation: "mariadb", wantPackages: []string{"mariadb-client", "libmariadbclient-dev"}},
		{name: "rhel galera", family: "rhel", implementation: "galera", wantPackages: []string{"MariaDB-client", "MariaDB-devel"}},
		{name: "suse mariadb falls back", family: "suse", implementation: "mariadb", wantPackages: []string{"mysql-community-server-client", "libmysqlclient-devel"}},
		{name: "unknown family", family: "arch", wantMissing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := NewAttributes()
			if tt.implementation != "" {
				attrs.Set(PrecedenceNormal, AttrImplementation, tt.implementation)
			}
			ApplyDefaults(attrs, tt.family)

			pkgs, err := attrs.Strings(AttrClientPackages)
			if tt.wantMissing {
				assert.True(t, engine.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPackages, pkgs)

			bin, err := attrs.String(AttrGemBinary)
			require.NoError(t, err)
			assert.Equal(t, "gem", bin)

			uri, err := attrs.String("mysql.percona.apt.uri")
			require.NoError(t, err)
			assert.Equal(t, "http://repo.percona.com/apt", uri)
		})
	}
}

func TestIsMariaDBFamily(t *testing.T) {
	assert.True(t, IsMariaDBFamily("mariadb"))
	assert.True(t, IsMariaDBFamily("galera"))
	assert.False(t, IsMariaDBFamily("percona"))
	assert.False(t, IsMariaDBFamily("mysql"))
}
