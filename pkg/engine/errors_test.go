package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "message only",
			err:  NewPermanentError("lookup failed", errors.New("boom")),
			want: "[permanent] lookup failed: boom",
		},
		{
			name: "with resource",
			err:  NewPermanentError("lookup failed", errors.New("boom")).WithResource("repository[percona]"),
			want: "[permanent] lookup failed (resource=repository[percona]): boom",
		},
		{
			name: "with resource and operation",
			err: NewTransientError("ssh session", errors.New("eof")).
				WithResource("package[mysql-client]").
				WithOperation("install"),
			want: "[transient] ssh session (resource=package[mysql-client], operation=install): eof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestEngineErrorChain(t *testing.T) {
	root := errors.New("exit status 100")
	err := NewPermanentError("apt-get install failed", root).
		WithCode(ErrCodeCommandFailed).
		WithDetail("stderr", "E: Unable to locate package")

	wrapped := fmt.Errorf("activate package[mysql-client]: %w", err)

	require.ErrorIs(t, wrapped, root)
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.Equal(t, ErrorClassPermanent, ErrorClassOf(wrapped))
	assert.Equal(t, "E: Unable to locate package", err.Details["stderr"])

	// errors.Is matches on class and code
	assert.ErrorIs(t, wrapped, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeCommandFailed})
	assert.NotErrorIs(t, wrapped, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewPermanentError("no resource", nil).WithCode(ErrCodeNotFound)))
	assert.True(t, IsNotFound(NewPermanentError("no attribute", nil).WithCode(ErrCodeMissingAttribute)))
	assert.False(t, IsNotFound(NewConflictError("dup", nil).WithCode(ErrCodeAlreadyExists)))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Equal(t, ErrorClassPermanent, ErrorClassOf(errors.New("plain")))
}

func TestResourceRefs(t *testing.T) {
	assert.Equal(t, "repository[percona]", PerconaRepository.String())
	assert.Equal(t, "key[percona-gpg-key]", PerconaGPGKey.String())
	assert.Equal(t, "package[mysql-client]", PackageRef("mysql-client").String())

	h := NewResourceHandle(MariaDBRepository, 3)
	assert.Equal(t, MariaDBRepository, h.Ref())
	assert.Equal(t, 3, h.Seq())

	require.NoError(t, KindGem.Validate())
	require.Error(t, ResourceKind("service").Validate())
}

func TestDecodeProperties(t *testing.T) {
	r := &Resource{
		Ref:        PackageRef("mysql-client"),
		Properties: []byte(`{"package_name":"mysql-client","options":["--no-install-recommends"]}`),
	}

	var props struct {
		PackageName string   `json:"package_name"`
		Options     []string `json:"options"`
	}
	require.NoError(t, r.DecodeProperties(&props))
	assert.Equal(t, "mysql-client", props.PackageName)
	assert.Equal(t, []string{"--no-install-recommends"}, props.Options)

	r.Properties = []byte(`{"package_name":`)
	err := r.DecodeProperties(&props)
	require.Error(t, err)
	assert.ErrorIs(t, err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation})
}

func TestRunSummarize(t *testing.T) {
	run := &Run{
		Activations: []Activation{
			{Seq: 1, Ref: PerconaRepository, Changed: true},
			{Seq: 2, Ref: PackageRef("mysql-client"), Changed: false},
			{Seq: 3, Ref: ResourceRef{Kind: KindGem, Name: "mysql"}, Error: "gem install failed"},
		},
	}
	run.Summarize(5)

	assert.Equal(t, RunSummary{Declared: 5, Activated: 3, Changed: 1, Failed: 1}, run.Summary)
}
