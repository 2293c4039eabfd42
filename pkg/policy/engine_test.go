package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)
	return eng
}

func activation(seq int, ref engine.ResourceRef, phase engine.Phase) engine.Activation {
	return engine.Activation{Seq: seq, Ref: ref, Phase: phase, Action: engine.ActionInstall}
}

var gemMySQL = engine.ResourceRef{Kind: engine.KindGem, Name: "mysql"}

func rubyRun(activations ...engine.Activation) *engine.Run {
	return &engine.Run{
		ID:            "run-1",
		Node:          "db1",
		RunList:       []string{"mysql::ruby"},
		LoadedRecipes: []string{"mysql::ruby", "build-essential::default", "mysql::client"},
		Activations:   activations,
	}
}

func violationsOf(result *engine.PolicyResult, policy string) []engine.PolicyViolation {
	var out []engine.PolicyViolation
	for _, v := range result.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		assert.True(t, p.Builtin)
		assert.True(t, p.Enabled)
	}
	assert.Equal(t, []string{DriverLastPolicy, RepositoryOverlapPolicy, UnsupportedPlatformPolicy}, names)
}

func TestEvaluate_CleanRun(t *testing.T) {
	eng := newTestEngine(t)

	run := rubyRun(
		activation(1, engine.PerconaRepository, engine.PhaseCompile),
		activation(2, engine.PackageRef("mysql-client"), engine.PhaseCompile),
		activation(3, gemMySQL, engine.PhaseCompile),
		activation(4, engine.PackageRef("zlib1g-dev"), engine.PhaseConverge),
	)
	result, err := eng.Evaluate(context.Background(), NewInput(run, map[string]interface{}{"platform_family": "debian"}))
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.Warnings)
	assert.False(t, result.EvaluatedAt.IsZero())
}

func TestEvaluate_RepositoryOverlap(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name string
		run  *engine.Run
		want int
	}{
		{
			name: "both repositories",
			run: rubyRun(
				activation(1, engine.PerconaRepository, engine.PhaseCompile),
				activation(2, engine.MariaDBRepository, engine.PhaseCompile),
				activation(3, gemMySQL, engine.PhaseCompile),
			),
			want: 1,
		},
		{
			name: "percona only",
			run: rubyRun(
				activation(1, engine.PerconaRepository, engine.PhaseCompile),
				activation(2, gemMySQL, engine.PhaseCompile),
			),
			want: 0,
		},
		{
			name: "failed mariadb activation",
			run: func() *engine.Run {
				failed := activation(2, engine.MariaDBRepository, engine.PhaseCompile)
				failed.Error = "apt-get update failed"
				return rubyRun(activation(1, engine.PerconaRepository, engine.PhaseCompile), failed)
			}(),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), NewInput(tt.run, map[string]interface{}{"platform_family": "debian"}))
			require.NoError(t, err)

			got := violationsOf(result, RepositoryOverlapPolicy)
			require.Len(t, got, tt.want)
			if tt.want > 0 {
				assert.Equal(t, string(SeverityWarning), got[0].Severity)
				assert.True(t, result.Allowed)
			}
		})
	}
}

func TestEvaluate_UnsupportedPlatform(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		family string
		want   int
	}{
		{family: "debian", want: 0},
		{family: "rhel", want: 0},
		{family: "suse", want: 1},
		{family: "arch", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), NewInput(rubyRun(), map[string]interface{}{"platform_family": tt.family}))
			require.NoError(t, err)

			got := violationsOf(result, UnsupportedPlatformPolicy)
			require.Len(t, got, tt.want)
			if tt.want > 0 {
				assert.Equal(t, string(SeverityInfo), got[0].Severity)
				assert.Contains(t, got[0].Message, tt.family)
			}
			assert.True(t, result.Allowed)
		})
	}

	// only reported when mysql::ruby ran
	run := rubyRun()
	run.LoadedRecipes = []string{"mysql::client"}
	result, err := eng.Evaluate(context.Background(), NewInput(run, map[string]interface{}{"platform_family": "suse"}))
	require.NoError(t, err)
	assert.Empty(t, violationsOf(result, UnsupportedPlatformPolicy))
}

func TestEvaluate_DriverLast(t *testing.T) {
	eng := newTestEngine(t)

	run := rubyRun(
		activation(1, gemMySQL, engine.PhaseCompile),
		activation(2, engine.PackageRef("mysql-client"), engine.PhaseCompile),
	)
	result, err := eng.Evaluate(context.Background(), NewInput(run, map[string]interface{}{"platform_family": "debian"}))
	require.NoError(t, err)

	got := violationsOf(result, DriverLastPolicy)
	require.Len(t, got, 1)
	assert.Equal(t, string(SeverityError), got[0].Severity)
	assert.Equal(t, "gem[mysql]", got[0].Resource)
	assert.Equal(t, "driver gem activated at compile position 1 of 2", got[0].Message)
	assert.False(t, result.Allowed)
}

func TestEvaluate_DisabledPolicy(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.DisablePolicy(DriverLastPolicy))

	run := rubyRun(
		activation(1, gemMySQL, engine.PhaseCompile),
		activation(2, engine.PackageRef("mysql-client"), engine.PhaseCompile),
	)
	result, err := eng.Evaluate(context.Background(), NewInput(run, nil))
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Empty(t, violationsOf(result, DriverLastPolicy))

	require.NoError(t, eng.EnablePolicy(DriverLastPolicy))
	p, err := eng.GetPolicy(DriverLastPolicy)
	require.NoError(t, err)
	assert.True(t, p.Enabled)

	err = eng.DisablePolicy("no-such-policy")
	assert.True(t, engine.IsNotFound(err))
}

func TestLoad_UserPolicy(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Load(context.Background(), []Policy{{
		Name:     "no-mariadb",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package site.mariadb

import rego.v1

deny contains msg if {
	input.node.mysql.implementation == "mariadb"
	msg := "mariadb is not allowed on this site"
}`,
	}})
	require.NoError(t, err)

	node := map[string]interface{}{
		"platform_family": "debian",
		"mysql":           map[string]interface{}{"implementation": "mariadb"},
	}
	result, err := eng.Evaluate(context.Background(), NewInput(rubyRun(), node))
	require.NoError(t, err)

	got := violationsOf(result, "no-mariadb")
	require.Len(t, got, 1)
	assert.Equal(t, "mariadb is not allowed on this site", got[0].Message)
	assert.Equal(t, string(SeverityCritical), got[0].Severity)
	assert.False(t, result.Allowed)
}

func TestLoad_InvalidPolicyAddsNothing(t *testing.T) {
	eng := newTestEngine(t)
	before := len(eng.ListPolicies())

	err := eng.Load(context.Background(), []Policy{
		{Name: "good", Enabled: true, Rego: "package good\n\nimport rego.v1\n\ndeny contains \"x\" if { false }"},
		{Name: "bad", Enabled: true, Rego: "package bad\n\ndeny[ {"},
	})
	require.Error(t, err)

	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.ErrCodeValidation, ee.Code)
	assert.Len(t, eng.ListPolicies(), before)
}

func TestReplace_KeepsBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	first := Policy{Name: "first", Enabled: true, Rego: "package first\n\nimport rego.v1\n\ndeny contains \"first\" if { false }"}
	second := Policy{Name: "second", Enabled: true, Rego: "package second\n\nimport rego.v1\n\ndeny contains \"second\" if { false }"}

	require.NoError(t, eng.Load(context.Background(), []Policy{first}))
	require.NoError(t, eng.Replace(context.Background(), []Policy{second}))

	_, err := eng.GetPolicy("first")
	assert.True(t, engine.IsNotFound(err))
	_, err = eng.GetPolicy("second")
	assert.NoError(t, err)
	_, err = eng.GetPolicy(DriverLastPolicy)
	assert.NoError(t, err)
}

func TestEvaluate_CancelledContext(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Evaluate(ctx, NewInput(rubyRun(), nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewInput(t *testing.T) {
	run := rubyRun(engine.Activation{
		Seq:      1,
		Ref:      engine.PerconaGPGKey,
		Provider: "yum_key",
		Action:   engine.ActionAdd,
		Phase:    engine.PhaseCompile,
		Changed:  true,
	})
	run.DryRun = true

	in := NewInput(run, nil)
	assert.NotNil(t, in.Node)
	assert.True(t, in.DryRun)
	require.Len(t, in.Activations, 1)
	assert.Equal(t, ActivationInput{
		Seq:      1,
		Ref:      "key[percona-gpg-key]",
		Kind:     "key",
		Name:     "percona-gpg-key",
		Provider: "yum_key",
		Action:   "add",
		Phase:    "compile",
		Changed:  true,
	}, in.Activations[0])
}
