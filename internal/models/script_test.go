package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"My Strategy":     "my_strategy",
		"  Alice ":        "alice",
		"MIXED case Name": "mixed_case_name",
		"already_clean":   "already_clean",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestScriptIdentity_KeyCollapsesEquivalentInputs(t *testing.T) {
	a := ScriptIdentity{User: "Alice", Title: "My Strategy"}
	b := ScriptIdentity{User: " alice", Title: "my strategy "}

	assert.Equal(t, "alice/my_strategy", a.Key())
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, a.Sanitized(), b.Sanitized())
}

func TestScriptIdentity_Valid(t *testing.T) {
	assert.True(t, NewScriptIdentity("bob", "X").Valid())
	assert.False(t, ScriptIdentity{User: "", Title: "x"}.Valid())
	assert.False(t, ScriptIdentity{User: "bob", Title: "  "}.Valid())
	assert.False(t, ScriptIdentity{User: "..", Title: "x"}.Valid())
	assert.False(t, ScriptIdentity{User: "bob", Title: "a/b"}.Valid())
}

func TestScript_Identity(t *testing.T) {
	s := Script{User: "Bob", Title: "Mean Reversion"}
	assert.Equal(t, ScriptIdentity{User: "bob", Title: "mean_reversion"}, s.Identity())
}
