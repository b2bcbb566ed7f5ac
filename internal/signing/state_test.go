package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func result(signable int, fps ...string) *Result {
	r := &Result{Signable: signable}
	for _, fp := range fps {
		r.Signers = append(r.Signers, &Signer{Fingerprint: fp, Trusted: fp == "trusted"})
	}
	return r
}

func TestSetState(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]*Result
		want    State
	}{
		{"empty", nil, None},
		{"all unsigned", map[string]*Result{"a": result(1), "b": result(2)}, None},
		{"common signer", map[string]*Result{"a": result(1, "x"), "b": result(1, "x", "y")}, Full},
		{"disjoint signers", map[string]*Result{"a": result(1, "x"), "b": result(1, "y")}, Partial},
		{"one unsigned", map[string]*Result{"a": result(1, "x"), "b": result(1)}, Partial},
		{"trivial ignored", map[string]*Result{"a": result(1, "x"), "b": result(0)}, Full},
		{"only trivial", map[string]*Result{"a": result(0)}, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSet()
			for k, r := range tt.results {
				s.Add(k, r)
			}
			assert.Equal(t, tt.want, s.State())
			assert.Equal(t, tt.want.String(), s.State().String())
		})
	}
}

func TestSetPublisherPrefersTrusted(t *testing.T) {
	s := NewSet()
	s.Add("a", result(1, "aaa", "trusted"))
	s.Add("b", result(1, "trusted", "aaa"))

	assert.Len(t, s.CommonSigners(), 2)
	assert.Equal(t, "trusted", s.Publisher().Fingerprint)
	assert.True(t, s.RootTrusted())
	assert.True(t, s.AllSigned())
	assert.True(t, s.Signed("a"))
	assert.False(t, s.Signed("missing"))
}

func TestSetDowngradesOnNewJar(t *testing.T) {
	s := NewSet()
	s.Add("a", result(1, "x"))
	assert.True(t, s.FullySigned())

	s.Add("b", result(3))
	assert.Equal(t, Partial, s.State())
	assert.False(t, s.AllSigned())
	assert.Nil(t, s.Publisher())
	assert.False(t, s.RootTrusted())
}
