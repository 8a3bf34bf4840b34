package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigContent_MD5(t *testing.T) {
	c := NewConfigContent("a=1")
	assert.Equal(t, "a=1", c.Content())
	assert.Equal(t, "3872c9ae3f427af0be0ead09d07ae2cf", c.MD5())
}

func TestNewTarget_CollapsesEmptyTenant(t *testing.T) {
	withEmpty := NewTarget("d1", "g1", "")
	withAbsent := Target{DataID: "d1", Group: "g1", Tenant: ""}
	assert.Equal(t, withAbsent, withEmpty)
}

func TestTarget_ParamString(t *testing.T) {
	t1 := NewTarget("d1", "g1", "")
	require.Equal(t, "d1\x02g1\x02\x01", t1.ParamString())

	t2 := NewTarget("d1", "g1", "t1")
	require.Equal(t, "d1\x02g1\x02t1\x01", t2.ParamString())
}

func TestTarget_ParamString_Injective(t *testing.T) {
	seen := map[string]Target{}
	targets := []Target{
		NewTarget("d1", "g1", ""),
		NewTarget("d1", "g2", ""),
		NewTarget("d2", "g1", ""),
		NewTarget("d1", "g1", "t1"),
	}
	for _, tg := range targets {
		key := tg.ParamString()
		if other, ok := seen[key]; ok {
			t.Fatalf("collision between %+v and %+v", tg, other)
		}
		seen[key] = tg
	}
}
