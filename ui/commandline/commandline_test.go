// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testParams struct {
	x        float64
	y        int
	seed     uint64
	z        bool
	s        string
	features []string
}

func (p *testParams) params() map[string]any {
	return map[string]any{
		"x":             &p.x,
		"y":             &p.y,
		"seed":          &p.seed,
		"z":             &p.z,
		"s":             &p.s,
		"data.features": &p.features,
	}
}

func TestParseSettings(t *testing.T) {
	p := &testParams{x: 11, y: 7, s: "foo"}
	params := p.params()
	paramsSet, err := ParseSettings(params, "x=13;y=1_000;seed=42;z=true;s=bar;data.features=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "seed", "z", "s", "data.features"}, paramsSet)
	assert.Equal(t, 13.0, p.x)
	assert.Equal(t, 1000, p.y)
	assert.Equal(t, uint64(42), p.seed)
	assert.True(t, p.z)
	assert.Equal(t, "bar", p.s)
	assert.Equal(t, []string{"a", "b"}, p.features)

	printed := SprintModifiedSettings(params, []string{"y", "x", "y"})
	assert.Equal(t, "\t\"x\": (float64) 13\n\t\"y\": (int) 1000", printed)

	_, err = ParseSettings(params, "w=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"w"`)
	_, err = ParseSettings(params, "y=1.5")
	require.Error(t, err)
	_, err = ParseSettings(params, "x")
	require.Error(t, err)
}

func TestParseSettingsFromFile(t *testing.T) {
	p := &testParams{}
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte("# Comment\nx=0.5\ny=3;s=baz\n"), 0644))
	paramsSet, err := ParseSettings(p.params(), "file:"+path+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s", "z"}, paramsSet)
	assert.Equal(t, 0.5, p.x)
	assert.Equal(t, 3, p.y)
	assert.Equal(t, "baz", p.s)
	assert.True(t, p.z)

	_, err = ParseSettings(p.params(), "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestPrettyPrint(t *testing.T) {
	assert.Equal(t, "75.00%", PrettyPrint("accuracy", 0.75))
	assert.Equal(t, "0.1235", PrettyPrint("loss", 0.123456))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50ms", FormatDuration(1500*time.Microsecond))
	assert.Equal(t, "12.50s", FormatDuration(12500*time.Millisecond))
	assert.Equal(t, "2m3s", FormatDuration(2*time.Minute+3400*time.Millisecond))
	assert.Equal(t, "7.25µs", FormatDuration(7250*time.Nanosecond))
	assert.Equal(t, "42ns", FormatDuration(42))
	assert.Equal(t, "-1.00s", FormatDuration(-time.Second))
}
