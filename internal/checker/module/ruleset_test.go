package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuleset_Default(t *testing.T) {
	rs, err := ParseRuleset(DefaultRuleset())
	require.NoError(t, err)

	assert.Equal(t, "prosecheck-en", rs.Name)
	assert.Equal(t, "en", rs.Language)
	assert.Equal(t, len(rs.Phrases)+2, rs.RuleCount())

	_, err = rs.Compile()
	require.NoError(t, err)
}

func TestParseRuleset_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "version: 1.0.0\n",
			wantErr: "name is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: x\nflavour: vanilla\n",
			wantErr: "decode ruleset",
		},
		{
			name:    "invalid api version",
			yaml:    "name: x\nmin_api_version: banana\n",
			wantErr: "invalid min_api_version",
		},
		{
			name:    "newer api required",
			yaml:    "name: x\nmin_api_version: 2.0.0\n",
			wantErr: "requires analysis API v2.0.0",
		},
		{
			name:    "phrase without pattern",
			yaml:    "name: x\nphrases:\n  - id: p\n",
			wantErr: "needs id and pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleset([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseRuleset_AcceptsOlderAPI(t *testing.T) {
	rs, err := ParseRuleset([]byte("name: x\nmin_api_version: v1.1.0\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", rs.Name)
}

func TestLoadModule_BadPattern(t *testing.T) {
	_, err := LoadModule([]byte("name: x\nphrases:\n  - id: broken\n    pattern: '('\n"), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule broken")
}

func TestLoadModule_Info(t *testing.T) {
	m, err := LoadModule(DefaultRuleset(), "embedded")
	require.NoError(t, err)
	defer m.Close()

	info := m.Info()
	assert.Equal(t, "prosecheck-en", info.Name)
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "embedded", info.Source)
	assert.Positive(t, info.RuleCount)
}
