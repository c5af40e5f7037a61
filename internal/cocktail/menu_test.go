package cocktail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMenu = `Screen,HWI soluble,,,,,,,,,
Well,Number,Code,Chemical,Formula,Concentration,Chemical 2,Concentration 2,pH,Chemical 3,Concentration 3
1,1,HR-001,Sodium chloride,NaCl,0.1 M,PEG 3350,20 %w/v,7.5,,
2,2,HR-002,Ammonium sulfate,(NH4)2SO4,1.5 M,,,5.0,Glycerol,5 %v/v

96,96,HR-096,Water,H2O,,,,,,
`

func TestReadMenu(t *testing.T) {
	menu, err := ReadMenu(strings.NewReader(sampleMenu), "soluble")
	require.NoError(t, err)
	assert.Equal(t, 3, menu.Len())

	c, ok := menu.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "1", c.Number)
	assert.Equal(t, "HR-001", c.CommercialCode)
	assert.Equal(t, 7.5, c.PH)
	require.Len(t, c.Reagents, 2)
	assert.Equal(t, "Sodium chloride", c.Reagents[0].Chemical)
	assert.Equal(t, "0.1 M", c.Reagents[0].Concentration)
	assert.Equal(t, "PEG 3350", c.Reagents[1].Chemical)

	c, ok = menu.Lookup(2)
	require.True(t, ok)
	require.Len(t, c.Reagents, 2)
	assert.Equal(t, "Glycerol", c.Reagents[1].Chemical)

	_, ok = menu.Lookup(3)
	assert.False(t, ok)
}

func TestLookupReturnsCopy(t *testing.T) {
	menu, err := ReadMenu(strings.NewReader(sampleMenu), "soluble")
	require.NoError(t, err)

	c, _ := menu.Lookup(1)
	c.Reagents[0].Chemical = "changed"
	again, _ := menu.Lookup(1)
	assert.Equal(t, "Sodium chloride", again.Reagents[0].Chemical)
}

func TestReadMenuRejectsBadWell(t *testing.T) {
	bad := "h1\nh2\nA1,1,code\n"
	_, err := ReadMenu(strings.NewReader(bad), "bad")
	assert.ErrorIs(t, err, ErrMalformedMenu)
}

func TestLoadMenuUsesFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "membrane_v2.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleMenu), 0644))

	menu, err := LoadMenu(path)
	require.NoError(t, err)
	assert.Equal(t, "membrane_v2", menu.Name)

	_, ok := None.Lookup(1)
	assert.False(t, ok)
}
