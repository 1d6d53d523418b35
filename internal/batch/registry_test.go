package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryTOML = `
[[manager]]
address = "0x00000000000000000000000000000000000000b2"
name = "Yield Desk"
description = "Conservative rates"

[[manager]]
address = "0x00000000000000000000000000000000000000A1"
name = "alpha manager"
`

func TestRegistry_LookupIgnoresCase(t *testing.T) {
	managers, err := Parse(registryTOML)
	require.NoError(t, err)

	r, err := NewRegistry(managers)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	m, ok := r.Lookup("0x00000000000000000000000000000000000000a1")
	require.True(t, ok)
	assert.Equal(t, "alpha manager", m.Name)

	m, ok = r.Lookup("00000000000000000000000000000000000000B2")
	require.True(t, ok)
	assert.Equal(t, "Yield Desk", m.Name)

	_, ok = r.Lookup("not-an-address")
	assert.False(t, ok)
	assert.Empty(t, r.Name("0x00000000000000000000000000000000000000ff"))
}

func TestRegistry_AllIsSortedCopy(t *testing.T) {
	managers, err := Parse(registryTOML)
	require.NoError(t, err)
	r, err := NewRegistry(managers)
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha manager", all[0].Name)

	all[0].Name = "mutated"
	assert.Equal(t, "alpha manager", r.All()[0].Name)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	addr := common.HexToAddress("0x01")
	_, err := NewRegistry([]domain.BatchManager{
		{Address: addr, Name: "a"},
		{Address: addr, Name: "b"},
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestNewRegistry_RejectsZeroAddress(t *testing.T) {
	_, err := NewRegistry([]domain.BatchManager{{Name: "nobody"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestParse_RejectsBadAddress(t *testing.T) {
	_, err := Parse("[[manager]]\naddress = \"0x123\"\nname = \"short\"\n")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "managers.toml")
	require.NoError(t, os.WriteFile(path, []byte(registryTOML), 0o600))

	managers, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, managers, 2)
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	_, ok := r.Lookup("0x00000000000000000000000000000000000000a1")
	assert.False(t, ok)
	assert.Nil(t, r.All())
	assert.Zero(t, r.Len())
}
