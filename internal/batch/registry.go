// Package batch provides an immutable lookup of known batch managers, the
// delegates that set interest rates for groups of troves.
package batch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Registry maps batch manager addresses to their metadata. It is built once
// and never mutated, so it is safe for concurrent use.
type Registry struct {
	byAddr map[common.Address]domain.BatchManager
	sorted []domain.BatchManager
}

// NewRegistry validates managers and builds a Registry. Duplicate addresses
// are rejected.
func NewRegistry(managers []domain.BatchManager) (*Registry, error) {
	r := &Registry{
		byAddr: make(map[common.Address]domain.BatchManager, len(managers)),
		sorted: make([]domain.BatchManager, 0, len(managers)),
	}
	for _, m := range managers {
		if m.Address == (common.Address{}) {
			return nil, fmt.Errorf("batch: %w: manager %q has a zero address", domain.ErrInvalidInput, m.Name)
		}
		if _, dup := r.byAddr[m.Address]; dup {
			return nil, fmt.Errorf("batch: %w: manager %s", domain.ErrAlreadyExists, m.Address.Hex())
		}
		r.byAddr[m.Address] = m
		r.sorted = append(r.sorted, m)
	}
	slices.SortFunc(r.sorted, func(a, b domain.BatchManager) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return r, nil
}

// Lookup returns the manager registered at addr. addr may use any hex
// casing, with or without the 0x prefix.
func (r *Registry) Lookup(addr string) (domain.BatchManager, bool) {
	if r == nil || !common.IsHexAddress(addr) {
		return domain.BatchManager{}, false
	}
	m, ok := r.byAddr[common.HexToAddress(addr)]
	return m, ok
}

// Name returns the display name for addr, or the empty string when unknown.
func (r *Registry) Name(addr string) string {
	m, _ := r.Lookup(addr)
	return m.Name
}

// All returns every manager ordered by name. The slice is a copy.
func (r *Registry) All() []domain.BatchManager {
	if r == nil {
		return nil
	}
	return slices.Clone(r.sorted)
}

// Len returns the number of registered managers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sorted)
}

// fileEntry is one [[manager]] table in a registry file.
type fileEntry struct {
	Address     string `toml:"address"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

type registryFile struct {
	Managers []fileEntry `toml:"manager"`
}

// LoadFile reads batch managers from a TOML file of the form
//
//	[[manager]]
//	address = "0x..."
//	name = "..."
func LoadFile(path string) ([]domain.BatchManager, error) {
	var f registryFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("batch: decode %s: %w", path, err)
	}
	return parseEntries(f.Managers)
}

// Parse reads batch managers from TOML text in the LoadFile format.
func Parse(data string) ([]domain.BatchManager, error) {
	var f registryFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("batch: decode: %w", err)
	}
	return parseEntries(f.Managers)
}

func parseEntries(entries []fileEntry) ([]domain.BatchManager, error) {
	out := make([]domain.BatchManager, 0, len(entries))
	for i, e := range entries {
		if !common.IsHexAddress(e.Address) {
			return nil, fmt.Errorf("batch: %w: entry %d address %q", domain.ErrInvalidInput, i, e.Address)
		}
		out = append(out, domain.BatchManager{
			Address:     common.HexToAddress(e.Address),
			Name:        e.Name,
			Description: e.Description,
		})
	}
	return out, nil
}
