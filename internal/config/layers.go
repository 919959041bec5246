package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
)

//go:embed layers.json
var layersJSON []byte

// Architectures supported by the published extension layers.
const (
	ArchARM64 = "arm64"
	ArchX8664 = "x86_64"
)

// ErrUnsupportedRegion is returned when no layer is published for a region.
var ErrUnsupportedRegion = errors.New("no optimeist layer published for region")

// LayerARNs holds the published layer version per architecture.
type LayerARNs struct {
	ARM64 string `json:"arm64"`
	X8664 string `json:"x86_64"`
}

// LayerTable maps AWS region to its published layer ARNs.
type LayerTable map[string]LayerARNs

// LoadLayerTable parses the embedded region table.
func LoadLayerTable() (LayerTable, error) {
	var t LayerTable
	if err := json.Unmarshal(layersJSON, &t); err != nil {
		return nil, fmt.Errorf("parsing embedded layer table: %w", err)
	}
	return t, nil
}

// Resolve returns the layer ARN for region and architecture. Any
// architecture other than arm64 resolves to the x86_64 layer.
func (t LayerTable) Resolve(region, arch string) (string, error) {
	arns, ok := t[region]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedRegion, region)
	}
	if arch == ArchARM64 {
		return arns.ARM64, nil
	}
	return arns.X8664, nil
}

// Regions returns how many regions have a published layer.
func (t LayerTable) Regions() int {
	return len(t)
}
