// Package descriptor decodes tileset documents: the JSON description of a
// tile hierarchy (bounding volumes, geometric error, refinement mode, content
// and child references). It is a wire codec only; the in-memory tile tree is
// built elsewhere.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"tilestream.ai/internal/geom"
)

// Versions of the document format this codec accepts.
const (
	Version00 = "0.0"
	Version10 = "1.0"
	Version11 = "1.1"
)

var (
	ErrMissingAsset       = errors.New("tileset: missing asset.version")
	ErrUnsupportedVersion = errors.New("tileset: unsupported version")
	ErrMissingRoot        = errors.New("tileset: missing root node")
)

func versionSupported(v string) bool {
	switch v {
	case Version00, Version10, Version11:
		return true
	}
	return false
}

// Document is one tileset description.
type Document struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           *Node   `json:"root"`
}

type Asset struct {
	Version        string `json:"version"`
	TilesetVersion string `json:"tilesetVersion,omitempty"`
}

// Node is one node of the descriptor hierarchy.
type Node struct {
	BoundingVolume VolumeSpec `json:"boundingVolume"`
	GeometricError float64    `json:"geometricError"`
	Refine         string     `json:"refine,omitempty"`
	Content        *Content   `json:"content,omitempty"`
	Children       []*Node    `json:"children,omitempty"`
}

// VolumeSpec holds at most one of the three bounding-volume encodings.
type VolumeSpec struct {
	Region []float64 `json:"region,omitempty"`
	Box    []float64 `json:"box,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
}

// Volume picks the populated encoding, region first per the format's listing
// order. An empty spec yields a none-volume the traversal flags as an
// anomaly.
func (s VolumeSpec) Volume() geom.BoundingVolume {
	switch {
	case len(s.Region) > 0:
		return geom.BoundingVolume{Kind: geom.VolumeRegion, Params: s.Region}
	case len(s.Box) > 0:
		return geom.BoundingVolume{Kind: geom.VolumeBox, Params: s.Box}
	case len(s.Sphere) > 0:
		return geom.BoundingVolume{Kind: geom.VolumeSphere, Params: s.Sphere}
	default:
		return geom.BoundingVolume{}
	}
}

// Content references a node's payload.
type Content struct {
	URI string
}

// Older documents use "url"; both keys are accepted, "uri" wins.
func (c *Content) UnmarshalJSON(b []byte) error {
	var raw struct {
		URI string `json:"uri"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.URI = raw.URI
	if c.URI == "" {
		c.URI = raw.URL
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		URI string `json:"uri"`
	}{URI: c.URI})
}

// Parse decodes and gates a tileset document. A version this codec does not
// support is a hard error; the caller treats it as fatal for the tileset.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tileset: %w", err)
	}
	if doc.Asset.Version == "" {
		return nil, ErrMissingAsset
	}
	if !versionSupported(doc.Asset.Version) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, doc.Asset.Version)
	}
	if doc.Root == nil {
		return nil, ErrMissingRoot
	}
	return &doc, nil
}

// IsTilesetURI reports whether a content reference points at a nested
// tileset document rather than renderable payload.
func IsTilesetURI(uri string) bool {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return strings.HasSuffix(strings.ToLower(uri), ".json")
}

// ResolveURI resolves ref against base. Absolute refs pass through; relative
// refs resolve the way the document's own links do.
func ResolveURI(base, ref string) (string, error) {
	if base == "" {
		return ref, nil
	}
	bu, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("base uri %q: %w", base, err)
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("uri %q: %w", ref, err)
	}
	return bu.ResolveReference(ru).String(), nil
}
