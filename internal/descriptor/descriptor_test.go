package descriptor

import (
	"errors"
	"testing"

	"tilestream.ai/internal/geom"
)

const sampleDoc = `{
  "asset": {"version": "1.0"},
  "geometricError": 500,
  "root": {
    "boundingVolume": {"region": [-1.32, 0.69, -1.31, 0.70, 0, 88]},
    "geometricError": 100,
    "refine": "REPLACE",
    "content": {"uri": "root.b3dm"},
    "children": [
      {
        "boundingVolume": {"sphere": [0, 0, 0, 10]},
        "geometricError": 10,
        "content": {"url": "legacy/child0.b3dm"}
      },
      {
        "boundingVolume": {"box": [0,0,0, 1,0,0, 0,1,0, 0,0,1]},
        "geometricError": 10,
        "content": {"uri": "sub/tileset.json"}
      }
    ]
  }
}`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Asset.Version != "1.0" || doc.GeometricError != 500 {
		t.Fatalf("header: %+v ge=%v", doc.Asset, doc.GeometricError)
	}
	root := doc.Root
	if root.Refine != "REPLACE" || root.Content.URI != "root.b3dm" {
		t.Fatalf("root: refine=%q content=%+v", root.Refine, root.Content)
	}
	if len(root.Children) != 2 {
		t.Fatalf("children: %d", len(root.Children))
	}
	if got := root.Children[0].Content.URI; got != "legacy/child0.b3dm" {
		t.Fatalf("legacy url key: %q", got)
	}
	if v := root.BoundingVolume.Volume(); v.Kind != geom.VolumeRegion {
		t.Fatalf("root volume kind: %v", v.Kind)
	}
	if v := root.Children[1].BoundingVolume.Volume(); v.Kind != geom.VolumeBox {
		t.Fatalf("child volume kind: %v", v.Kind)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"no asset", `{"geometricError": 1, "root": {"geometricError": 0}}`, ErrMissingAsset},
		{"bad version", `{"asset": {"version": "7.2"}, "root": {"geometricError": 0}}`, ErrUnsupportedVersion},
		{"no root", `{"asset": {"version": "1.0"}, "geometricError": 1}`, ErrMissingRoot},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.doc))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatalf("want error for malformed json")
	}
}

func TestIsTilesetURI(t *testing.T) {
	cases := map[string]bool{
		"sub/tileset.json":        true,
		"TILESET.JSON":            true,
		"tiles.json?v=3":          true,
		"model.b3dm":              false,
		"points.pnts":             false,
		"model.json.b3dm":         false,
		"http://h/t/tileset.json": true,
	}
	for uri, want := range cases {
		if got := IsTilesetURI(uri); got != want {
			t.Fatalf("IsTilesetURI(%q)=%v want %v", uri, got, want)
		}
	}
}

func TestResolveURI(t *testing.T) {
	cases := []struct {
		base, ref, want string
	}{
		{"http://host/data/tileset.json", "root.b3dm", "http://host/data/root.b3dm"},
		{"http://host/data/tileset.json", "sub/tileset.json", "http://host/data/sub/tileset.json"},
		{"http://host/data/tileset.json", "http://other/x.b3dm", "http://other/x.b3dm"},
		{"", "root.b3dm", "root.b3dm"},
		{"data/tileset.json", "a.b3dm", "data/a.b3dm"},
	}
	for _, tc := range cases {
		got, err := ResolveURI(tc.base, tc.ref)
		if err != nil {
			t.Fatalf("resolve(%q,%q): %v", tc.base, tc.ref, err)
		}
		if got != tc.want {
			t.Fatalf("resolve(%q,%q)=%q want %q", tc.base, tc.ref, got, tc.want)
		}
	}
}
