package merge

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseLegacy(t *testing.T) {
	cases := []struct {
		name string
		want Identity
	}{
		{
			name: "2025-10-06_Acme_Tower_Model1.json",
			want: Identity{Date: day("2025-10-06"), Organization: "Acme", Project: "Tower", Model: "Model1", Ext: ".json"},
		},
		{
			name: "2025-10-06_Acme_1234_North Tower_Phase 2_Arch.sexyduck",
			want: Identity{Date: day("2025-10-06"), Organization: "Acme", Project: "1234_North Tower_Phase 2", Model: "Arch", Ext: ".sexyduck"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLegacy(tc.name)
			if err != nil {
				t.Fatalf("ParseLegacy: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("identity (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLegacy_Bad(t *testing.T) {
	for _, name := range []string{
		"2025-10-06_Acme_Model.json",
		"notadate_Acme_Tower_Model.json",
		"2025-13-01_Acme_Tower_Model.json",
		"2025-10-06_Acme_.._Model.json",
		"2025-10-06__Tower_Model.json",
		"2025-10-11_Acme_.cfg_Model.json",
		"2025-10-11_Acme_P_.M.json",
		"2025-10-11_.Acme_P_Model.json",
	} {
		if _, err := ParseLegacy(name); !errors.Is(err, ErrBadName) {
			t.Errorf("ParseLegacy(%q) = %v, want ErrBadName", name, err)
		}
	}
}

func TestParseProjectFile(t *testing.T) {
	cases := []struct {
		desc, name, defaultOrg string
		doc                    map[string]any
		want                   Identity
	}{
		{
			desc: "org and model from name",
			name: "2025-10-08_Acme_Whatever_Model2.json",
			want: Identity{Date: day("2025-10-08"), Organization: "Acme", Project: "12 North Tower", Model: "Model2", Ext: ".json"},
		},
		{
			desc: "single token is the model",
			name: "2025-10-08_Model3.json", defaultOrg: "Default Org",
			want: Identity{Date: day("2025-10-08"), Organization: "Default Org", Project: "12 North Tower", Model: "Model3", Ext: ".json"},
		},
		{
			desc: "date from content",
			name: "Model4.json", defaultOrg: "Default Org",
			doc:  map[string]any{"timestamp": "2025-10-12T18:30:00Z"},
			want: Identity{Date: time.Date(2025, 10, 12, 18, 30, 0, 0, time.UTC), Organization: "Default Org", Project: "12 North Tower", Model: "Model4", Ext: ".json"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := ParseProjectFile(tc.name, "12 North Tower", tc.defaultOrg, tc.doc)
			if err != nil {
				t.Fatalf("ParseProjectFile: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("identity (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseProjectFile_Errors(t *testing.T) {
	if _, err := ParseProjectFile("Model.json", "P", "Org", map[string]any{}); !errors.Is(err, ErrBadName) {
		t.Errorf("no date: got %v, want ErrBadName", err)
	}
	if _, err := ParseProjectFile("2025-10-06_Model.json", "P", "", nil); !errors.Is(err, errNeedsDefaultOrg) {
		t.Errorf("no default org: got %v", err)
	}
	if _, err := ParseProjectFile("2025-10-06_Acme_M.json", "..", "", nil); !errors.Is(err, ErrBadName) {
		t.Errorf("dot-dot folder: got %v, want ErrBadName", err)
	}
	if _, err := ParseProjectFile("2025-10-06_Acme_M.json", ".hidden", "", nil); !errors.Is(err, ErrBadName) {
		t.Errorf("hidden folder: got %v, want ErrBadName", err)
	}
	if _, err := ParseProjectFile("2025-10-06_.M.json", "P", "Org", nil); !errors.Is(err, ErrBadName) {
		t.Errorf("hidden model: got %v, want ErrBadName", err)
	}
}

func TestParseLegacy_ExtensionCaseFolds(t *testing.T) {
	upper, err := ParseLegacy("2025-10-06_Acme_Tower_M.JSON")
	if err != nil {
		t.Fatal(err)
	}
	lower, err := ParseLegacy("2025-10-08_Acme_Tower_M.json")
	if err != nil {
		t.Fatal(err)
	}
	if upper.Model != "M" || upper.Destination() != lower.Destination() {
		t.Errorf("destinations differ: %q vs %q", upper.Destination(), lower.Destination())
	}
}

func TestIdentity_Destination(t *testing.T) {
	id := Identity{Date: day("2025-10-11"), Organization: "Acme", Project: "Tower A", Model: "M1", Ext: ".json"}
	if got := id.Destination(); got != "Acme/Tower A/2025-10-06/M1.json" {
		t.Errorf("Destination = %q", got)
	}
}
