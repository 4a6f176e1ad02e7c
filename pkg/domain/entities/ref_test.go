package entities

import "testing"

func TestParseRef(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expected    Ref
		expectError bool
	}{
		{"phase", "phase:20", Ref{Kind: KindPhase, ID: 20}, false},
		{"purchase order", "purchase:500", Ref{Kind: KindPurchaseOrder, ID: 500}, false},
		{"case and spaces", " Launch:30 ", Ref{Kind: KindLaunch, ID: 30}, false},
		{"empty", "", Ref{}, false},
		{"dash", "-", Ref{}, false},
		{"missing id", "phase", Ref{}, true},
		{"unknown kind", "floor:1", Ref{}, true},
		{"zero id", "lot:0", Ref{}, true},
		{"non-numeric id", "lot:x", Ref{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseRef(tc.input)
			if tc.expectError {
				if err == nil {
					t.Errorf("Expected an error for %q, got %v", tc.input, ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if ref != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, ref)
			}
		})
	}
}

func TestRefStringRoundTrip(t *testing.T) {
	for kind := KindProject; kind <= KindBalance; kind++ {
		ref := NewRef(kind, 42)
		parsed, err := ParseRef(ref.String())
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", ref, err)
		}
		if parsed != ref {
			t.Errorf("Expected %v, got %v", ref, parsed)
		}
	}
	if (Ref{}).String() != "-" {
		t.Errorf("Expected the zero ref to print as -, got %s", Ref{})
	}
}

func TestParseRefs(t *testing.T) {
	refs, err := ParseRefs("lot:10, lot:11,,")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(refs) != 2 || refs[1] != NewRef(KindLot, 11) {
		t.Errorf("Expected [lot:10 lot:11], got %v", refs)
	}
	if _, err := ParseRefs("lot:10,bad"); err == nil {
		t.Error("Expected an error for a bad element")
	}
}

func TestKindClassification(t *testing.T) {
	groups := []Kind{KindProject, KindLot, KindPhase, KindLaunch}
	sections := []Kind{KindPurchaseOrder, KindWorkOrder, KindPicking, KindTask, KindBalance}
	for _, k := range groups {
		if !k.IsGroup() || k.IsSection() {
			t.Errorf("Expected %s to be a group only", k)
		}
	}
	for _, k := range sections {
		if !k.IsSection() || k.IsGroup() {
			t.Errorf("Expected %s to be a section only", k)
		}
	}
	if KindEdge.IsGroup() || KindEdge.IsSection() {
		t.Error("Expected edge to be neither group nor section")
	}
}
