package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the entity type a Ref points to
type Kind int

const (
	KindNone Kind = iota
	KindProject
	KindLot
	KindPhase
	KindLaunch
	KindPosition
	KindEdge
	KindCategory
	KindPurchaseOrder
	KindWorkOrder
	KindPicking
	KindTask
	KindBalance
)

var kindNames = map[Kind]string{
	KindNone:          "none",
	KindProject:       "project",
	KindLot:           "lot",
	KindPhase:         "phase",
	KindLaunch:        "launch",
	KindPosition:      "position",
	KindEdge:          "edge",
	KindCategory:      "category",
	KindPurchaseOrder: "purchase",
	KindWorkOrder:     "workorder",
	KindPicking:       "picking",
	KindTask:          "task",
	KindBalance:       "balance",
}

// String method for Kind enum
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsGroup reports whether the kind is a hierarchy container
func (k Kind) IsGroup() bool {
	switch k {
	case KindProject, KindLot, KindPhase, KindLaunch:
		return true
	default:
		return false
	}
}

// IsSection reports whether the kind is a budget-consuming document
func (k Kind) IsSection() bool {
	switch k {
	case KindPurchaseOrder, KindWorkOrder, KindPicking, KindTask, KindBalance:
		return true
	default:
		return false
	}
}

// ParseKind returns the Kind for a name produced by Kind.String
func ParseKind(name string) (Kind, error) {
	for kind, n := range kindNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return kind, nil
		}
	}
	return KindNone, fmt.Errorf("unknown kind %q", name)
}

// Ref is a polymorphic reference: the entity kind plus its identifier.
// The zero value means "no reference".
type Ref struct {
	Kind Kind
	ID   int64
}

// NewRef builds a Ref
func NewRef(kind Kind, id int64) Ref {
	return Ref{Kind: kind, ID: id}
}

// IsZero reports whether r references nothing
func (r Ref) IsZero() bool {
	return r.Kind == KindNone && r.ID == 0
}

func (r Ref) String() string {
	if r.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// ParseRef parses "kind:id", the format produced by Ref.String
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return Ref{}, nil
	}
	kindPart, idPart, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("invalid reference %q, expected kind:id", s)
	}
	kind, err := ParseKind(kindPart)
	if err != nil {
		return Ref{}, err
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Ref{}, fmt.Errorf("invalid reference id in %q", s)
	}
	return Ref{Kind: kind, ID: id}, nil
}

// ParseRefs parses a comma separated list of references
func ParseRefs(s string) ([]Ref, error) {
	var refs []Ref
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ref, err := ParseRef(part)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
