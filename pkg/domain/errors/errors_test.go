package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

func TestOverconsumptionError(t *testing.T) {
	err := NewOverconsumptionError(
		entities.NewRef(entities.KindPhase, 21),
		entities.NewRef(entities.KindPosition, 100),
		decimal.NewFromInt(4), decimal.NewFromInt(3), decimal.NewFromInt(2),
	)
	if !err.Overconsumption.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected overconsumption 1, got %s", err.Overconsumption)
	}
	wrapped := fmt.Errorf("reconcile: %w", err)
	if !errors.Is(wrapped, ErrOverconsumption) {
		t.Error("Expected wrapped error to match ErrOverconsumption")
	}
	if errors.Is(wrapped, ErrExclusivityConflict) {
		t.Error("Expected no match with another code")
	}
	var oe *OverconsumptionError
	if !errors.As(wrapped, &oe) || oe.Metadata()["overconsumption"] != "1" {
		t.Errorf("Expected metadata with the overconsumption, got %v", oe)
	}
}

func TestCodeOf(t *testing.T) {
	cause := errors.New("disk full")
	testCases := []struct {
		name     string
		err      error
		expected Code
	}{
		{"nil", nil, CodeUnknown},
		{"plain", cause, CodeUnknown},
		{"coded", New(CodeInvalidArgument, "bad"), CodeInvalidArgument},
		{"wrapped coded", fmt.Errorf("op: %w", Wrap(CodeInvalidTransition, "edge 1 is retracted", cause)), CodeInvalidTransition},
		{"typed", &ExclusivityConflictError{}, CodeExclusivityConflict},
		{"wrapped typed", fmt.Errorf("op: %w", &DependencyProtectionError{}), CodeDependencyProtected},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("not found")
	err := Wrap(CodeInvalidTransition, "edge 7 is retracted", cause)
	if !errors.Is(err, cause) {
		t.Error("Expected the cause to stay reachable")
	}
	if err.Error() != "edge 7 is retracted: not found" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestDependencyProtectionMessage(t *testing.T) {
	err := &DependencyProtectionError{
		Edge:        entities.EdgeKey{Owner: entities.NewRef(entities.KindPhase, 20)},
		Dependent:   entities.EdgeKey{Owner: entities.NewRef(entities.KindLaunch, 30)},
		DependentID: 9,
		Reason:      "write it to zero first",
	}
	want := "cannot retract (phase:20, -, -): dependent (launch:30, -, -) (edge 9) is affected (write it to zero first)"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
