package profile

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/bittyctl/internal/testutil/testlog"
)

func TestDefaultProfileValid(t *testing.T) {
	testlog.Start(t)
	if err := Default().Validate(); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
}

func TestValidateRejectsBadDisabledJoint(t *testing.T) {
	testlog.Start(t)
	p := Default()
	p.DisabledJoints = []int{16}
	if err := p.Validate(); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestWithDisabledDoesNotAlias(t *testing.T) {
	testlog.Start(t)
	base := Default().WithDisabled(3)
	derived := base.WithDisabled(5, 3, 1)
	if !reflect.DeepEqual(base.DisabledJoints, []int{3}) {
		t.Fatalf("base mutated: %v", base.DisabledJoints)
	}
	if !reflect.DeepEqual(derived.DisabledJoints, []int{1, 3, 5}) {
		t.Fatalf("unexpected derived joints: %v", derived.DisabledJoints)
	}
	if derived.Enabled(5) || !derived.Enabled(4) || derived.Enabled(16) {
		t.Fatalf("unexpected Enabled results")
	}
}

func TestRowWidthAndHeader(t *testing.T) {
	testlog.Start(t)
	p := Default()
	if p.RowWidth(6) != 8 || p.RowWidth(1) != 16 || p.RowWidth(-3) != 20 {
		t.Fatalf("unexpected row widths")
	}
	if SkillHeader(1) != 4 || SkillHeader(0) != 4 || SkillHeader(-1) != 7 {
		t.Fatalf("unexpected skill header lengths")
	}
}
