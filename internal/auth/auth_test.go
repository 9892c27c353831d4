package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			logging.Logf("auth/static-token: stored=%q input=%q err=%v", tc.stored, tc.input, err)
		})
	}
}

func TestForToken(t *testing.T) {
	testlog.Start(t)
	if err := ForToken("  ").Validate("anything"); err != nil {
		t.Fatalf("empty token should leave the surface open, got %v", err)
	}
	v := ForToken("s3cret")
	if err := v.Validate("s3cret"); err != nil {
		t.Fatalf("expected configured token accepted, got %v", err)
	}
	if err := v.Validate(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range cases {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q)=%q want %q", header, got, want)
		}
	}
}
