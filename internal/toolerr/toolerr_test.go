package toolerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("save: %w", Wrap(StorageQuotaExceeded, "quota", errors.New("disk")))
	if !Is(err, StorageQuotaExceeded) {
		t.Fatalf("expected quota code in chain")
	}
	if Is(err, ValidationFailure) {
		t.Fatalf("unexpected validation match")
	}
	if got := CodeOf(err); got != StorageQuotaExceeded {
		t.Fatalf("CodeOf=%q", got)
	}
	if got := CodeOf(errors.New("plain")); got != Internal {
		t.Fatalf("CodeOf(plain)=%q", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil)=%q", got)
	}
}

func TestUserText(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{Validation("filename is required"), "Invalid input: filename is required"},
		{Decode("no QR code found", errors.New("NotFoundException")), "Could not decode: no QR code found (NotFoundException)"},
		{New(StorageQuotaExceeded, ""), "Storage full"},
		{errors.New("boom\ntrace"), "Error: boom"},
	}
	for _, c := range cases {
		if got := UserText(c.err); got != c.want {
			t.Fatalf("UserText(%v)=%q want %q", c.err, got, c.want)
		}
	}
}
