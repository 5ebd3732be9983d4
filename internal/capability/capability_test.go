package capability

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	if err := (Set{}).Validate(); err != nil {
		t.Fatalf("empty set should be valid: %v", err)
	}
	if err := (Set{ReadComments: true}).Validate(); err != nil {
		t.Fatalf("read-only set should be valid: %v", err)
	}
	if err := (Set{ReadComments: true, WriteComments: true}).Validate(); err != nil {
		t.Fatalf("full set should be valid: %v", err)
	}
	if err := (Set{WriteComments: true}).Validate(); !errors.Is(err, ErrWriteWithoutRead) {
		t.Fatalf("expected ErrWriteWithoutRead, got %v", err)
	}
}

func TestAllows(t *testing.T) {
	full := Set{ReadComments: true, WriteComments: true}
	if !full.Allows(ReadComments) || !full.Allows(WriteComments) {
		t.Fatal("full set should allow both capabilities")
	}
	if full.Allows(Capability("adminEverything")) {
		t.Fatal("unknown capabilities are never allowed")
	}

	readOnly := Set{ReadComments: true}
	if readOnly.Allows(WriteComments) {
		t.Fatal("read-only set must not allow writes")
	}
	if (Set{}).Allows(ReadComments) {
		t.Fatal("empty set must not allow reads")
	}
}

func TestApply(t *testing.T) {
	yes, no := true, false

	// Partial update keeps omitted fields.
	next, err := Set{ReadComments: true}.Apply(nil, &yes)
	if err != nil {
		t.Fatalf("enable write on readable share: %v", err)
	}
	if !next.ReadComments || !next.WriteComments {
		t.Fatalf("unexpected result: %+v", next)
	}

	// Explicit write without read is rejected.
	if _, err := (Set{}).Apply(nil, &yes); !errors.Is(err, ErrWriteWithoutRead) {
		t.Fatalf("expected ErrWriteWithoutRead, got %v", err)
	}

	// Disabling read drags write down.
	next, err = Set{ReadComments: true, WriteComments: true}.Apply(&no, nil)
	if err != nil {
		t.Fatalf("disable read: %v", err)
	}
	if next.ReadComments || next.WriteComments {
		t.Fatalf("expected both off, got %+v", next)
	}

	// Enabling both at once is valid.
	next, err = (Set{}).Apply(&yes, &yes)
	if err != nil {
		t.Fatalf("enable both: %v", err)
	}
	if !next.ReadComments || !next.WriteComments {
		t.Fatalf("expected both on, got %+v", next)
	}
}
