package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "phase and kind only",
			err:  &Error{Phase: PhaseParse, Kind: KindTruncated},
			want: "[parse] truncated",
		},
		{
			name: "with detail",
			err:  InvalidData(PhaseProtocol, "unknown event tag"),
			want: "[protocol] invalid_data: unknown event tag",
		},
		{
			name: "with path",
			err:  New(PhaseParse, KindInvalidData).Path("RIdx", "entry 3").Detail("offset past end").Build(),
			want: "[parse] invalid_data at RIdx.entry 3: offset past end",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := IOFailure(PhaseStorage, cause, "create save file")

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("formatted error %q missing cause", err.Error())
	}
}

func TestErrorIs(t *testing.T) {
	err := GenerationMismatch(3, 5)

	if !stderrors.Is(err, &Error{Phase: PhaseProtocol, Kind: KindGenerationMismatch}) {
		t.Error("expected match on same phase and kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseParse, Kind: KindGenerationMismatch}) {
		t.Error("unexpected match on different phase")
	}
}

func TestTruncatedDetail(t *testing.T) {
	err := Truncated(PhaseParse, "container header", 7, 12)
	want := "[parse] truncated: container header: have 7 bytes, want 12"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
