package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/coldforge/renderfarm/internal/auth"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{ErrUnauthorized, ClassUnauthorized},
		{ErrNotFound, ClassNotFound},
		{ErrBadRequest, ClassBadRequest},
		{errors.New("unmapped"), ClassInternal},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.err); got != tc.want {
			t.Fatalf("ClassifyError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestStatusForClass(t *testing.T) {
	cases := map[ErrorClass]int{
		ClassUnauthorized: http.StatusUnauthorized,
		ClassNotFound:     http.StatusNotFound,
		ClassBadRequest:   http.StatusBadRequest,
		ClassInternal:     http.StatusInternalServerError,
	}
	for class, want := range cases {
		if got := StatusForClass(class); got != want {
			t.Fatalf("StatusForClass(%q) = %d, want %d", class, got, want)
		}
	}
}

func TestMapAuthError(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{auth.ErrBadCredentials, ErrUnauthorized},
		{auth.ErrSessionNotFound, ErrNotFound},
		{auth.ErrTaskNotFound, ErrUnauthorized},
		{auth.ErrTaskNotOwned, ErrUnauthorized},
		{auth.ErrBadFrameRange, ErrBadRequest},
		{auth.ErrTaskNotPacked, ErrBadRequest},
	}
	for _, tc := range cases {
		if got := mapAuthError(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("mapAuthError(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMapAuthError_Nil(t *testing.T) {
	if err := mapAuthError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
