package db

import (
	"errors"
	"testing"
)

func TestError_WrapsAndFormats(t *testing.T) {
	err := &Error{Op: OpHGetAll, Err: ErrKeyNotFound}

	if err.Error() != "HGETALL: db: key not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, ErrKeyNotFound) {
		t.Error("expected errors.Is to see the wrapped sentinel")
	}

	var dbErr *Error
	if !errors.As(error(err), &dbErr) || dbErr.Op != OpHGetAll {
		t.Errorf("expected errors.As to recover op, got %+v", dbErr)
	}
}
