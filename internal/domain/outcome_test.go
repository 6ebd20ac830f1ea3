package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("%w: status 401", ErrAuth), ErrorKindAuth},
		{fmt.Errorf("%w: status 502", ErrTransientFetch), ErrorKindTransientFetch},
		{fmt.Errorf("%w: status 404", ErrFetch), ErrorKindFetch},
		{ErrSummarization, ErrorKindSummarization},
		{ErrConfiguration, ErrorKindConfiguration},
		{context.Canceled, ErrorKindTransientFetch},
		{fmt.Errorf("fetch messages: %w", context.DeadlineExceeded), ErrorKindTransientFetch},
		{fmt.Errorf("%w: disk full", ErrStorage), ErrorKindStorage},
		{errors.New("unexpected"), ErrorKindStorage},
	}
	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Fatalf("ClassifyError(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
