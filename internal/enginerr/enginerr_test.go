package enginerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedErrorsUnwrapToSentinel(t *testing.T) {
	cases := []struct {
		name string
		kind error
	}{
		{"config", ErrConfig},
		{"parse input", ErrParseInput},
		{"spawn", ErrSpawn},
		{"protocol", ErrProtocol},
		{"policy", ErrPolicy},
		{"timeout", ErrTimeout},
		{"memory", ErrMemory},
		{"io", ErrIO},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wrapped := fmt.Errorf("doing thing: %w", c.kind)
			if !errors.Is(wrapped, c.kind) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, c.kind)
			}
			for _, other := range cases {
				if other.kind == c.kind {
					continue
				}
				if errors.Is(wrapped, other.kind) {
					t.Errorf("wrapped %v incorrectly matches %v", c.kind, other.kind)
				}
			}
		})
	}
}
