package ofd

import (
	"testing"

	"fiscal/internal/domain"

	"github.com/stretchr/testify/assert"
)

func code(v int) *int { return &v }

func TestInterpret(t *testing.T) {
	tests := []struct {
		name string
		code *int
		want Outcome
	}{
		{"no reply", nil, Outcome{Document: domain.OfdPending, Transition: TransitionAutonomousStarted, QueueOffline: true}},
		{"accepted", code(0), Outcome{Document: domain.OfdSent, Transition: TransitionRestoreIfDrained}},
		{"blocked", code(15), Outcome{Document: domain.OfdFailed, Transition: TransitionBlock}},
		{"rejected", code(3), Outcome{Document: domain.OfdFailed}},
		{"negative", code(-1), Outcome{Document: domain.OfdFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(tt.code)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Document == domain.OfdSent, got.Delivered())
		})
	}
}
