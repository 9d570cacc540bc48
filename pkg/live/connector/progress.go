package connector

import "context"

// Step is a phase of one connect attempt.
type Step int

const (
	StepCredential Step = iota + 1
	StepMicrophone
	StepTransport
)

func (s Step) String() string {
	switch s {
	case StepCredential:
		return "credential"
	case StepMicrophone:
		return "microphone"
	case StepTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Progress is called as a connect attempt enters each step.
type Progress func(Step)

type progressKey struct{}

// WithProgress returns a context whose connect attempts report to fn.
func WithProgress(ctx context.Context, fn Progress) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

func report(ctx context.Context, step Step) {
	if fn, ok := ctx.Value(progressKey{}).(Progress); ok {
		fn(step)
	}
}
