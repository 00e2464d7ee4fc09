package rest

import "context"

// SubjectDirectory looks up a short description of the CRM entity an
// execution concerns. A nil summary means nothing is known about it.
type SubjectDirectory interface {
	Summary(ctx context.Context, subjectId string) (map[string]any, error)
}

type NoopSubjectDirectory struct{}

func (NoopSubjectDirectory) Summary(context.Context, string) (map[string]any, error) {
	return nil, nil
}
