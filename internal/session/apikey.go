package session

import (
	"context"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/registry"
)

type apiKeyStrategy struct {
	key *registry.APIKey
}

func (s *apiKeyStrategy) Prepare(ctx context.Context, t Target) (*Session, error) {
	if t.Credential.APIKey == "" {
		return nil, errs.New(errs.Skipped, "api key not configured")
	}
	sess := New()
	switch s.key.Placement {
	case registry.KeyInQuery:
		sess.Query.Set(s.key.Param, t.Credential.APIKey)
	case registry.KeyInHeader:
		sess.Headers[s.key.Header] = t.Credential.APIKey
	default:
		return nil, errs.New(errs.InvalidArgument, "unknown api key placement "+string(s.key.Placement))
	}
	return sess, nil
}

func (s *apiKeyStrategy) Interact(context.Context, playwright.Page, Target) error {
	return nil
}
