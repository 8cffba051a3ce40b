package remote

import (
	"context"
)

// TokenProvider hands out a currently valid access token. An empty token means
// no credential is available.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// StaticTokenProvider serves a fixed token, typically from configuration.
type StaticTokenProvider struct {
	Token string
}

func (p StaticTokenProvider) EnsureValidToken(ctx context.Context) (string, error) {
	return p.Token, nil
}
