package credentials

import (
	"context"
	"errors"
	"strings"

	"timebill/internal/syncerr"
)

// StaticProvider serves a fixed token, e.g. FRESHBOOKS_ACCESS_TOKEN.
type StaticProvider struct {
	Token string
}

func (p StaticProvider) Authenticate(context.Context) (Credentials, error) {
	if strings.TrimSpace(p.Token) == "" {
		return Credentials{}, syncerr.Auth(errors.New("static token is empty"))
	}
	return Credentials{Token: strings.TrimSpace(p.Token)}, nil
}

func (p StaticProvider) Refresh(context.Context, Credentials) (Credentials, error) {
	return Credentials{}, syncerr.Auth(ErrRefreshUnsupported)
}
