package service

import (
	"fibo_bot/internal/models"

	"github.com/pkg/errors"
)

// Factory builds per-user clients with shared options.
type Factory struct {
	opt Options
}

func NewFactory(opt Options) *Factory {
	return &Factory{opt: opt}
}

// ForUser builds a signed client for one user's credentials.
func (f *Factory) ForUser(creds models.Credentials) (*Client, error) {
	if !creds.Linked() {
		return nil, errors.Wrap(models.ErrVenueRejected, "credentials not linked")
	}
	return NewClient(creds, f.opt), nil
}
