package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DryRun composes messages without delivering them.
type DryRun struct{}

func (DryRun) Open(context.Context, Credentials) (Transport, error) {
	return dryRunTransport{}, nil
}

type dryRunTransport struct{}

func (dryRunTransport) Send(_ context.Context, msg *Message) (string, error) {
	if _, _, err := Compose(msg, time.Now()); err != nil {
		return "", err
	}
	return "dry-run-" + uuid.NewString(), nil
}

func (dryRunTransport) Close() error {
	return nil
}
