// notifications/directory.go
package notifications

import (
	"context"

	"leaseexit/models"
)

// Directory resolves a role to the addresses that should receive its mail.
type Directory interface {
	Emails(ctx context.Context, role models.Role) ([]string, error)
}

// StaticDirectory is a fixed role to address table, usually from config.
type StaticDirectory map[models.Role][]string

func (d StaticDirectory) Emails(ctx context.Context, role models.Role) ([]string, error) {
	return append([]string(nil), d[role]...), nil
}

// ChainDirectory asks each directory in turn and returns the first non-empty
// answer. Errors are remembered and only returned when nothing answers.
type ChainDirectory []Directory

func (c ChainDirectory) Emails(ctx context.Context, role models.Role) ([]string, error) {
	var firstErr error
	for _, d := range c {
		emails, err := d.Emails(ctx, role)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(emails) > 0 {
			return emails, nil
		}
	}
	return nil, firstErr
}
