package jobs

import (
	"context"
	"fmt"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// typed adapts a handler of one concrete payload type to Handler.
func typed[P domain.JobPayload](fn func(ctx context.Context, job *domain.Job, p P) error) Handler {
	return func(ctx context.Context, job *domain.Job, payload domain.JobPayload) error {
		p, ok := payload.(P)
		if !ok {
			return Permanent(fmt.Errorf("%w: %s: unexpected payload %T", domain.ErrInvalidJobPayload, job.Name, payload))
		}
		return fn(ctx, job, p)
	}
}
