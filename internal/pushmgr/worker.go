package pushmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/gymbell/gymbell/internal/host"
	"github.com/gymbell/gymbell/internal/retry"
)

var errNoRegistration = errors.New("no worker registration")

// readyRegistration resolves the live registration and waits for it to be
// activated. Each attempt waits at most activationTimeout for a pending
// worker; the retry policy bounds the attempts.
func (m *Manager) readyRegistration(ctx context.Context) (host.Registration, error) {
	var ready host.Registration
	attempt := 0
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		attempt++
		reg, err := m.rt.Registration(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Debug().Err(err).Int("attempt", attempt).Msg("registration lookup failed")
			return retry.Retryable(err)
		}
		if reg == nil {
			m.log.Debug().Int("attempt", attempt).Msg("no worker registration yet")
			return retry.Retryable(errNoRegistration)
		}

		state := reg.State()
		switch {
		case state == host.WorkerActivated:
			ready = reg
			return nil
		case state.Pending():
			waitCtx, cancel := context.WithTimeout(ctx, m.activationTimeout)
			err := reg.WaitActivated(waitCtx)
			cancel()
			if err == nil {
				ready = reg
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Debug().Err(err).Int("attempt", attempt).Str("state", string(state)).Msg("worker did not activate")
			return retry.Retryable(err)
		default:
			return retry.Retryable(fmt.Errorf("worker is %s", state))
		}
	})
	if err != nil {
		return nil, err
	}
	return ready, nil
}
