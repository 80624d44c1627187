package alerts

import (
	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/types"
)

// Correlate finds other open alerts related to the target: same actor IP,
// same actor user id or same alert type, with a first occurrence within the
// correlation window either side of the target's. The result is capped at
// the configured limit and carries no ordering guarantee.
func (s *Service) Correlate(id string) ([]types.SecurityAlert, error) {
	target, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	related, err := s.store.CorrelatedAlerts(target, s.correlationWindow, s.correlationLimit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "querying correlated alerts", err)
	}
	return related, nil
}
