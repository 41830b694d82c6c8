package wizard

import (
	"fmt"
	"sort"
)

// Action names a mutating collaborator call guarded against duplicates.
type Action string

const (
	ActionCreateCharge Action = "create_charge"
	ActionUpdateCharge Action = "update_charge"
	ActionPay          Action = "pay"
	ActionSendCode     Action = "send_code"
	ActionVerifyCode   Action = "verify_code"
)

// beginLocked marks action as running. The caller must hold c.mu.
func (c *Controller) beginLocked(action Action) error {
	if _, busy := c.inflight[action]; busy {
		return fmt.Errorf("%w: %s", ErrActionInFlight, action)
	}
	c.inflight[action] = struct{}{}
	return nil
}

func (c *Controller) end(action Action) {
	c.mu.Lock()
	delete(c.inflight, action)
	c.mu.Unlock()
}

func (c *Controller) inflightLocked() []Action {
	if len(c.inflight) == 0 {
		return nil
	}
	out := make([]Action, 0, len(c.inflight))
	for action := range c.inflight {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
