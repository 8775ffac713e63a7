package notify

import (
	"errors"
	"fmt"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// PushRelay hands alert text to push services addressed by shoutrrr
// URLs (ntfy://, gotify://, telegram://, ...). Transport mechanics
// live entirely in the service behind the URL.
type PushRelay struct {
	defaults []string // used when an action names no target
}

func NewPushRelay(defaults ...string) *PushRelay {
	return &PushRelay{defaults: defaults}
}

func (p *PushRelay) Send(target, title, message string) error {
	targets := p.defaults
	if target != "" {
		targets = []string{target}
	}
	if len(targets) == 0 {
		return fmt.Errorf("push: no target configured")
	}

	sender, err := shoutrrr.CreateSender(targets...)
	if err != nil {
		return fmt.Errorf("push: bad target: %w", err)
	}

	params := &types.Params{"title": title}
	var errs []error
	for _, e := range sender.Send(message, params) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("push: %w", errors.Join(errs...))
	}
	return nil
}
