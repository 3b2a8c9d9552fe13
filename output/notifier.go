package output

import (
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/types"
	"github.com/pkg/errors"
)

// LogNotifier records every transition in the log.
type LogNotifier struct {
	Log logging.Logger
}

func (n LogNotifier) Notify(state types.State) error {
	if failed, ok := state.(types.Error); ok {
		n.Log.WithField("kind", string(failed.Kind)).Warnf("interaction error: %s", failed.Message)
		return nil
	}
	n.Log.Infof("interaction %s", state.Tag())
	return nil
}

// Multi delivers each state to every notifier in order. A failing notifier
// does not stop delivery to the rest; the first error is returned.
type Multi []types.Notifier

func (m Multi) Notify(state types.State) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(state); err != nil && first == nil {
			first = errors.Wrapf(err, "notify %s", state.Tag())
		}
	}
	return first
}
