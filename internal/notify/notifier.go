// Package notify delivers engine events to operator channels (Telegram,
// Discord). Notifications are filtered by event type so operators receive
// only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/events"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches notifications to one or more Senders, filtered by an
// allowed-event set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose type appears in the
// allowed slice are forwarded; an empty slice allows everything.
func NewNotifier(senders []Sender, allowed []string, logger *slog.Logger) *Notifier {
	set := make(map[string]bool, len(allowed))
	for _, e := range allowed {
		set[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  set,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// AttachTo subscribes the notifier to the engine's event bus. Sends run on
// their own goroutine so a slow webhook never blocks the hot path.
func (n *Notifier) AttachTo(bus *events.Bus) {
	bus.Subscribe(events.TypeOpportunity, func(e events.Event) error {
		opp, ok := e.Payload.(domain.Opportunity)
		if !ok {
			return nil
		}
		go n.Notify(context.Background(), "opportunity_detected",
			"Arbitrage opportunity",
			fmt.Sprintf("%s: combined cost %.4f, size %.0f, net profit %.2f",
				opp.CanonicalID, opp.CombinedCost, opp.RecommendedSize, opp.NetProfit),
		)
		return nil
	})
	bus.Subscribe(events.TypeExecutionSuccess, func(e events.Event) error {
		res, ok := e.Payload.(domain.ExecutionResult)
		if !ok {
			return nil
		}
		go n.Notify(context.Background(), "execution_success",
			"Execution succeeded",
			fmt.Sprintf("opportunity %s: both legs placed", res.OpportunityID),
		)
		return nil
	})
	bus.Subscribe(events.TypeExecutionFailed, func(e events.Event) error {
		res, ok := e.Payload.(domain.ExecutionResult)
		if !ok {
			return nil
		}
		go n.Notify(context.Background(), "execution_failed",
			"Execution failed",
			fmt.Sprintf("opportunity %s: %s", res.OpportunityID, res.Error),
		)
		return nil
	})
}

// Notify sends to all senders when the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch fans out to every sender; a single sender failure does not
// prevent delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
