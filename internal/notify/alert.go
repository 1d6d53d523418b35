package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

// AlertMessage renders a redemption alert as a title and body.
func AlertMessage(a domain.RedemptionAlert) (title, message string) {
	name := a.Label
	if name == "" {
		name = fmt.Sprintf("%s #%s", a.Trove.CollateralType, a.Trove.ID)
	}

	switch a.Kind {
	case domain.AlertSharpDrop:
		title = "Redemption risk: debt in front dropping for " + name
	default:
		title = "Redemption risk: " + name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Debt in front: %s", redemption.FormatDebtAmount(a.DebtInFront))
	if a.LowerBound {
		b.WriteString(" (lower bound)")
	}
	b.WriteString("\n")
	if a.PreviousDebt != nil {
		fmt.Fprintf(&b, "Previous: %s\n", redemption.FormatDebtAmount(*a.PreviousDebt))
	}
	if a.AlertThreshold.IsPositive() {
		fmt.Fprintf(&b, "Threshold: %s\n", redemption.FormatDebtAmount(a.AlertThreshold))
	}
	fmt.Fprintf(&b, "Troves ahead: %d\n", a.TrovesAhead)
	fmt.Fprintf(&b, "At: %s", a.RaisedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return title, b.String()
}

// AlertSender is implemented by senders with a richer rendering of
// redemption alerts than title and body.
type AlertSender interface {
	SendAlert(ctx context.Context, a domain.RedemptionAlert) error
}

// NotifyAlert sends a as a redemption_risk event. Senders implementing
// AlertSender receive the alert itself.
func (n *Notifier) NotifyAlert(ctx context.Context, a domain.RedemptionAlert) error {
	if !n.allowed(ctx, EventRedemptionRisk) {
		return nil
	}
	title, message := AlertMessage(a)
	return n.dispatchFunc(ctx, title, func(ctx context.Context, s Sender) error {
		if as, ok := s.(AlertSender); ok {
			return as.SendAlert(ctx, a)
		}
		return s.Send(ctx, title, message)
	})
}
