package service

import (
	"fmt"
	"strings"

	"fibo_bot/internal/models"
)

func formatEvent(ev models.Event) string {
	switch ev.Kind {
	case models.EventEntryFilled:
		return fmt.Sprintf("✅ *%s %s* entry filled: `%s` @ `%s`", ev.Symbol, ev.Side, f4(ev.Qty), f4(ev.Price))
	case models.EventEntry2Filled:
		return fmt.Sprintf("➕ *%s %s* second entry filled: `%s` @ `%s`", ev.Symbol, ev.Side, f4(ev.Qty), f4(ev.Price))
	case models.EventTargetHit:
		return fmt.Sprintf("🎯 *%s %s* target %d hit @ `%s`, closed `%s`, pnl `%s`",
			ev.Symbol, ev.Side, ev.Target, f4(ev.Price), f4(ev.Qty), f2(ev.PnL))
	case models.EventStopHit:
		return fmt.Sprintf("🛑 *%s %s* stop hit @ `%s`, pnl `%s`", ev.Symbol, ev.Side, f4(ev.Price), f2(ev.PnL))
	case models.EventPositionClosed:
		return fmt.Sprintf("🏁 *%s %s* closed, pnl `%s`%s", ev.Symbol, ev.Side, f2(ev.PnL), suffix(ev.Message))
	case models.EventEntryCancelled:
		return fmt.Sprintf("⏹ *%s %s* entry cancelled%s", ev.Symbol, ev.Side, suffix(ev.Message))
	case models.EventInstanceStopped:
		return "⚠️ Bot stopped" + suffix(ev.Message)
	}
	return fmt.Sprintf("%s %s", ev.Kind, ev.Message)
}

func formatStatus(st models.InstanceStatus, positions []*models.Position) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Status:* `%s`\n", st.Status)
	if st.StopReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", st.StopReason)
	}
	if st.Restarts > 0 {
		fmt.Fprintf(&b, "Restarts: `%d`\n", st.Restarts)
	}
	if len(positions) == 0 {
		b.WriteString("No open positions")
		return b.String()
	}
	b.WriteString("\n*Positions*\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s %s %s `%s` avg `%s` stop `%s`\n",
			p.Symbol, p.Timeframe, p.Side, p.State, f4(p.AvgEntry), f4(p.StopPrice))
	}
	return b.String()
}

func suffix(msg string) string {
	if msg == "" {
		return ""
	}
	return ": " + msg
}
