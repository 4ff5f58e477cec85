package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"TrancheBank/internal/model"
	"TrancheBank/internal/phase"
	"TrancheBank/internal/safemath"
	"TrancheBank/internal/schedule"
)

const timeLayout = "2006-01-02 15:04 MST"

// FormatPoolStatus formats the pool snapshot for display.
func FormatPoolStatus(st model.PoolStatus) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>Pool status</b> | %s\n\n", st.Now.Format(timeLayout)))
	b.WriteString(fmt.Sprintf("Phase: %s\n", st.Phase))
	b.WriteString(fmt.Sprintf("Reward pool: %s\n", st.RewardTotal))
	b.WriteString(fmt.Sprintf("Active stake: %s (%d active, %d withdrawn)\n",
		st.TotalActiveStake, st.ActiveCount, st.WithdrawnCount))
	b.WriteString(fmt.Sprintf("Tranches settled: %d/%d\n", st.LastSettledTranche, st.TotalTranches))
	b.WriteString(fmt.Sprintf("Pool balance: %s\n", st.PoolBalance))
	if st.Swept.IsPositive() {
		b.WriteString(fmt.Sprintf("⚠️ Swept by operator: %s\n", st.Swept))
	}
	if st.NextBoundary.IsZero() {
		b.WriteString("Next unlock: none, all tranches unlocked\n")
	} else {
		b.WriteString(fmt.Sprintf("Next unlock: %s (in %s)\n",
			st.NextBoundary.Format(timeLayout), st.NextBoundary.Sub(st.Now).Round(time.Second)))
	}
	return b.String()
}

// FormatPhaseChange announces a phase or tranche transition.
func FormatPhaseChange(from, to model.Phase, at time.Time) string {
	var b strings.Builder
	switch to.Kind {
	case model.PhaseLocked:
		b.WriteString("🔒 <b>Deposits closed</b>\n\n")
	case model.PhaseDistribution:
		b.WriteString(fmt.Sprintf("🔓 <b>Tranche %d unlocked</b>\n\n", to.Tranche))
	default:
		b.WriteString("🟢 <b>Funding open</b>\n\n")
	}
	b.WriteString(fmt.Sprintf("%s → %s\n", from, to))
	b.WriteString(fmt.Sprintf("At: %s\n", at.Format(timeLayout)))
	return b.String()
}

// FormatParticipant formats one participant record, with reward previewed to now.
func FormatParticipant(p model.Participant) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("👤 <b>%s</b>\n\n", html.EscapeString(p.ID)))
	b.WriteString(fmt.Sprintf("Principal: %s\n", p.Principal))
	b.WriteString(fmt.Sprintf("Credited reward: %s (through tranche %d)\n", p.CreditedReward, p.SettledTranche))
	if p.Active {
		claimable, err := safemath.Add(p.Principal, p.CreditedReward)
		if err != nil {
			b.WriteString(fmt.Sprintf("Status: active, claimable amount overflows (%v)\n", err))
		} else {
			b.WriteString(fmt.Sprintf("Status: active, claimable now %s\n", claimable))
		}
	} else {
		b.WriteString(fmt.Sprintf("Status: withdrawn %s, paid %s\n", p.WithdrawnAt.Format(timeLayout), p.PaidOut))
	}
	b.WriteString(fmt.Sprintf("Deposited: %s\n", p.DepositedAt.Format(timeLayout)))
	return b.String()
}

// FormatSchedule lists every tranche with its share, amount and unlock time.
func FormatSchedule(cfg model.PoolConfig, s *schedule.Schedule) string {
	var b strings.Builder
	b.WriteString("📅 <b>Tranche schedule</b>\n\n")
	b.WriteString(fmt.Sprintf("Funding ends: %s\n", cfg.DeployTime.Add(cfg.Window).Format(timeLayout)))
	for k := 1; k <= s.Tranches(); k++ {
		b.WriteString(fmt.Sprintf("  #%d %s (cum. %s): %s at %s\n", k,
			percent(s.TrancheBps(k)), percent(s.Cumulative(k)),
			s.TrancheAmount(cfg.RewardTotal, k),
			phase.UnlockTime(cfg.DeployTime, cfg.Window, k).Format(timeLayout)))
	}
	return b.String()
}

func percent(bps uint32) string {
	if bps%100 == 0 {
		return fmt.Sprintf("%d%%", bps/100)
	}
	return fmt.Sprintf("%.2f%%", float64(bps)/100)
}
