package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func renderRounds(out io.Writer, rounds []model.Round) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Status", "Matches", "Seed", "Parlays", "Paid out", "Net revenue", "Locked")
	for _, r := range rounds {
		if err := table.Append(
			itoa(r.ID),
			string(r.Status),
			strconv.Itoa(len(r.Matches)),
			itoa(r.ProtocolSeedAmount),
			itoa(r.ParlayCount),
			itoa(r.TotalPaidOut),
			itoa(r.NetRevenue),
			stamp(r.LockedAt),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderRound(out io.Writer, r model.Round, odds []model.Odds, settled bool) error {
	fmt.Fprintf(out, "round %d  %s  seed %d (%s)  fully settled: %t\n", r.ID, r.Status, r.ProtocolSeedAmount, r.SeedSource, settled)
	table := tablewriter.NewWriter(out)
	table.Header("#", "Home", "Away", "Pool H/A/D", "Odds H/A/D", "Outcome")
	for i, m := range r.Matches {
		pool := "-"
		if i < len(r.Pools) {
			p := r.Pools[i]
			pool = fmt.Sprintf("%d/%d/%d", p.Home, p.Away, p.Draw)
		}
		price := "-"
		if i < len(odds) {
			o := odds[i]
			price = fmt.Sprintf("%s/%s/%s", o.Home.StringFixed(2), o.Away.StringFixed(2), o.Draw.StringFixed(2))
		}
		if err := table.Append(strconv.Itoa(m.Index), m.HomeTeam, m.AwayTeam, pool, price, string(m.Outcome)); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderReserve(out io.Writer, st model.ReserveState) error {
	table := tablewriter.NewWriter(out)
	table.Header("Balance", "Locked bonus", "Season pool", "Funded", "Seeded", "Bonuses paid")
	if err := table.Append(
		itoa(st.Balance), itoa(st.LockedBonus), itoa(st.SeasonPool),
		itoa(st.TotalFunded), itoa(st.TotalSeeded), itoa(st.TotalBonuses),
	); err != nil {
		return err
	}
	return table.Render()
}

func renderRequests(out io.Writer, reqs []model.OracleRequest) error {
	table := tablewriter.NewWriter(out)
	table.Header("Request", "Round", "Requested", "Waiting")
	for _, q := range reqs {
		if err := table.Append(q.ID, itoa(q.RoundID), q.RequestedAt.Format(time.RFC3339), time.Since(q.RequestedAt).Round(time.Second).String()); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderSplit(out io.Writer, s engine.RevenueSplit) error {
	table := tablewriter.NewWriter(out)
	table.Header("Net revenue", "Winners", "Protocol", "Capital", "Season", "Absorbed", "Recovered")
	if err := table.Append(
		itoa(s.NetRevenue), itoa(s.ReservedWinners), itoa(s.ProtocolShare),
		itoa(s.CapitalShare), itoa(s.SeasonShare), itoa(s.Absorbed), itoa(s.RecoveredCapital),
	); err != nil {
		return err
	}
	return table.Render()
}
