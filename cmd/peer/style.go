package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/mossy-p/peerplay/internal/game"
	"github.com/mossy-p/peerplay/internal/session"
)

func banner() {
	_ = pterm.DefaultBigText.WithLetters(putils.LettersFromString("peerplay")).Render()
}

func short(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}

func roomPanel(snap session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session  %s\n", snap.SessionID)
	fmt.Fprintf(&b, "State    %s\n", snap.State)
	if snap.IsHost {
		fmt.Fprintf(&b, "Peers    %d/%d\n", snap.ConnectedPeers()+1, snap.MaxPlayers)
	}
	if snap.Pending != nil {
		fmt.Fprintf(&b, "Pending  %s on %s\n", pterm.Yellow(snap.Pending.Name), snap.Pending.ConnectionID)
	}
	b.WriteString("\n")
	for _, p := range snap.Participants {
		mark := pterm.Red("o")
		if p.Connected {
			mark = pterm.Green("o")
		}
		role := ""
		if p.Host {
			role = " (host)"
		}
		fmt.Fprintf(&b, "%s %s%s  %s\n", mark, p.Name, role, p.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func boardPanel(st game.State, ledgerLen int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase %s  Round %d  Entries %d\n", st.Phase, st.Round, ledgerLen)
	if st.Event != nil {
		fmt.Fprintf(&b, "Event %s favours %s (+%d)\n", st.Event.Name, st.Event.Favoured, st.Event.Bonus)
	}
	if st.LastRoll != nil {
		fmt.Fprintf(&b, "Roll  %s rolled %d\n", playerName(st, st.LastRoll.PlayerID), st.LastRoll.Value)
	}
	if st.LastBout != nil {
		fmt.Fprintf(&b, "Bout  %s %d vs %s %d, %d biomass moved\n",
			playerName(st, st.LastBout.AttackerID), st.LastBout.AttackerTotal,
			playerName(st, st.LastBout.DefenderID), st.LastBout.DefenderTotal,
			st.LastBout.Transferred)
	}

	rows := pterm.TableData{{"Player", "Biomass", "MP", "Traits", "Expressed"}}
	for _, p := range st.Players {
		traits := make([]string, 0, len(game.Traits))
		for _, t := range game.Traits {
			traits = append(traits, fmt.Sprintf("%s:%d", t, p.Traits[t]))
		}
		expressed := make([]string, len(p.Expressed))
		for i, t := range p.Expressed {
			expressed[i] = string(t)
		}
		rows = append(rows, []string{
			p.Name,
			fmt.Sprint(p.Biomass),
			fmt.Sprint(p.MutationPoints),
			strings.Join(traits, " "),
			strings.Join(expressed, ","),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err == nil {
		b.WriteString("\n")
		b.WriteString(table)
	}
	if st.Winner != "" {
		fmt.Fprintf(&b, "\n%s wins", pterm.Green(playerName(st, st.Winner)))
	}
	return b.String()
}

func playerName(st game.State, id string) string {
	if p, ok := st.Player(id); ok && p.Name != "" {
		return p.Name
	}
	return short(id)
}
