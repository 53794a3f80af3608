package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mossy-p/peerplay/internal/game"
	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/session"
	"github.com/mossy-p/peerplay/internal/wallet"
)

const (
	gatherWait = 20 * time.Second
	chatKind   = "chat"
)

// Menu entries.
const (
	optStatus    = "Show room"
	optBoard     = "Show board"
	optOffers    = "Print offers"
	optAnswer    = "Paste an answer"
	optPending   = "Review pending guest"
	optReopen    = "Reopen a slot"
	optStart     = "Start game"
	optFinish    = "Finish game"
	optReset     = "Reset game"
	optNewBoard  = "New board"
	optOffer     = "Paste an offer"
	optBrowse    = "Browse listings"
	optSync      = "Request sync"
	optPlay      = "Play a move"
	optChat      = "Say something"
	optQuit      = "Quit"
	actJoin      = "Join the game"
	actBegin     = "Begin"
	actRoll      = "Roll dice"
	actMutate    = "Mutate"
	actExpress   = "Express"
	actDrawEvent = "Draw event"
	actCompete   = "Compete"
	actOptimize  = "Optimize"
	actEndPhase  = "End phase"
)

var errQuit = errors.New("quit")

type app struct {
	session  *session.Session
	wallet   *wallet.Wallet
	relay    bool
	listings chan []models.Listing
}

func (a *app) playerID() string { return a.wallet.Identity().PublicKey }

func (a *app) onEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChanged:
		pterm.Info.Printfln("Session is now %s", ev.State)
	case session.EventGuestPending:
		pterm.Warning.Printfln("%s wants to join on %s. Pick %q to decide.", ev.Name, ev.ConnectionID, optPending)
	case session.EventPeerConnected:
		pterm.Success.Printfln("%s connected", nameOr(ev.Name, ev.ConnectionID))
	case session.EventPeerLeft:
		pterm.Warning.Printfln("%s left", nameOr(ev.Name, ev.ConnectionID))
	case session.EventSyncRejected:
		pterm.Error.Printfln("Rejected a ledger update: %v", ev.Err)
	case session.EventRelayError:
		pterm.Error.Printfln("Relay: %v", ev.Err)
	case session.EventGameMessage:
		if ev.Message != nil && ev.Message.Kind == chatKind {
			var text string
			_ = json.Unmarshal(ev.Message.Payload, &text)
			pterm.Println(pterm.Cyan(nameOr(ev.Name, "peer")+": ") + text)
		}
	}
}

func (a *app) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		choice, err := pterm.DefaultInteractiveSelect.
			WithDefaultText("What next?").
			WithOptions(a.options()).
			WithMaxHeight(12).
			Show()
		if err != nil {
			return err
		}
		if err := a.do(ctx, choice); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			pterm.Error.Println(err)
		}
	}
	return nil
}

func (a *app) options() []string {
	snap := a.session.Snapshot()
	opts := []string{optStatus}
	if snap.Started {
		opts = append(opts, optBoard)
	}

	if snap.IsHost {
		if len(a.session.OpenSlots()) > 0 && !a.relay {
			opts = append(opts, optOffers, optAnswer)
		}
		if snap.Pending != nil {
			opts = append(opts, optPending)
		}
		opts = append(opts, optReopen)
		switch snap.State {
		case session.StateWaiting:
			opts = append(opts, optStart)
		case session.StatePlaying:
			opts = append(opts, optPlay, optFinish)
		}
		if snap.State.InRoom() {
			opts = append(opts, optReset, optNewBoard)
		}
	} else {
		if snap.State == session.StateJoining {
			if a.relay {
				opts = append(opts, optBrowse)
			} else {
				opts = append(opts, optOffer)
			}
		}
		if snap.State == session.StatePlaying {
			opts = append(opts, optPlay)
		}
		if snap.State.InRoom() {
			opts = append(opts, optSync)
		}
	}

	if snap.State.InRoom() {
		opts = append(opts, optChat)
	}
	return append(opts, optQuit)
}

func (a *app) do(ctx context.Context, choice string) error {
	switch choice {
	case optStatus:
		a.showRoom()
	case optBoard:
		a.showBoard()
	case optOffers:
		return a.printOffers(ctx)
	case optAnswer:
		blob, err := prompt("Answer blob")
		if err != nil {
			return err
		}
		return a.session.ReceiveAnswer(blob)
	case optPending:
		return a.reviewPending()
	case optReopen:
		id, err := a.session.ReopenSlot()
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Slot %s is open again", id)
	case optStart:
		return a.session.StartGame()
	case optFinish:
		return a.session.FinishGame()
	case optReset:
		return a.session.ResetGame()
	case optNewBoard:
		return a.session.NewBoard()
	case optOffer:
		return a.acceptOffer(ctx)
	case optBrowse:
		return a.browse(ctx)
	case optSync:
		return a.session.RequestSync()
	case optPlay:
		return a.play()
	case optChat:
		text, err := prompt("Message")
		if err != nil {
			return err
		}
		return a.session.SendGameMessage(chatKind, text)
	case optQuit:
		return errQuit
	}
	return nil
}

func (a *app) showRoom() {
	snap := a.session.Snapshot()
	title := "Guest"
	if snap.IsHost {
		title = "Host"
	}
	pterm.DefaultBox.WithTitle(title).WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1).
		Println(roomPanel(snap))
}

func (a *app) showBoard() {
	snap := a.session.Snapshot()
	st, ok := snap.Game.(game.State)
	if !ok {
		pterm.Info.Println("No board yet")
		return
	}
	pterm.DefaultBox.WithTitle("Evolution").WithLeftPadding(2).WithRightPadding(2).
		Println(boardPanel(st, snap.LedgerLength))
}

func (a *app) printOffers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, gatherWait)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Gathering candidates")
	var blobs []string
	for _, id := range a.session.OpenSlots() {
		blob, err := a.session.Offer(ctx, id)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		blobs = append(blobs, fmt.Sprintf("%s\n%s", pterm.Bold.Sprint(id), blob))
	}
	spinner.Success("Send one offer to each guest")
	for _, b := range blobs {
		pterm.Println(b)
		pterm.Println()
	}
	return nil
}

func (a *app) reviewPending() error {
	snap := a.session.Snapshot()
	if snap.Pending == nil {
		return session.ErrNoPendingGuest
	}
	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText(fmt.Sprintf("Let %s join?", snap.Pending.Name)).
		Show()
	if err != nil {
		return err
	}
	if !ok {
		return a.session.RejectGuest()
	}
	return a.session.ApproveGuest()
}

func (a *app) acceptOffer(ctx context.Context) error {
	blob, err := prompt("Offer blob")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gatherWait)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Answering")
	answer, err := a.session.AcceptOffer(ctx, blob)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("Send this answer back to the host")
	pterm.Println(answer)
	return nil
}

func (a *app) browse(ctx context.Context) error {
	if err := a.session.Browse(func(ls []models.Listing) {
		select {
		case a.listings <- ls:
		default:
		}
	}); err != nil {
		return err
	}

	var listings []models.Listing
	select {
	case listings = <-a.listings:
	case <-time.After(5 * time.Second):
		return errors.New("relay did not answer")
	case <-ctx.Done():
		return ctx.Err()
	}
	if len(listings) == 0 {
		pterm.Info.Println("No open sessions right now")
		return nil
	}

	labels := make([]string, len(listings))
	for i, l := range listings {
		labels[i] = fmt.Sprintf("%d. %s hosted by %s, %d open", i+1, short(l.SessionID), l.HostName, len(l.OpenSlots()))
	}
	choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("Join which session?").WithOptions(labels).Show()
	if err != nil {
		return err
	}
	for i, label := range labels {
		if label != choice {
			continue
		}
		ctx, cancel := context.WithTimeout(ctx, gatherWait)
		defer cancel()
		spinner, _ := pterm.DefaultSpinner.Start("Answering " + listings[i].HostName)
		if err := a.session.JoinListing(ctx, listings[i], ""); err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success("Answer sent, waiting for the host to approve")
	}
	return nil
}

func (a *app) play() error {
	snap := a.session.Snapshot()
	st, _ := snap.Game.(game.State)

	var moves []string
	if _, joined := st.Player(a.playerID()); !joined {
		moves = append(moves, actJoin)
	}
	if snap.IsHost {
		moves = append(moves, actBegin)
	}
	moves = append(moves, actRoll, actMutate, actExpress, actDrawEvent, actCompete, actOptimize, actEndPhase)

	choice, err := pterm.DefaultInteractiveSelect.
		WithDefaultText(fmt.Sprintf("Phase %s", st.Phase)).
		WithOptions(moves).
		Show()
	if err != nil {
		return err
	}

	action, err := a.buildAction(choice, st)
	if err != nil {
		return err
	}
	return a.session.SubmitAction(action)
}

func (a *app) buildAction(choice string, st game.State) (ledger.Action, error) {
	id := a.playerID()
	switch choice {
	case actJoin:
		return game.AddPlayer(id, a.wallet.Identity().Name)
	case actBegin:
		return game.Begin()
	case actRoll:
		return game.RollDice(id)
	case actMutate:
		t, err := pickTrait("Mutate which trait?")
		if err != nil {
			return ledger.Action{}, err
		}
		return game.Mutate(id, t)
	case actExpress:
		t, err := pickTrait("Express which trait?")
		if err != nil {
			return ledger.Action{}, err
		}
		return game.Express(id, t)
	case actDrawEvent:
		return game.DrawEvent()
	case actCompete:
		target, err := pickOpponent(st, id)
		if err != nil {
			return ledger.Action{}, err
		}
		return game.Compete(id, target)
	case actOptimize:
		return game.Optimize(id)
	case actEndPhase:
		return game.EndPhase()
	}
	return ledger.Action{}, fmt.Errorf("unknown move %q", choice)
}

func pickTrait(text string) (game.Trait, error) {
	opts := make([]string, len(game.Traits))
	for i, t := range game.Traits {
		opts[i] = string(t)
	}
	choice, err := pterm.DefaultInteractiveSelect.WithDefaultText(text).WithOptions(opts).Show()
	return game.Trait(choice), err
}

func pickOpponent(st game.State, self string) (string, error) {
	var (
		ids    []string
		labels []string
	)
	for _, p := range st.Players {
		if p.ID == self {
			continue
		}
		ids = append(ids, p.ID)
		labels = append(labels, fmt.Sprintf("%s (%d biomass)", p.Name, p.Biomass))
	}
	if len(ids) == 0 {
		return "", errors.New("nobody to compete with")
	}
	choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("Compete with").WithOptions(labels).Show()
	if err != nil {
		return "", err
	}
	for i, l := range labels {
		if l == choice {
			return ids[i], nil
		}
	}
	return "", fmt.Errorf("unknown opponent %q", choice)
}

func prompt(text string) (string, error) {
	v, err := pterm.DefaultInteractiveTextInput.WithDefaultText(text).Show()
	return strings.TrimSpace(v), err
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
