package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/peerplay/config"
	"github.com/mossy-p/peerplay/internal/game"
	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/redis"
	"github.com/mossy-p/peerplay/internal/session"
	"github.com/mossy-p/peerplay/internal/signaling"
	"github.com/mossy-p/peerplay/internal/wallet"
)

const sessionTTL = 7 * 24 * time.Hour

func main() {
	cfg := config.LoadPeer()

	var (
		useRelay = flag.Bool("relay", false, "discover sessions through the relay instead of copy/paste")
		name     = flag.String("name", cfg.PlayerName, "player name")
		players  = flag.Int("players", cfg.MaxPlayers, "room capacity when hosting, host included")
		seed     = flag.String("seed", "", "hex wallet seed to reuse an identity")
		store    = flag.String("redis", "", "host:port of a redis used to persist sessions")
		resume   = flag.String("resume", "", "session id to resume from the store")
		verbose  = flag.Bool("v", false, "log to stderr")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] host|join\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	mode := flag.Arg(0)
	if mode != "host" && mode != "join" && *resume == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zap.NewNop()
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	defer logger.Sync()

	opts := options{
		mode:     mode,
		useRelay: *useRelay,
		name:     *name,
		players:  *players,
		seed:     *seed,
		store:    *store,
		resume:   *resume,
	}
	if err := run(ctx, stop, cfg, opts, logger); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

type options struct {
	mode     string
	useRelay bool
	name     string
	players  int
	seed     string
	store    string
	resume   string
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.PeerConfig, opts options, logger *zap.Logger) error {
	banner()

	if opts.name == "" {
		name, err := pterm.DefaultInteractiveTextInput.WithDefaultText("Your name").Show()
		if err != nil {
			return err
		}
		opts.name = strings.TrimSpace(name)
	}

	w, err := newWallet(opts.name, opts.seed)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Playing as %s (%s)", pterm.Bold.Sprint(opts.name), short(w.Identity().PublicKey))
	pterm.Debug.Printfln("Wallet seed: %s", w.Seed())

	var exchange signaling.Exchange = signaling.Manual{}
	if opts.useRelay {
		relay, err := dialRelay(ctx, cfg, w, logger)
		if err != nil {
			return err
		}
		relay.OnError(func(err error) { pterm.Warning.Printfln("relay: %v", err) })
		exchange = relay
	}
	defer exchange.Close()

	var persistence session.Persistence
	if opts.store != "" {
		client, err := connectStore(ctx, opts.store)
		if err != nil {
			return err
		}
		defer client.Close()
		persistence = redis.NewSessionStore(client, sessionTTL)
	} else if opts.resume != "" {
		return fmt.Errorf("-resume needs -redis")
	}

	s, err := session.New(session.Config{
		PlayerName: opts.name,
		GameID:     cfg.GameID,
		Wallet:     w,
		Transports: peer.NewPionFactory(peer.PionConfig{ICEServers: cfg.ICEServers, Logger: logger.Named("peer")}),
		Exchange:   exchange,
		Replayer:   game.NewReplayer(cfg.WinThreshold),
		Authorize:  game.Authorize,
		Store:      persistence,
		Logger:     logger.Named("session"),
	})
	if err != nil {
		return err
	}

	a := &app{
		session:  s,
		wallet:   w,
		relay:    opts.useRelay,
		listings: make(chan []models.Listing, 1),
	}
	unsubscribe := s.Subscribe(a.onEvent)
	defer unsubscribe()

	switch {
	case opts.resume != "":
		err = s.Resume(ctx, opts.resume)
	case opts.mode == "host":
		err = s.Host(session.ClampPlayers(opts.players))
	default:
		err = s.Join()
	}
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return a.loop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.CloseSession()
	})
	return g.Wait()
}

func newWallet(name, seed string) (*wallet.Wallet, error) {
	if seed != "" {
		return wallet.FromSeed(name, seed)
	}
	return wallet.New(name)
}

func connectStore(ctx context.Context, addr string) (*goredis.Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("bad redis address %q: %w", addr, err)
	}
	return redis.Connect(ctx, config.RedisConfig{Host: host, Port: port})
}

func dialRelay(ctx context.Context, cfg *config.PeerConfig, w *wallet.Wallet, logger *zap.Logger) (*signaling.Relay, error) {
	spinner, _ := pterm.DefaultSpinner.Start("Connecting to relay at " + cfg.RelayURL)

	token := cfg.RelayToken
	if token == "" {
		var err error
		if token, err = subscribe(ctx, cfg.RelayURL, w); err != nil {
			spinner.Fail(err.Error())
			return nil, err
		}
	}

	relay, err := signaling.DialRelay(ctx, signaling.RelayConfig{
		URL:      cfg.RelayURL,
		Token:    token,
		GameID:   cfg.GameID,
		Signer:   w,
		Debounce: cfg.PublishDebounce,
		Logger:   logger.Named("relay"),
	})
	if err != nil {
		spinner.Fail(err.Error())
		return nil, err
	}
	spinner.Success("Connected to relay")
	return relay, nil
}

// subscribe proves ownership of the wallet key and returns a relay token.
func subscribe(ctx context.Context, relayURL string, w *wallet.Wallet) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api/auth/subscribe"
	u.RawQuery = ""

	nonce := uuid.NewString()
	sig, err := w.Sign([]byte(nonce))
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(models.SubscribeRequest{PublicKey: w.Identity().PublicKey, Nonce: nonce, Signature: sig})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subscribe: relay answered %s", res.Status)
	}

	var out models.SubscribeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	return out.Token, nil
}
