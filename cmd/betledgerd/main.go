package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nats-io/nats.go"

	"github.com/fairstake/betledger/internal/chain"
	"github.com/fairstake/betledger/internal/config"
	"github.com/fairstake/betledger/internal/ledger"
	"github.com/fairstake/betledger/internal/odds"
	"github.com/fairstake/betledger/internal/payout"
	"github.com/fairstake/betledger/internal/service"
	"github.com/fairstake/betledger/internal/settle"
	"github.com/fairstake/betledger/internal/sign"
	"github.com/fairstake/betledger/pkg/events"
	"github.com/fairstake/betledger/pkg/infra"
	"github.com/fairstake/betledger/pkg/kvstore"
	"github.com/fairstake/betledger/pkg/logger"
)

const version = "1.0.0"

type CLI struct {
	Serve     ServeCmd     `cmd:"" help:"Run the bet ledger server."`
	Commit    CommitCmd    `cmd:"" help:"Derive the commit for a reveal secret."`
	Authorize AuthorizeCmd `cmd:"" help:"Sign a commit/expiry pair (croupier tooling)."`
	Events    EventsCmd    `cmd:"" help:"Print audit records from NATS."`
}

type ServeCmd struct {
	ConfigPath string `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Debug      bool   `help:"Enable debug logs." name:"debug"`
}

type CommitCmd struct {
	Reveal string `arg:"" help:"Reveal secret as 64 hex characters."`
}

type AuthorizeCmd struct {
	Key    string `help:"Signer private key as hex." required:"" name:"key"`
	Commit string `arg:"" help:"Commit as 64 hex characters."`
	Expiry uint64 `help:"Expiry height for the authorization." required:"" name:"expiry"`
}

type EventsCmd struct {
	NATSURL string `help:"NATS server URL." default:"nats://127.0.0.1:4222" name:"nats-url"`
	Subject string `help:"Subject to subscribe to." default:"betledger.>" name:"subject"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("betledgerd"),
		kong.Description("Commit-reveal bet ledger."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func (c *ServeCmd) Run() error {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	logger.Init(&logger.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})

	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	units, err := cfg.Ledger.Units()
	if err != nil {
		return err
	}
	signer, err := sign.ParseAddress(cfg.Ledger.Signer)
	if err != nil {
		return err
	}
	logger.Info("Config loaded", "signer", signer.Hex())

	store, err := kvstore.NewBadgerStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	emitter, err := buildEmitter(cfg)
	if err != nil {
		return err
	}
	defer emitter.Close()

	source, err := chain.NewEVMSource(cfg.Chain.Nodes, chain.ClientConfig{
		RequestTimeout: cfg.Chain.RequestTimeout,
		MaxRetries:     cfg.Chain.MaxRetries,
		RetryDelay:     cfg.Chain.RetryDelay,
		RPS:            cfg.Chain.RPS,
		Burst:          cfg.Chain.Burst,
	})
	if err != nil {
		return fmt.Errorf("chain source: %w", err)
	}

	l, err := ledger.Open(store,
		odds.Engine{
			JackpotThreshold: units.JackpotThreshold,
			JackpotFee:       units.JackpotFee,
		},
		sign.NewVerifier(signer),
		ledger.Limits{
			MinBet:    units.MinBet,
			MaxBet:    units.MaxBet,
			MaxProfit: units.MaxProfit,
		})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	engine := settle.NewEngine(l,
		payout.NewDispatcher(l, emitter, cfg.Ledger.Decimals),
		source,
		settle.Config{
			LookbackBlocks: cfg.Ledger.LookbackBlocks,
			JackpotModulo:  cfg.Ledger.JackpotModulo,
		})

	svc := service.New(l, engine, emitter, source, cfg.Ledger.OperatorToken)
	server := startHTTPServer(cfg.HTTP.Listen, version, svc, cfg.Ledger.Decimals)

	state := l.State()
	logger.Info("Ledger is running",
		"balance", config.FormatAmount(state.Balance, cfg.Ledger.Decimals),
		"locked", config.FormatAmount(state.LockedLiability, cfg.Ledger.Decimals),
		"jackpot", config.FormatAmount(state.JackpotPool, cfg.Ledger.Decimals))
	waitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "err", err)
	}
	logger.Info("Ledger stopped")
	return nil
}

func buildEmitter(cfg *config.Config) (events.Emitter, error) {
	if cfg.NATS.URL == "" {
		logger.Warn("No NATS URL configured, audit records go to the process log")
		return events.LogEmitter{}, nil
	}

	nc, err := infra.GetNATSConnection(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	publisher, err := infra.NewJetStreamPublisher(nc, cfg.NATS.Stream,
		[]string{cfg.NATS.SubjectPrefix + ".>"})
	if err != nil {
		nc.Close()
		return nil, err
	}
	return events.NewEmitter(publisher, cfg.NATS.SubjectPrefix), nil
}

func (c *CommitCmd) Run() error {
	var reveal [32]byte
	if err := parseHex32(c.Reveal, &reveal); err != nil {
		return fmt.Errorf("invalid reveal: %w", err)
	}
	fmt.Println(ledger.CommitOf(reveal).Hex())
	return nil
}

func (c *AuthorizeCmd) Run() error {
	keyBytes, err := hex.DecodeString(c.Key)
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(keyBytes)

	var commit [32]byte
	if err := parseHex32(c.Commit, &commit); err != nil {
		return fmt.Errorf("invalid commit: %w", err)
	}

	sig := sign.Sign(priv, c.Expiry, commit)
	fmt.Printf("signer: %s\n", sign.PubKeyAddress(priv.PubKey()).Hex())
	fmt.Printf("v: %d\n", sig.V)
	fmt.Printf("r: %s\n", hex.EncodeToString(sig.R[:]))
	fmt.Printf("s: %s\n", hex.EncodeToString(sig.S[:]))
	return nil
}

func (c *EventsCmd) Run() error {
	logger.Init(&logger.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339,
	})

	nc, err := infra.GetNATSConnection(c.NATSURL)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	defer nc.Close()

	logger.Info("Subscribed", "subject", c.Subject)
	_, err = nc.Subscribe(c.Subject, func(msg *nats.Msg) {
		fmt.Printf("%s %s\n", msg.Subject, string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	waitForShutdown()
	return nil
}

func waitForShutdown() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}
