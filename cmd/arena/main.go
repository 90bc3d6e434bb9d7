package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/archive"
	"github.com/quizverse/arena-core/internal/battle"
	appcfg "github.com/quizverse/arena-core/internal/config"
	"github.com/quizverse/arena-core/internal/content"
	"github.com/quizverse/arena-core/internal/economy"
	"github.com/quizverse/arena-core/internal/ledger"
	"github.com/quizverse/arena-core/internal/matchmaking"
	"github.com/quizverse/arena-core/internal/notify"
	"github.com/quizverse/arena-core/internal/obslog"
	"github.com/quizverse/arena-core/internal/profile"
	"github.com/quizverse/arena-core/internal/settlement"
	"github.com/quizverse/arena-core/pkg/arenadto"
)

// commandChannel is where the session layer publishes player actions.
const commandChannel = "arena:commands"

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// plain host:port form
		opts = &redis.Options{Addr: cfg.RedisURL}
	}
	rdb := redis.NewClient(opts)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("redis connect error: %v", err)
	}
	pingCancel()

	catalog, err := economy.NewCatalog(cfg.TierCatalogDir)
	if err != nil {
		log.Fatalf("tier catalog error: %v", err)
	}

	ledgerMgr := ledger.NewWithClient(rdb)
	profiles := profile.NewStore(rdb)

	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		ledgerMgr.AttachArchive(repo)
	}

	var provider content.Provider
	if cfg.ContentBaseURL != "" {
		headers := func() map[string]string {
			h := map[string]string{}
			if cfg.ContentAPIKey != "" {
				h["X-Api-Key"] = cfg.ContentAPIKey
			}
			return h
		}
		provider = content.NewClient(cfg.ContentBaseURL,
			content.WithHeaderProvider(headers),
			content.WithRetry(cfg.ContentRetries))
	} else {
		provider = content.NewStaticProvider(content.DefaultPool(), time.Now().UnixNano())
	}

	var gateway *notify.Gateway
	if cfg.GatewayWSURL != "" {
		gateway = notify.NewGateway(cfg.GatewayWSURL, 5)
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := gateway.Connect(cctx); err != nil {
			obslog.L().Warn("gateway connect failed, events go out via redis only", zap.Error(err))
		}
		cancel()
	}
	egress := notify.NewEgress(notify.NewRedisPublisher(rdb), gateway, cfg.EgressQueueSize)

	var resultArchive settlement.ResultArchiver
	if repo != nil {
		resultArchive = repo
	}
	engine := settlement.NewEngine(ledgerMgr, profiles, egress, resultArchive)

	battles := battle.NewManager(provider, engine, egress, profiles, battle.Windows{
		Confirm:       cfg.ConfirmWindow,
		Question:      cfg.QuestionWindow,
		Battle:        cfg.BattleWindow,
		QuestionCount: cfg.QuestionCount,
	})

	queue := matchmaking.NewQueue(catalog, ledgerMgr, battles, profiles)

	ctx, cancelAll := context.WithCancel(context.Background())
	sub := rdb.Subscribe(ctx, commandChannel)
	go commandLoop(ctx, sub, &dispatcher{
		ledger:   ledgerMgr,
		queue:    queue,
		battles:  battles,
		notifier: egress,
	})

	obslog.L().Info("arena_started",
		zap.Strings("tiers", catalog.Names()),
		zap.Bool("archive", repo != nil),
		zap.Bool("gateway", gateway != nil),
		zap.Bool("static_content", cfg.ContentBaseURL == ""))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("arena_stopping")
	cancelAll()
	_ = sub.Close()
	battles.Close()
	egress.Close()
	if gateway != nil {
		_ = gateway.Close(context.Background())
	}
	if repo != nil {
		_ = repo.Close()
	}
	_ = rdb.Close()
}

type dispatcher struct {
	ledger   *ledger.Manager
	queue    *matchmaking.Queue
	battles  *battle.Manager
	notifier notify.Publisher
}

func commandLoop(ctx context.Context, sub *redis.PubSub, d *dispatcher) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd arenadto.Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				obslog.L().Warn("command_decode_failed", zap.Error(err))
				continue
			}
			// Keep the subscription loop free of slow work.
			go d.handle(ctx, cmd)
		}
	}
}

func (d *dispatcher) handle(ctx context.Context, cmd arenadto.Command) {
	var err error
	switch cmd.Op {
	case arenadto.OpDeposit:
		if cmd.IdemKey == "" {
			err = arenadto.DomainError{Code: "missing_idem_key", Message: "deposit requires an idempotency key"}
			break
		}
		_, err = d.ledger.Deposit(ctx, cmd.PlayerID, cmd.Amount, cmd.IdemKey)
	case arenadto.OpEnqueue:
		_, err = d.queue.Enqueue(ctx, cmd.PlayerID, cmd.Tier)
	case arenadto.OpCancel:
		err = d.queue.Cancel(ctx, cmd.TicketID)
	case arenadto.OpConfirm:
		err = d.battles.Confirm(ctx, cmd.BattleID, cmd.PlayerID)
	case arenadto.OpAnswer:
		err = d.battles.SubmitAnswer(ctx, cmd.BattleID, cmd.PlayerID, cmd.QuestionIndex, cmd.Choice)
	default:
		err = arenadto.DomainError{Code: "unknown_op"}
	}
	if err == nil {
		return
	}
	obslog.L().Warn("command_rejected",
		zap.String("op", string(cmd.Op)),
		zap.String("player", cmd.PlayerID),
		zap.Error(err))
	if pubErr := d.notifier.Publish(ctx, arenadto.Event{
		Kind:     arenadto.EventCommandRejected,
		BattleID: cmd.BattleID,
		Players:  []string{cmd.PlayerID},
		Rejected: rejection(err),
	}); pubErr != nil {
		obslog.L().Warn("event_publish_failed", zap.Error(pubErr))
	}
}

// rejection maps internal failures onto stable wire codes.
func rejection(err error) *arenadto.DomainError {
	var de arenadto.DomainError
	if errors.As(err, &de) {
		return &de
	}
	code := "internal"
	retryable := false
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		code = "already_queued"
	case errors.Is(err, matchmaking.ErrPlayerBusy):
		code = "player_busy"
	case errors.Is(err, matchmaking.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFunds):
		code = "insufficient_funds"
	case errors.Is(err, matchmaking.ErrTicketNotFound):
		code = "ticket_not_found"
	case errors.Is(err, matchmaking.ErrAlreadyMatched):
		code = "already_matched"
	case errors.Is(err, economy.ErrUnknownTier):
		code = "unknown_tier"
	case errors.Is(err, battle.ErrBattleNotFound):
		code = "battle_not_found"
	case errors.Is(err, battle.ErrNotParticipant):
		code = "not_participant"
	case errors.Is(err, battle.ErrWrongPhase):
		code = "wrong_phase"
	case errors.Is(err, battle.ErrQuestionClosed):
		code = "question_closed"
	case errors.Is(err, battle.ErrInvalidChoice):
		code = "invalid_choice"
	case errors.Is(err, battle.ErrAlreadyAnswered):
		code = "already_answered"
	default:
		retryable = true
	}
	return &arenadto.DomainError{Code: code, Message: err.Error(), Retryable: retryable}
}
