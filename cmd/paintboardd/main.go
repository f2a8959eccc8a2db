// Command paintboardd runs the paintboard backend: it loads configuration,
// opens durable storage, wires the board/token/rate-limit/paint-engine
// collaborators together, and serves the HTTP and WebSocket surfaces until
// terminated.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pixelhall/paintboard/internal/config"
	"github.com/pixelhall/paintboard/internal/issuer"
	"github.com/pixelhall/paintboard/internal/paintengine"
	"github.com/pixelhall/paintboard/internal/persist"
	"github.com/pixelhall/paintboard/internal/pixelstore"
	"github.com/pixelhall/paintboard/internal/ratelimit"
	"github.com/pixelhall/paintboard/internal/storage"
	"github.com/pixelhall/paintboard/internal/tick"
	"github.com/pixelhall/paintboard/internal/tokens"
	"github.com/pixelhall/paintboard/internal/wsproto"

	"github.com/pixelhall/paintboard/internal/httpapi"
)

const (
	dbPath          = "paintboard.db"
	pasteServiceURL = "https://www.oi-search.com/paintboard/gettoken"
)

func main() {
	configPath := flag.String("config", envOr("PAINTBOARD_CONFIG", "config.json"), "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("paintboardd: config: %v", err)
	}

	logger := log.New(os.Stdout, "paintboardd: ", log.LstdFlags)

	var store *storage.Store
	if cfg.UseDB {
		store, err = storage.Open(dbPath)
		if err != nil {
			log.Fatalf("paintboardd: open storage: %v", err)
		}
		defer store.Close()
	}

	registry := tokens.New(storagePersister{store})

	board := loadOrCreateBoard(store, cfg, logger)

	if store != nil {
		if _, err := persist.Bootstrap(store, cfg.UseDB, cfg.ClearBoard, registry, logger); err != nil {
			logger.Printf("bootstrap: %v", err)
		}
	}

	cooldown := ratelimit.NewCooldownTable()
	uidBans := ratelimit.NewUidBanSet()
	banTable := ratelimit.NewBanTable()
	connCounter := ratelimit.NewConnCounter()

	paint := &paintengine.Engine{
		Board:      board,
		Tokens:     registry,
		Cooldown:   cooldown,
		UidBans:    uidBans,
		PaintDelay: cfg.PaintDelay,
	}

	admit := wsproto.NewRatelimitAdmission(banTable, connCounter, cfg.MaxPacketPerSecond)
	proto := wsproto.NewEngine(admit, paint, wsproto.Config{
		MaxWebSocketPerIP:   cfg.MaxWebSocketPerIP,
		MaxPacketPerSecond:  cfg.MaxPacketPerSecond,
		BanDuration:         cfg.BanDuration,
		EnableTokenCounting: cfg.EnableTokenCounting,
	}, logger, nil)

	scheduler := tick.New(board, proto, cfg.TicksPerSecond, logger)

	pasteClient := issuer.NewHTTPPasteClient(pasteServiceURL)
	tokenIssuer := issuer.New(registry, pasteClient, cfg.ValidationPaste, cfg.MaxAllowedUID)

	httpServer := httpapi.New(board, tokenIssuer, banTable, uidBans, cfg.BanToken, proto.HandleUpgrade, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)

	if store != nil {
		adapter := persist.New(store, board, logger)
		go adapter.Run(ctx)
	}

	srv := &http.Server{
		Addr:        portAddr(cfg.Port),
		Handler:     httpServer.Handler(),
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", srv.Addr)
	var serveErr error
	if cfg.KeyPath != "" && cfg.CertPath != "" {
		serveErr = srv.ListenAndServeTLS(cfg.CertPath, cfg.KeyPath)
	} else {
		serveErr = srv.ListenAndServe()
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		logger.Fatalf("serve: %v", serveErr)
	}
}

func loadOrCreateBoard(store *storage.Store, cfg config.Config, logger *log.Logger) *pixelstore.Store {
	if store == nil || cfg.ClearBoard {
		return pixelstore.New(cfg.Width, cfg.Height)
	}
	w, h, pixels, ok, err := store.LoadBoard()
	if err != nil {
		logger.Printf("load board: %v", err)
		return pixelstore.New(cfg.Width, cfg.Height)
	}
	if !ok {
		return pixelstore.New(cfg.Width, cfg.Height)
	}
	board, err := pixelstore.Adopt(cfg.Width, cfg.Height, pixels, w, h)
	if err != nil {
		logger.Fatalf("adopt persisted board: %v", err)
	}
	return board
}

// storagePersister adapts *storage.Store to tokens.Persister, tolerating a
// nil store (useDB disabled) by becoming a no-op.
type storagePersister struct {
	store *storage.Store
}

func (p storagePersister) DeleteTokensByUID(uid int64) error {
	if p.store == nil {
		return nil
	}
	return p.store.DeleteTokensByUID(uid)
}

func (p storagePersister) SaveToken(token string, uid int64) error {
	if p.store == nil {
		return nil
	}
	return p.store.SaveToken(token, uid)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
