package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/briefing/backend/internal/config"
	"github.com/zhouzirui/briefing/backend/internal/handler"
	"github.com/zhouzirui/briefing/backend/internal/handler/watch"
	"github.com/zhouzirui/briefing/backend/internal/handler/webhook"
	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/internal/model/template"
	"github.com/zhouzirui/briefing/backend/internal/service/briefing"
	"github.com/zhouzirui/briefing/backend/internal/service/dedup"
	"github.com/zhouzirui/briefing/backend/internal/service/extraction"
	"github.com/zhouzirui/briefing/backend/internal/service/messaging"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
	"github.com/zhouzirui/briefing/backend/internal/storage"
	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	stores, closeStores, err := openStores(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer closeStores()

	templates, err := loadTemplates(cfg.Templates)
	if err != nil {
		log.Fatalf("failed to load templates: %v", err)
	}

	extractor := buildExtractor(ctx, cfg)

	sendPolicy := retry.DefaultPolicy()
	sendPolicy.MaxAttempts = cfg.Briefing.SendAttempts
	sender := messaging.NewIdempotentSender(buildTransport(cfg.WhatsApp), stores.outbox, sendPolicy)

	hub := watch.NewHub()
	orch, err := briefing.NewOrchestrator(briefing.Deps{
		Store:     stores.sessions,
		Templates: templates,
		Clients:   stores.clients,
		Extractor: extractor,
		Sender:    sender,
		Notifier:  hub,
	}, briefing.Config{
		MaxRetries:       cfg.Briefing.MaxRetries,
		MaxCASAttempts:   cfg.Briefing.MaxCASAttempts,
		InactivityWindow: cfg.Briefing.InactivityWindow,
		SweepInterval:    cfg.Briefing.SweepInterval,
	})
	if err != nil {
		log.Fatalf("failed to initialize orchestrator: %v", err)
	}

	gate := dedup.NewGate(dedup.Config{Window: cfg.Briefing.DedupWindow})

	// 后台任务随 ctx 结束。
	go briefing.NewSweeper(orch).Run(ctx)
	go gate.Run(ctx, time.Minute)
	go messaging.NewRedeliverer(sender, stores.outbox, 50, 10).Run(ctx, cfg.Briefing.RedeliverInterval)

	router := handler.NewRouter(handler.Deps{
		Orchestrator: orch,
		Templates:    templates,
		Clients:      stores.clients,
		Gate:         gate,
		Hub:          hub,
		Webhook: webhook.Config{
			VerifyToken: cfg.WhatsApp.VerifyToken,
			AppSecret:   cfg.WhatsApp.AppSecret,
		},
	})

	startServer(ctx, cfg.Server, router)
}

type storeSet struct {
	sessions session.Store
	clients  client.Directory
	outbox   messaging.Outbox
}

// openStores 配置了 DB_PATH 时使用 SQLite，否则使用进程内存储。
func openStores(cfg config.StorageConfig) (storeSet, func(), error) {
	if cfg.DBPath == "" {
		log.Println("DB_PATH 未配置，使用内存存储（重启后数据丢失）")
		return storeSet{
			sessions: session.NewMemoryStore(),
			clients:  client.NewMemoryDirectory(),
			outbox:   messaging.NewMemoryOutbox(),
		}, func() {}, nil
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return storeSet{}, nil, err
	}
	log.Printf("SQLite storage opened at %s", cfg.DBPath)
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Printf("warning: failed to close storage: %v", err)
		}
	}
	return storeSet{
		sessions: db.Sessions(),
		clients:  db.Clients(),
		outbox:   db.Outbox(),
	}, closeDB, nil
}

// loadTemplates 发布内置模板和 TEMPLATES_DIR 下的 YAML 模板。
func loadTemplates(cfg config.TemplatesConfig) (template.Provider, error) {
	store, err := template.NewMemoryStore(template.Seed())
	if err != nil {
		return nil, err
	}

	if cfg.Dir != "" {
		versions, err := template.LoadDir(cfg.Dir)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			if err := store.Publish(v); err != nil {
				return nil, err
			}
		}
		log.Printf("loaded %d template version(s) from %s", len(versions), cfg.Dir)
	}

	return template.NewCachedProvider(store), nil
}

// buildExtractor 优先使用 Ark，其次 OpenAI，最后退回规则抽取。
func buildExtractor(ctx context.Context, cfg *config.Config) extraction.Extractor {
	llmCfg := extraction.LLMConfig{
		MinConfidence:   cfg.AI.MinConfidence,
		FallbackOnError: cfg.Briefing.RulesFallback,
	}

	var candidates []extractorCandidate
	if cfg.AI.Enabled() {
		candidates = append(candidates, extractorCandidate{
			name:  "Ark",
			model: cfg.AI.Model,
			build: func() (extraction.Extractor, error) {
				chatModel, err := cfg.AI.NewChatModel(ctx)
				if err != nil {
					return nil, err
				}
				llm, err := extraction.NewLLMExtractor(ctx, chatModel, llmCfg)
				if err != nil {
					return nil, err
				}
				return llm, nil
			},
		})
	}
	if cfg.OpenAI.Enabled() {
		candidates = append(candidates, extractorCandidate{
			name:  "OpenAI",
			model: cfg.OpenAI.Model,
			build: func() (extraction.Extractor, error) {
				openai, err := extraction.NewOpenAIExtractor(extraction.OpenAIConfig{
					BaseURL:        cfg.OpenAI.BaseURL,
					APIKey:         cfg.OpenAI.APIKey,
					Model:          cfg.OpenAI.Model,
					RequestTimeout: cfg.Briefing.ExtractionTimeout,
					LLM:            llmCfg,
				})
				if err != nil {
					return nil, err
				}
				return openai, nil
			},
		})
	}

	base := firstExtractor(candidates)

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Briefing.ExtractionAttempts
	return extraction.NewTimeoutExtractor(base, policy, cfg.Briefing.ExtractionTimeout)
}

type extractorCandidate struct {
	name  string
	model string
	build func() (extraction.Extractor, error)
}

// firstExtractor 按顺序尝试初始化，失败的候选跳过；全部失败时使用规则抽取。
func firstExtractor(candidates []extractorCandidate) extraction.Extractor {
	for _, c := range candidates {
		e, err := c.build()
		if err != nil {
			log.Printf("warning: failed to initialize %s extractor: %v", c.name, err)
			continue
		}
		log.Printf("%s extraction enabled, model=%s", c.name, c.model)
		return e
	}
	log.Println("LLM 未配置或初始化失败，使用规则抽取")
	return extraction.NewRuleExtractor()
}

// buildTransport 未配置 WhatsApp 凭证时只打印日志。
func buildTransport(cfg config.WhatsAppConfig) messaging.Transport {
	if !cfg.Enabled() {
		log.Println("WhatsApp 凭证未配置，消息仅写入日志")
		return messaging.LogTransport{}
	}
	return &messaging.WhatsAppClient{
		Token:         cfg.Token,
		PhoneNumberID: cfg.PhoneNumberID,
		BaseURL:       cfg.BaseURL,
		APIVersion:    cfg.APIVersion,
		HTTP:          &http.Client{Timeout: cfg.Timeout},
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Briefing backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
