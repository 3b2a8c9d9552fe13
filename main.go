package main

import (
	"context"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/mrsingh-rishi/voice-query/assistant"
	"github.com/mrsingh-rishi/voice-query/call"
	"github.com/mrsingh-rishi/voice-query/config"
	"github.com/mrsingh-rishi/voice-query/llm"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/stt"
	"github.com/mrsingh-rishi/voice-query/tts"
)

type services struct {
	transcriber assistant.Transcriber
	answerer    assistant.Answerer
	synthesizer assistant.Synthesizer
}

func newServices(cfg config.Config) services {
	if cfg.Provider == config.ProviderOpenAI {
		return services{
			transcriber: stt.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Lang),
			answerer:    llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAISystemPrompt, cfg.OpenAIChatModel),
			synthesizer: tts.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAITTSVoice),
		}
	}
	return services{
		transcriber: stt.NewClient(cfg.BackendURL, cfg.HTTPTimeout),
		answerer:    llm.NewRAGClient(cfg.BackendURL, cfg.HTTPTimeout),
		synthesizer: tts.NewClient(cfg.BackendURL, cfg.HTTPTimeout),
	}
}

func newApp(cfg config.Config, svc services, resources *call.Resources, log logging.Logger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "provider": cfg.Provider})
	})

	// GET /audio/:id serves the synthesized answer while its interaction is live
	app.Get("/audio/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid audio id"})
		}
		res := resources.Get(id)
		if res == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "audio not found"})
		}
		data, err := res.Bytes()
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "audio not found"})
		}
		c.Set(fiber.HeaderContentType, res.ContentType)
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.Send(data)
	})

	// Middleware to require WebSocket upgrade on /ws
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(ws *websocket.Conn) {
		session, err := call.NewCall(ws, call.Options{
			Transcriber:      svc.transcriber,
			Answerer:         svc.answerer,
			Synthesizer:      svc.synthesizer,
			Resources:        resources,
			Lang:             cfg.Lang,
			ContentType:      cfg.CaptureContentType,
			MaxCapture:       cfg.CaptureMaxDuration,
			StageTimeout:     cfg.HTTPTimeout,
			ProgressInterval: cfg.ProgressInterval,
			AudioURL:         func(id uuid.UUID) string { return "/audio/" + id.String() },
			Logger:           log,
		})
		if err != nil {
			log.Errorf("create call: %v", err)
			_ = ws.Close()
			return
		}
		log.Infof("websocket /ws connected, call %s", session.ID)
		session.Start()
		log.Infof("call %s ended", session.ID)
	}))

	return app
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger(context.Background()).Errorf("config: %v", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)
	log := logging.NewLogger(context.Background())

	app := newApp(cfg, newServices(cfg), call.NewResources(), log)

	log.Infof("Fiber server listening on %s", cfg.HTTPAddress)
	if err := app.Listen(cfg.HTTPAddress); err != nil {
		log.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
}
