package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/historia/internal/agent"
	"github.com/chadiek/historia/internal/audio"
	"github.com/chadiek/historia/internal/config"
	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/gateway"
	httpserver "github.com/chadiek/historia/internal/httpserver"
	"github.com/chadiek/historia/internal/infra/storage"
	"github.com/chadiek/historia/internal/loop"
	"github.com/chadiek/historia/internal/transcript"
	"github.com/chadiek/historia/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	l := loop.New()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go l.Run(loopCtx)

	persister, closeHistory := openHistory(cfg)
	store := conversation.NewStore(context.Background(), persister)

	client := gateway.NewClient(cfg.BackendURL, cfg.RequestTimeout)

	var orch *agent.Orchestrator
	mon := gateway.NewMonitor(client, l, cfg.HealthInterval, func(c gateway.Connectivity) {
		orch.ConnectivityChanged(c)
	})
	online := func() bool { return mon.State() == gateway.Connected }

	var mic audio.Microphone
	if m, err := audio.DetectMicrophone(); err != nil {
		log.Printf("recorder: %v", err)
	} else {
		mic = m
	}
	source := transcript.Detect(transcript.DetectConfig{
		AssemblyAIKey: cfg.AssemblyAIKey,
		Locale:        cfg.RecognitionLocale,
		Mic:           mic,
		Uploader:      client,
		Online:        online,
		Seed:          cfg.RandomSeed,
	})
	log.Printf("recorder: using %s", source.Strategy())

	orch = agent.New(l, store, agent.Deps{
		Chat:         client,
		Connectivity: mon,
		Source:       source,
		Speech:       newSpeaker(cfg, client, online),
	}, agent.Options{
		SpeechEnabled:    cfg.SpeechEnabled,
		AutoSend:         cfg.AutoSend,
		AutosaveInterval: cfg.AutosaveInterval,
		Seed:             cfg.RandomSeed,
	})
	orch.Start()
	mon.Start(loopCtx)

	srv := httpserver.New(cfg.HTTPAddress, orch)
	serverErrors := srv.Start()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err, ok := <-serverErrors:
		if ok && err != nil {
			log.Printf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Close()
	srv.Shutdown(ctx)
	mon.Stop()
	closeHistory()
	stopLoop()
	<-l.Done()
}

// openHistory picks the durable history store. Failures fall back to memory so the
// session still works, just without persistence.
func openHistory(cfg config.Config) (conversation.Persister, func()) {
	switch cfg.HistoryBackend {
	case "supabase":
		h, err := storage.NewSupabaseHistory(storage.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
			Key:            cfg.HistoryKey,
		})
		if err == nil {
			return h, func() {}
		}
		log.Printf("history: %v - keeping history in memory", err)
	case "badger":
		h, err := storage.OpenBadgerHistory(cfg.HistoryDir, cfg.HistoryKey)
		if err == nil {
			return h, func() {
				if err := h.Close(); err != nil {
					log.Printf("history: close: %v", err)
				}
			}
		}
		log.Printf("history: %v - keeping history in memory", err)
	}
	return storage.NewMemoryHistory(), func() {}
}

// newSpeaker prefers a local voice engine and falls back to remote rendering
// through the configured provider.
func newSpeaker(cfg config.Config, client *gateway.Client, online func() bool) *tts.Speaker {
	var voice tts.Voice
	if v, err := tts.DetectVoice(context.Background(), cfg.VoicePreferences); err != nil {
		log.Printf("speech: %v", err)
	} else {
		voice = v
	}

	var renderer tts.Renderer = client
	if cfg.SynthesisProvider == "deepgram" {
		renderer = tts.NewDeepgramRenderer(cfg.DeepgramKey, cfg.DeepgramModel)
	}

	var player audio.Player
	if p, err := audio.DetectPlayer(); err != nil {
		log.Printf("speech: %v", err)
	} else {
		player = p
	}

	s := tts.NewSpeaker(voice, renderer, player, online)
	log.Printf("speech: output mode %s", s.Mode())
	return s
}
