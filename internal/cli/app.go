package cli

import (
	"context"
	"fmt"

	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/db"
	"ai-things/audio-go/internal/media"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/queue"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/storage"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
)

// app holds the long-lived dependencies of a command.
type app struct {
	cfg     config.Config
	store   *db.Store
	queue   *queue.Client
	svc     *pipeline.Service
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := db.NewStore(ctx, cfg.DBConnString(), cfg.WellSaidUsageCeiling)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	utils.Logf("audio: db connected")

	if cfg.RabbitMQEnabled {
		q, err := queue.New(cfg.RabbitMQURL())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("queue error: %w", err)
		}
		a.queue = q
		a.closers = append(a.closers, q.Close)
		utils.Logf("audio: queue connected")
	}

	synths := a.synthesizers(ctx)

	a.svc = &pipeline.Service{
		Keys:        store,
		KeyAdmin:    store,
		Synths:      tts.NewRegistry(synths...),
		Media:       media.NewTool(media.ExecRunner{Timeout: cfg.FFmpegTimeout}, cfg.FFmpegBin, cfg.FFprobeBin, cfg.Pipeline.ConcatRetries),
		Scratch:     scratch.NewManager(cfg.ScratchRoot),
		EventsQueue: cfg.RabbitMQEventsQueue,
		Hostname:    cfg.Hostname,
		Settings:    pipeline.SettingsFromConfig(cfg),
	}
	if a.queue != nil {
		a.svc.Events = a.queue
	}
	if cfg.StorageEndpoint != "" {
		ms, err := storage.NewMinioStore(storage.Config{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
			BaseURL:   cfg.StoragePublicURL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("storage error: %w", err)
		}
		a.svc.Storage = ms
	} else {
		utils.Warn("object storage not configured; uploads will fail")
	}

	utils.Info("audio providers ready", "providers", a.svc.Synths.Names())
	return a, nil
}

// synthesizers builds every provider that has credentials. WellSaid keys come from the pool,
// so it is always present.
func (a *app) synthesizers(ctx context.Context) []tts.Synthesizer {
	cfg := a.cfg
	client := tts.NewHTTPClient(cfg.Pipeline.RequestTimeout)

	out := []tts.Synthesizer{&tts.WellSaid{
		URL:          cfg.WellSaidURL,
		DefaultVoice: cfg.WellSaidSpeakerID,
		DefaultModel: cfg.WellSaidModel,
		HTTPClient:   client,
	}}
	if cfg.MiniMaxAPIKey != "" {
		out = append(out, &tts.MiniMax{
			URL:          cfg.MiniMaxURL,
			GroupID:      cfg.MiniMaxGroupID,
			APIKey:       cfg.MiniMaxAPIKey,
			DefaultModel: cfg.MiniMaxModel,
			HTTPClient:   client,
		})
	}
	if cfg.ElevenLabsAPIKey != "" {
		out = append(out, &tts.ElevenLabs{
			URL:          cfg.ElevenLabsURL,
			APIKey:       cfg.ElevenLabsAPIKey,
			DefaultModel: cfg.ElevenLabsModel,
			OutputFormat: cfg.ElevenLabsOutputFormat,
			HTTPClient:   client,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		out = append(out, tts.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, client))
	}
	if cfg.FishAudioAPIKey != "" {
		out = append(out, &tts.FishAudio{
			URL:          cfg.FishAudioURL,
			APIKey:       cfg.FishAudioAPIKey,
			DefaultModel: cfg.FishAudioModel,
			HTTPClient:   client,
		})
	}
	if cfg.GoogleEnabled {
		g, err := tts.NewGoogle(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			utils.Warn("google tts disabled", "err", err)
		} else {
			out = append(out, g)
			a.closers = append(a.closers, func() { _ = g.Close() })
		}
	}
	return out
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
