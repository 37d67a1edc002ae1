// tts-submit submits a single synthesis job, waits for its terminal state,
// and saves the produced audio locally. Intended for scripting and manual
// testing against a synthesis deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ttsengine/internal/client"
	"ttsengine/internal/config"
	"ttsengine/internal/fetcher"
	"ttsengine/internal/poller"
	"ttsengine/internal/reconciler"
	"ttsengine/internal/remote"
	"ttsengine/internal/state"
	"ttsengine/internal/store"
)

func main() {
	var (
		text       = flag.String("text", "", "text to synthesize")
		voiceID    = flag.String("voice", "", "voice ID")
		modelID    = flag.String("model", "", "model ID")
		speed      = flag.Float64("speed", 1.0, "speech speed")
		pitch      = flag.Float64("pitch", 1.0, "speech pitch")
		outDir     = flag.String("out", ".", "directory to save the audio file")
		timeout    = flag.Duration("timeout", 5*time.Minute, "how long to wait for the job to finish")
		listVoices = flag.Bool("voices", false, "list available voices and exit")
		listModels = flag.Bool("models", false, "list available models and exit")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Local overrides for development; absence is fine.
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	if err := run(*text, *voiceID, *modelID, *speed, *pitch, *outDir, *timeout, *listVoices, *listModels); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(text, voiceID, modelID string, speed, pitch float64, outDir string, timeout time.Duration, listVoices, listModels bool) error {
	ctx := context.Background()
	cfg := config.LoadEngineConfig()

	api := remote.New(cfg.APIBaseURL, cfg.APIKey)

	if listVoices {
		voices, err := api.Voices(ctx)
		if err != nil {
			return err
		}
		for _, v := range voices {
			fmt.Printf("%s\t%s\t%s\n", v.VoiceID, v.Name, v.Language)
		}
		return nil
	}
	if listModels {
		models, err := api.Models(ctx)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Printf("%s\t%s\n", m.ModelID, m.Name)
		}
		return nil
	}

	if text == "" {
		return fmt.Errorf("no text given (use -text)")
	}

	// The CLI runs the tracking pipeline in-process on the poll channel
	// alone; there is no webhook receiver to point the service at.
	rec := reconciler.New(store.NewMemory(), reconciler.Config{}, nil)
	p := poller.New(api, rec, poller.Config{
		MaxAttempts:    cfg.PollMaxAttempts,
		Interval:       cfg.PollInterval,
		AttemptTimeout: cfg.PollAttemptTimeout,
	}, nil)
	dl := fetcher.New(fetcher.Config{
		Dir:         outDir,
		MaxAttempts: cfg.FetchMaxAttempts,
	}, nil)

	results := make(chan fetcher.Result, 1)
	dl.OnResult(func(res fetcher.Result) {
		select {
		case results <- res:
		default:
		}
	})
	rec.OnTerminal(dl.HandleTerminal)
	rec.OnTerminal(func(r *state.Record) { p.Stop(r.JobID) })

	c := client.New(api, rec, p, nil)
	p.OnExhausted(c.HandlePollExhausted)

	defer func() {
		p.Close()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec.Close(closeCtx)
		dl.Close()
	}()

	jobID, err := c.Submit(ctx, &remote.SubmitRequest{
		Text:    text,
		VoiceID: voiceID,
		ModelID: modelID,
		Speed:   speed,
		Pitch:   pitch,
	})
	if err != nil {
		return err
	}
	fmt.Println("job:", jobID)

	record, err := c.WaitForTerminal(ctx, jobID, timeout)
	if err != nil {
		return err
	}

	switch record.CurrentState {
	case state.StateCompleted:
		select {
		case res := <-results:
			if res.Err != nil {
				return res.Err
			}
			fmt.Println("saved:", res.Path)
		case <-time.After(timeout):
			return fmt.Errorf("job %s completed but the artifact download did not finish", jobID)
		}
		return nil
	case state.StateFailed:
		return fmt.Errorf("job %s failed: %s", jobID, record.Error)
	case state.StateCancelled:
		return fmt.Errorf("job %s was cancelled", jobID)
	default:
		return fmt.Errorf("job %s ended in unexpected state %s", jobID, record.CurrentState)
	}
}
