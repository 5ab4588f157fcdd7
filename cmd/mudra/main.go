package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/emitter"
	"github.com/ayusman/mudra/internal/enhance"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tray"
	"github.com/ayusman/mudra/internal/tts"
)

// The system tray must own the main thread on macOS.
func init() { runtime.LockOSThread() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	log := observability.WithComponent("main")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("mudra exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Info().Str("db", st.Path()).Msg("store opened")

	deps, closeDeps, err := buildDeps(cfg, tuning, log)
	if err != nil {
		return err
	}
	defer closeDeps()

	synth := buildSynthesizer(cfg, log)

	a := app.New(app.Config{
		Store:         st,
		Deps:          deps,
		Tuning:        tuning.Tuning,
		Synthesizer:   synth,
		SpeechQueue:   cfg.SpeechQueue,
		SpeechTimeout: cfg.TTSTimeout,
		Usage:         perf.ProcUsage{},
	})
	defer a.Close()

	if ecfg, ok := cfg.Emitter(); ok {
		em := emitter.NewMQTTEmitter(ecfg)
		if err := em.Connect(); err != nil {
			log.Warn().Err(err).Str("broker", ecfg.Broker).Msg("sentence publishing disabled")
		} else {
			defer em.Disconnect()
			a.OnSentence(em.OnSentence)
		}
	}

	if err := a.LoadTemplates(); err != nil {
		log.Warn().Err(err).Msg("control templates not loaded")
	}

	var feed *app.CameraFeed
	if cfg.CameraEnabled {
		feed = app.NewCameraFeed(a, capture.NewCamera(cfg.CameraIndex), app.DefaultMotionThreshold)
		defer feed.Close()
		if _, err := feed.Start(app.SessionOptions{}); err != nil {
			log.Warn().Err(err).Int("camera", cfg.CameraIndex).Msg("local camera session not started")
		}
	}

	webDir := cfg.FindWebDir()
	if webDir != "" {
		log.Info().Str("dir", webDir).Msg("serving static files")
	}
	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		App:       a,
		Camera:    feed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		return serve(ctx, srv, cfg.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, srv, cfg.Addr())
	}()

	t := tray.New(trayCallbacks(a, feed, cfg, stop, log))
	a.OnSentence(func(_, text string) { t.SetLastSentence(text) })
	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()

	stop()
	return <-errCh
}

func serve(ctx context.Context, srv *server.Server, addr string) error {
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// buildDeps loads the recognition and enhancement backends. Missing
// backends degrade the service unless recognition is required.
func buildDeps(cfg *config.Config, tuning config.Tuning, log zerolog.Logger) (pipeline.Deps, func(), error) {
	var deps pipeline.Deps
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	detCfg := cfg.Detector(tuning.Detector)
	mp, err := detector.NewMediaPipeDetector(detCfg)
	switch {
	case err == nil:
		deps.Detector = detector.NewAdapter(mp, detCfg.MinConfidence)
		deps.Segmenter = mp
		closers = append(closers, deps.Detector.Close)
	case cfg.RequireRecognition:
		return deps, func() {}, fmt.Errorf("hand detector: %w", err)
	default:
		log.Warn().Err(err).Msg("hand detection unavailable, running enhancement only")
	}

	engine, err := classifier.NewEngine(cfg.Engine(tuning.Engine))
	switch {
	case err == nil:
		deps.Classifier = engine
		closers = append(closers, engine.Close)
	case cfg.RequireRecognition:
		closeAll()
		return deps, func() {}, fmt.Errorf("letter model: %w", err)
	default:
		log.Warn().Err(err).Msg("letter classification unavailable")
		deps.Classifier = classifier.Unavailable{}
	}

	if cfg.FaceCascade != "" {
		face, err := enhance.NewHaarFaceDetector(cfg.FaceCascade)
		if err != nil {
			log.Warn().Err(err).Msg("face focus unavailable")
		} else {
			deps.FaceDetector = face
			closers = append(closers, face.Close)
		}
	}

	return deps, closeAll, nil
}

// buildSynthesizer prefers the HTTP speech service and falls back to a
// speech plugin. Speech is off when neither is available.
func buildSynthesizer(cfg *config.Config, log zerolog.Logger) tts.Synthesizer {
	if cfg.TTSURL != "" {
		return tts.NewHTTPSynthesizer(cfg.TTSURL, cfg.TTSVoice, &http.Client{Timeout: cfg.TTSTimeout})
	}

	manager := plugin.NewManager(cfg.PluginDir)
	if err := manager.Discover(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.PluginDir).Msg("plugin discovery failed")
		return nil
	}
	p, err := manager.Find(plugin.CapabilitySpeak)
	if err != nil {
		log.Info().Msg("no speech plugin installed, speech disabled")
		return nil
	}
	synth, err := tts.NewPluginSynthesizer(plugin.NewExecutor(cfg.TTSTimeout), p, cfg.TTSVoice)
	if err != nil {
		log.Warn().Err(err).Msg("speech plugin rejected")
		return nil
	}
	log.Info().Str("plugin", p.Manifest.Name).Msg("speech enabled")
	return synth
}

func trayCallbacks(a *app.App, feed *app.CameraFeed, cfg *config.Config, stop func(), log zerolog.Logger) tray.Callbacks {
	callbacks := tray.Callbacks{
		OnOpen: func() {
			if err := openBrowser("http://localhost" + cfg.Addr()); err != nil {
				log.Warn().Err(err).Msg("failed to open browser")
			}
		},
		OnQuit: stop,
	}
	if feed == nil {
		return callbacks
	}

	callbacks.OnToggle = feed.SetEnabled
	callbacks.OnClear = func() {
		if sess, err := a.Session(feed.SessionID()); err == nil {
			sess.ResetText()
		}
	}
	return callbacks
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
