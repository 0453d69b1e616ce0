package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"whonext/ai"
	"whonext/audio"
	"whonext/internal/api"
	"whonext/internal/config"
	"whonext/internal/service"
	"whonext/session"
	"whonext/voiceprint"
)

func main() {
	log.Println("whonext backend starting...")

	cfg := config.Load()
	log.Printf("Model: %s", cfg.ModelPath)
	log.Printf("Data directory: %s", cfg.MeetingsDir())

	log.Println("Initializing audio capture...")
	capture, err := audio.NewCapture()
	if err != nil {
		log.Fatalf("Failed to init audio: %v", err)
	}
	defer capture.Close()

	if cfg.MicDevice != "" {
		if err := capture.SetMicrophoneDevice(cfg.MicDevice); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	capture.EnableSystemCapture(cfg.CaptureSystem)
	if cfg.CaptureSystem && cfg.SystemDevice != "" {
		if err := capture.SetSystemDevice(cfg.SystemDevice); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	log.Println("Initializing meeting manager...")
	meetings, err := session.NewManager(cfg.MeetingsDir(), cfg.MinMeetingDuration)
	if err != nil {
		log.Fatalf("Failed to init meeting manager: %v", err)
	}
	if err := meetings.LoadMeetings(); err != nil {
		log.Printf("Warning: failed to load meeting history: %v", err)
	}

	log.Println("Loading transcription engine...")
	engine := ai.NewWhisperEngine(cfg.ModelPath)
	if cfg.Language != "" {
		engine.SetLanguage(cfg.Language)
	}
	if err := engine.Initialize(); err != nil {
		log.Printf("Warning: transcription engine not ready: %v", err)
	}
	defer engine.Close()

	var diarizer ai.DiarizationEngine
	if cfg.SegmentationModelPath != "" && cfg.EmbeddingModelPath != "" {
		d := ai.NewSherpaDiarizer(ai.SherpaDiarizerConfig{
			SegmentationModelPath: cfg.SegmentationModelPath,
			EmbeddingModelPath:    cfg.EmbeddingModelPath,
		}, session.ReadMono16k)
		if err := d.Initialize(); err != nil {
			log.Printf("Warning: diarization disabled: %v", err)
		} else {
			diarizer = d
			defer d.Close()
		}
	} else {
		log.Println("Diarization models not configured, speaker labels disabled")
	}

	var vad *ai.SileroVAD
	if cfg.VADModelPath != "" {
		vadCfg := ai.DefaultSileroVADConfig()
		vadCfg.ModelPath = cfg.VADModelPath
		v, err := ai.NewSileroVAD(vadCfg)
		if err != nil {
			log.Printf("Warning: VAD disabled: %v", err)
		} else {
			vad = v
			defer v.Close()
		}
	}

	// База голосовых отпечатков переиспользует embedding модель диаризации
	var voices *voiceprint.Store
	var identifier *service.SpeakerIdentifier
	if cfg.EmbeddingModelPath != "" {
		store, err := voiceprint.NewStore(cfg.DataDir)
		if err != nil {
			log.Printf("Warning: speaker recognition disabled: %v", err)
		} else {
			encoder, err := ai.NewSpeakerEncoder(ai.DefaultSpeakerEncoderConfig(cfg.EmbeddingModelPath))
			if err != nil {
				log.Printf("Warning: speaker recognition disabled: %v", err)
			} else {
				defer encoder.Close()
				voices = store
				identifier = service.NewSpeakerIdentifier(encoder, store, session.ReadMono16k)
			}
		}
	}

	triggers := service.NewTriggerEvaluator(service.TriggerConfig{
		TwoWayAudioEnabled: true,
		CalendarEnabled:    cfg.CalendarIntegration,
		TwoWayAudioFloor:   cfg.TriggerConfidence,
	})

	recorder := service.NewRecorder(cfg, capture, engine, diarizer, vad, meetings, triggers)
	recorder.Speakers = identifier

	if cfg.AutoRecord {
		if err := recorder.StartMonitoring(); err != nil {
			log.Printf("Warning: failed to start monitoring: %v", err)
		}
	}

	// Останавливаем запись корректно при завершении процесса
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("Shutting down...")
		if state, _ := recorder.State(); state == service.StateRecording {
			recorder.StopRecording()
		}
		recorder.StopMonitoring()
		os.Exit(0)
	}()

	server := api.NewServer(cfg, meetings, recorder, capture)
	server.Speakers = voices
	server.Start()
}
