// Проверка аудио-устройств: список устройств и уровни сигнала
// Запуск: go run ./cmd/testmic [-system] [-duration 10s]
// Остановка: Ctrl+C

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whonext/audio"
)

func main() {
	system := flag.Bool("system", false, "захватывать также системный звук")
	duration := flag.Duration("duration", 10*time.Second, "длительность проверки")
	flag.Parse()

	capture, err := audio.NewCapture()
	if err != nil {
		log.Fatalf("Ошибка инициализации аудио: %v", err)
	}
	defer capture.Close()

	devices, err := capture.ListDevices()
	if err != nil {
		log.Fatalf("Ошибка перечисления устройств: %v", err)
	}
	log.Println("=== Устройства захвата ===")
	for _, d := range devices {
		kind := ""
		if d.IsInput {
			kind = " [вход]"
		} else if d.IsOutput {
			kind = " [выход]"
		}
		log.Printf("  %s%s", d.Name, kind)
	}

	capture.EnableSystemCapture(*system)
	if err := capture.Start(); err != nil {
		log.Fatalf("Ошибка запуска захвата: %v", err)
	}
	defer capture.Stop()

	log.Printf("Захват запущен на %v, говорите в микрофон...", *duration)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	deadline := time.After(*duration)
	report := time.NewTicker(time.Second)
	defer report.Stop()

	var micPeak, sysPeak float64
	var micRMS, sysRMS float64

	for {
		select {
		case data := <-capture.Data():
			rms := audio.CalculateRMS(data.Samples)
			peak := audio.CalculatePeak(data.Samples)
			switch data.Channel {
			case audio.ChannelMicrophone:
				micRMS = rms
				if peak > micPeak {
					micPeak = peak
				}
			case audio.ChannelSystem:
				sysRMS = rms
				if peak > sysPeak {
					sysPeak = peak
				}
			}

		case <-report.C:
			if *system {
				log.Printf("mic: rms=%.4f peak=%.4f | sys: rms=%.4f peak=%.4f", micRMS, micPeak, sysRMS, sysPeak)
			} else {
				log.Printf("mic: rms=%.4f peak=%.4f", micRMS, micPeak)
			}

		case <-deadline:
			summarize(micPeak, sysPeak, *system)
			return
		case <-sigs:
			summarize(micPeak, sysPeak, *system)
			return
		}
	}
}

func summarize(micPeak, sysPeak float64, system bool) {
	log.Println("=== Итог ===")
	if micPeak < 0.01 {
		log.Printf("Микрофон: сигнала нет (peak=%.4f), проверьте устройство", micPeak)
	} else {
		log.Printf("Микрофон: OK (peak=%.4f)", micPeak)
	}
	if system {
		if sysPeak < 0.01 {
			log.Printf("Системный звук: сигнала нет (peak=%.4f)", sysPeak)
		} else {
			log.Printf("Системный звук: OK (peak=%.4f)", sysPeak)
		}
	}
}
