// Package audio отвечает за захват звука и подготовку PCM для пайплайна
package audio

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// DeviceID - алиас для malgo.DeviceID
type DeviceID = malgo.DeviceID

// Device представляет аудио устройство
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsInput  bool   `json:"isInput"`
	IsOutput bool   `json:"isOutput"`
}

// Channel представляет источник аудио (микрофон или системный звук)
type Channel int

const (
	ChannelMicrophone Channel = iota
	ChannelSystem
)

// ChannelData содержит аудио данные с указанием канала
// Семплы уже приведены к 16kHz mono float32
type ChannelData struct {
	Channel Channel
	Samples []float32
}

// PipelineSampleRate частота, с которой работают все движки (whisper, sherpa, silero)
const PipelineSampleRate = 16000

// captureSampleRate частота захвата устройств (48kHz - native почти везде)
const captureSampleRate = 48000

// Capture управляет захватом аудио с микрофона и loopback-устройства
type Capture struct {
	ctx *malgo.AllocatedContext

	micDevice    *malgo.Device
	systemDevice *malgo.Device

	micDeviceID    *malgo.DeviceID
	systemDeviceID *malgo.DeviceID

	dataChan chan ChannelData
	mu       sync.Mutex
	running  bool

	captureSystem bool // Захватывать ли системный звук (loopback)
}

func NewCapture() (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	return &Capture{
		ctx:      ctx,
		dataChan: make(chan ChannelData, 1000), // Большой буфер чтобы не терять данные
	}, nil
}

// ListDevices возвращает список доступных аудио устройств
func (c *Capture) ListDevices() ([]Device, error) {
	var devices []Device

	captureDevices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	for _, dev := range captureDevices {
		devices = append(devices, Device{
			ID:      deviceIDToString(dev.ID),
			Name:    dev.Name(),
			IsInput: true,
		})
	}

	playbackDevices, err := c.ctx.Devices(malgo.Playback)
	if err != nil {
		log.Printf("Warning: failed to enumerate playback devices: %v", err)
		return devices, nil
	}
	for _, dev := range playbackDevices {
		name := dev.Name()
		found := false
		for i := range devices {
			if devices[i].Name == name {
				devices[i].IsOutput = true
				found = true
				break
			}
		}
		if !found {
			devices = append(devices, Device{
				ID:       deviceIDToString(dev.ID),
				Name:     name,
				IsOutput: true,
			})
		}
	}

	return devices, nil
}

// FindDeviceByName ищет устройство по имени (частичное совпадение)
func (c *Capture) FindDeviceByName(name string) (*malgo.DeviceID, error) {
	devices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// SetMicrophoneDevice устанавливает устройство микрофона по имени
// Пустое имя или "default" - системный дефолт
func (c *Capture) SetMicrophoneDevice(name string) error {
	if name == "" || name == "default" {
		c.micDeviceID = nil
		return nil
	}

	id, err := c.FindDeviceByName(name)
	if err != nil {
		return err
	}
	c.micDeviceID = id
	return nil
}

// SetSystemDevice устанавливает loopback-устройство (BlackHole и т.п.) по имени
func (c *Capture) SetSystemDevice(name string) error {
	if name == "" {
		c.systemDeviceID = nil
		c.captureSystem = false
		return nil
	}

	id, err := c.FindDeviceByName(name)
	if err != nil {
		return err
	}
	c.systemDeviceID = id
	c.captureSystem = true
	log.Printf("System audio device set: %s", name)
	return nil
}

// EnableSystemCapture включает/выключает захват системного звука
func (c *Capture) EnableSystemCapture(enable bool) {
	c.captureSystem = enable
}

// IsSystemCaptureEnabled возвращает true если захват системного звука включен
func (c *Capture) IsSystemCaptureEnabled() bool {
	return c.captureSystem
}

// Start начинает захват аудио
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("already running")
	}

	if err := c.startDevice(ChannelMicrophone, c.micDeviceID, 1); err != nil {
		return fmt.Errorf("failed to start microphone capture: %w", err)
	}

	if c.captureSystem && c.systemDeviceID != nil {
		// Loopback отдаёт стерео, даунмиксим в моно в колбэке
		if err := c.startDevice(ChannelSystem, c.systemDeviceID, 2); err != nil {
			log.Printf("Warning: failed to start system audio capture: %v", err)
		}
	}

	c.running = true
	return nil
}

// startDevice инициализирует и запускает одно capture-устройство.
// Колбэк устройства работает на realtime-потоке: только декодирование
// и неблокирующая отправка в канал, никакой тяжёлой работы.
func (c *Capture) startDevice(channel Channel, deviceID *malgo.DeviceID, channels uint32) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = captureSampleRate
	deviceConfig.Alsa.NoMMap = 1

	if deviceID != nil {
		deviceConfig.Capture.DeviceID = deviceID.Pointer()
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		frames := int(framecount)
		ch := int(channels)

		if len(pInputSamples) != frames*ch*4 {
			return
		}

		// Декодируем f32le и сразу даунмиксим в моно
		mono := make([]float32, frames)
		for i := 0; i < frames; i++ {
			var sum float32
			for j := 0; j < ch; j++ {
				idx := (i*ch + j) * 4
				bits := uint32(pInputSamples[idx]) | uint32(pInputSamples[idx+1])<<8 |
					uint32(pInputSamples[idx+2])<<16 | uint32(pInputSamples[idx+3])<<24
				sum += math.Float32frombits(bits)
			}
			mono[i] = sum / float32(ch)
		}

		// Ресемплинг 48kHz -> 16kHz до входа в пайплайн
		samples := Downsample48to16(mono)

		select {
		case c.dataChan <- ChannelData{Channel: channel, Samples: samples}:
		default:
			// Буфер переполнен - дальше по пайплайну всё стоит, лучше
			// потерять колбэк чем заблокировать аудио-поток
			log.Printf("Warning: capture buffer full, dropping %d samples", len(samples))
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return err
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}

	switch channel {
	case ChannelMicrophone:
		c.micDevice = device
		log.Println("Microphone capture started")
	case ChannelSystem:
		c.systemDevice = device
		log.Println("System audio capture started")
	}
	return nil
}

// Stop останавливает захват аудио
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}

	if c.micDevice != nil {
		c.micDevice.Uninit()
		c.micDevice = nil
	}

	if c.systemDevice != nil {
		c.systemDevice.Uninit()
		c.systemDevice = nil
	}

	c.running = false
	log.Println("Audio capture stopped")
	return nil
}

// Data возвращает канал с аудио данными
func (c *Capture) Data() <-chan ChannelData {
	return c.dataChan
}

// ClearBuffers очищает накопленные аудио данные
// Вызывается перед началом новой записи чтобы не захватить старые данные
func (c *Capture) ClearBuffers() {
	for {
		select {
		case <-c.dataChan:
		default:
			return
		}
	}
}

// Close освобождает ресурсы
func (c *Capture) Close() {
	c.Stop()
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx.Free()
	}
}

// Downsample48to16 прореживает 48kHz mono до 16kHz (целочисленный коэффициент 3,
// усреднение тройки семплов как дешёвый anti-aliasing)
func Downsample48to16(samples []float32) []float32 {
	n := len(samples) / 3
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (samples[i*3] + samples[i*3+1] + samples[i*3+2]) / 3
	}
	return out
}

func deviceIDToString(id malgo.DeviceID) string {
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}
