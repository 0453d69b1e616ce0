package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"whonext/audio"
	"whonext/internal/config"
	"whonext/internal/service"
	"whonext/session"
	"whonext/voiceprint"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errNoSpeakerStore = errors.New("speaker store is not configured")

// client - подключённый потребитель событий. WebSocket соединение
// реализует интерфейс напрямую, gRPC стрим через обёртку
type client interface {
	WriteJSON(v interface{}) error
}

type Server struct {
	Config   *config.Config
	Meetings *session.Manager
	Recorder *service.Recorder
	Capture  *audio.Capture

	// Speakers - база голосовых отпечатков. Опциональна: без неё
	// команды *_speaker возвращают ошибку
	Speakers *voiceprint.Store

	clients map[client]bool
	mu      sync.Mutex
}

func NewServer(cfg *config.Config, meetings *session.Manager, recorder *service.Recorder, capture *audio.Capture) *Server {
	s := &Server{
		Config:   cfg,
		Meetings: meetings,
		Recorder: recorder,
		Capture:  capture,
		clients:  make(map[client]bool),
	}
	s.setupCallbacks()
	return s
}

func (s *Server) Start() {
	go s.startGRPCServer()

	http.HandleFunc("/ws", s.handleWebSocket)
	http.HandleFunc("/api/meetings/", s.handleMeetingsAPI)

	log.Printf("Backend listening on :%s", s.Config.Port)
	if err := http.ListenAndServe(":"+s.Config.Port, nil); err != nil {
		log.Fatal("ListenAndServe:", err)
	}
}

func (s *Server) setupCallbacks() {
	if s.Recorder == nil {
		return
	}

	s.Recorder.OnStateChange = func(state service.State, msg string) {
		s.broadcast(Message{Type: "state_changed", State: string(state), Data: msg})
	}

	s.Recorder.OnSegment = func(seg session.Segment) {
		meetingID := ""
		if active := s.Meetings.ActiveMeeting(); active != nil {
			meetingID = active.Meta.ID
		}
		s.broadcast(Message{Type: "segment", MeetingID: meetingID, Segment: &seg})
	}

	s.Recorder.OnAudioLevel = func(mic, sys float64) {
		s.broadcast(Message{Type: "audio_level", MicLevel: mic, SystemLevel: sys})
	}
}

// broadcast рассылает событие всем подключённым клиентам. Глобальный
// мьютекс сериализует записи: WriteJSON у gorilla не потокобезопасен
func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) == 0 {
		return
	}

	for c := range s.clients {
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("Write error: %v", err)
			if closer, ok := c.(io.Closer); ok {
				closer.Close()
			}
			delete(s.clients, c)
		}
	}
}

func (s *Server) addClient(c client) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
}

func (s *Server) removeClient(c client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade:", err)
		return
	}

	s.addClient(conn)
	defer func() {
		s.removeClient(conn)
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			log.Println("Read:", err)
			break
		}
		s.processMessage(conn, msg)
	}
}

func (s *Server) reply(c client, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.WriteJSON(msg); err != nil {
		log.Printf("Reply error: %v", err)
	}
}

func (s *Server) replyError(c client, err error) {
	s.reply(c, Message{Type: "error", Error: err.Error()})
}

func (s *Server) processMessage(c client, msg Message) {
	switch msg.Type {
	case "get_devices":
		devices, err := s.Capture.ListDevices()
		if err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "devices", Devices: devices})

	case "get_state":
		state, errMsg := s.Recorder.State()
		s.reply(c, Message{
			Type:       "state",
			State:      string(state),
			Paused:     s.Recorder.IsPaused(),
			Monitoring: s.Recorder.IsMonitoring(),
			Error:      errMsg,
		})

	case "start_monitoring":
		if err := s.Recorder.StartMonitoring(); err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "monitoring_started", Monitoring: true})

	case "stop_monitoring":
		s.Recorder.StopMonitoring()
		s.reply(c, Message{Type: "monitoring_stopped"})

	case "start_recording":
		if err := s.Recorder.StartRecording(msg.Title); err != nil {
			s.replyError(c, err)
			return
		}
		resp := Message{Type: "recording_started"}
		if active := s.Meetings.ActiveMeeting(); active != nil {
			meta := active.Meta
			resp.Meeting = &meta
		}
		s.reply(c, resp)

	case "stop_recording":
		// Блокируется до конца обработки, поэтому в горутине
		go func() {
			meeting, err := s.Recorder.StopRecording()
			if err != nil {
				s.replyError(c, err)
				return
			}
			if meeting == nil {
				s.broadcast(Message{Type: "recording_discarded"})
				return
			}
			meta := meeting.Meta
			s.broadcast(Message{Type: "recording_stopped", Meeting: &meta})
		}()

	case "pause_recording":
		if err := s.Recorder.Pause(); err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "recording_paused", Paused: true})

	case "resume_recording":
		if err := s.Recorder.Resume(); err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "recording_resumed"})

	case "acknowledge_error":
		s.Recorder.AcknowledgeError()
		state, _ := s.Recorder.State()
		s.reply(c, Message{Type: "state", State: string(state)})

	case "get_meetings":
		s.reply(c, Message{Type: "meetings_list", Meetings: s.Meetings.ListMeetings()})

	case "get_meeting":
		meeting, err := s.Meetings.GetMeeting(msg.MeetingID)
		if err != nil {
			s.replyError(c, err)
			return
		}
		meta := meeting.Meta
		s.reply(c, Message{
			Type:         "meeting_details",
			Meeting:      &meta,
			Transcript:   meeting.Transcript(),
			Participants: meeting.Participants(),
		})

	case "delete_meeting":
		if err := s.Meetings.DeleteMeeting(msg.MeetingID); err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "meeting_deleted", MeetingID: msg.MeetingID})

	case "get_transcript":
		active := s.Meetings.ActiveMeeting()
		if active == nil {
			s.replyError(c, session.ErrNoActiveSession)
			return
		}
		s.reply(c, Message{Type: "transcript", Transcript: active.Transcript()})

	case "get_participants":
		active := s.Meetings.ActiveMeeting()
		if active == nil {
			s.replyError(c, session.ErrNoActiveSession)
			return
		}
		s.reply(c, Message{Type: "participants", Participants: active.Participants()})

	case "get_speakers":
		if s.Speakers == nil {
			s.replyError(c, errNoSpeakerStore)
			return
		}
		s.reply(c, Message{Type: "speakers_list", Speakers: s.Speakers.GetAll()})

	case "rename_speaker":
		if s.Speakers == nil {
			s.replyError(c, errNoSpeakerStore)
			return
		}
		if err := s.Speakers.UpdateName(msg.SpeakerID, msg.SpeakerName); err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "speaker_renamed", SpeakerID: msg.SpeakerID, SpeakerName: msg.SpeakerName})

	case "delete_speaker":
		if s.Speakers == nil {
			s.replyError(c, errNoSpeakerStore)
			return
		}
		if err := s.Speakers.Delete(msg.SpeakerID); err != nil {
			s.replyError(c, err)
			return
		}
		s.reply(c, Message{Type: "speaker_deleted", SpeakerID: msg.SpeakerID})
	}
}

// handleMeetingsAPI - REST endpoint: список встреч и раздача файлов
// (аудио, транскрипт)
func (s *Server) handleMeetingsAPI(w http.ResponseWriter, r *http.Request) {
	// CORS для dev-режима (фронтенд на другом порту)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/meetings/")

	if path == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Meetings.ListMeetings())
		return
	}

	parts := strings.SplitN(path, "/", 2)
	meeting, err := s.Meetings.GetMeeting(parts[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		meta := meeting.Meta
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Meeting      session.MeetingMeta   `json:"meeting"`
			Transcript   []session.Segment     `json:"transcript"`
			Participants []session.Participant `json:"participants"`
		}{meta, meeting.Transcript(), meeting.Participants()})
		return
	}

	// Файлы отдаём только из каталога встречи
	requested := filepath.Base(parts[1])
	http.ServeFile(w, r, filepath.Join(meeting.Meta.DataDir, requested))
}
