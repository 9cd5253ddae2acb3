package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"estatechat/internal/chat"
	"estatechat/internal/outbound"
)

// Server is the in-memory dev chat backend: websocket rooms, message
// history, multipart uploads and token minting, all behind one chi router.
type Server struct {
	auth *Auth
	hub  *Hub
	log  *Log

	mu    sync.Mutex
	blobs map[string][]byte // path -> file bytes
}

func New(jwtSecret string) *Server {
	msgLog := NewLog()
	s := &Server{
		auth:  NewAuth(jwtSecret),
		hub:   NewHub(msgLog),
		log:   msgLog,
		blobs: make(map[string][]byte),
	}
	go s.hub.Run()
	return s
}

// Auth exposes the token minter so tests and tools can log users in.
func (s *Server) Auth() *Auth {
	return s.auth
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api/token", s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Handle)
		r.Get("/ws", s.handleWs)
		r.Get("/api/conversations/{conversationID}/messages", s.handleHistory)
		r.Post("/api/uploads/{conversationID}", s.handleUpload)
		r.Get("/api/files/{conversationID}/{name}", s.handleFile)
	})

	return r
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int    `json:"user_id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, "user_id and username required", http.StatusBadRequest)
		return
	}
	token, err := s.auth.Mint(req.UserID, req.Username)
	if err != nil {
		http.Error(w, "could not mint token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	serveWs(s.hub, userFromContext(r.Context()), w, r)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	msgs := s.log.Messages(conversationID)
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    len(msgs),
		"has_more": false,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	senderID := userFromContext(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "malformed multipart body"})
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "no files provided"})
		return
	}
	caption := r.FormValue("message")
	tempID := r.FormValue("temp_id")

	var (
		metas  []chat.FileMeta
		errs   []string
		stored []string
	)
	for _, hdr := range headers {
		fe := outbound.ValidateFile(outbound.File{
			Name:        hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Size:        hdr.Size,
		})
		if fe != nil {
			errs = append(errs, fe.Error())
			continue
		}
		f, err := hdr.Open()
		if err != nil {
			errs = append(errs, hdr.Filename+": could not read file")
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			errs = append(errs, hdr.Filename+": could not read file")
			continue
		}
		name := uuid.NewString() + "_" + hdr.Filename
		path := "/api/files/" + conversationID + "/" + name
		s.mu.Lock()
		s.blobs[path] = data
		s.mu.Unlock()
		metas = append(metas, chat.FileMeta{
			URL:         path,
			Filename:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Size:        hdr.Size,
		})
		stored = append(stored, hdr.Filename)
	}

	if len(metas) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail":            "no valid files to upload",
			"processing_errors": errs,
		})
		return
	}

	msg, err := s.appendFileMessage(conversationID, senderID, tempID, caption, metas)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "could not store message"})
		return
	}

	status := http.StatusCreated
	if len(errs) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"detail":            "upload processed",
		"message_id":        msg.ID,
		"uploaded_files":    stored,
		"processing_errors": errs,
	})
}

// appendFileMessage stores the grouped file message and broadcasts it to
// the room, same as a confirmed socket send.
func (s *Server) appendFileMessage(conversationID string, senderID int, tempID, caption string, metas []chat.FileMeta) (chat.Message, error) {
	payload, err := json.Marshal(chat.FilePayload{
		Type:    string(chat.KindFiles),
		Caption: caption,
		Files:   metas,
	})
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.Message{
		ID:             uuid.NewString(),
		CorrelationID:  tempID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        string(payload),
		Kind:           chat.KindFiles,
		CreatedAt:      time.Now().UTC(),
	}
	s.log.Append(msg)

	env, err := chat.NewEnvelope(chat.EventMessage, msg)
	if err != nil {
		return chat.Message{}, err
	}
	s.hub.Publish(conversationID, env)
	return msg, nil
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path := "/api/files/" + chi.URLParam(r, "conversationID") + "/" + chi.URLParam(r, "name")
	s.mu.Lock()
	data, ok := s.blobs[path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}
