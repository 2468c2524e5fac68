package server

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
)

const (
	MessageProgress = "progress"
	MessageImage    = "image"
	MessageError    = "error"
)

// Message is sent from the server over the blend stream.
type Message struct {
	Type  string `json:"type"`
	Step  int    `json:"step,omitempty"`
	Total int    `json:"total,omitempty"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHandler reads one Request from the socket, reports every denoising
// step and finishes with the image or an error. Closing the socket cancels
// the generation.
func (s *Server) StreamHandler(c *gin.Context) {
	log := log.FromContextOrDiscard(c.Request.Context()).WithGroup("stream")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	fail := func(err error) {
		if werr := conn.WriteJSON(Message{Type: MessageError, Error: err.Error()}); werr != nil {
			log.Debug("write failed", "error", werr)
		}
	}

	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		fail(err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		// Nothing more is expected from the client; a read error means
		// it went away.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	progress := blend.WithProgress(func(step, total int) {
		if err := conn.WriteJSON(Message{Type: MessageProgress, Step: step, Total: total}); err != nil {
			cancel()
		}
	})
	png, err := s.generate(ctx, req.params(), progress)
	if err != nil {
		fail(err)
		return
	}
	if err := conn.WriteJSON(Message{Type: MessageImage, Data: base64.StdEncoding.EncodeToString(png)}); err != nil {
		log.Debug("write failed", "error", err)
	}
}
