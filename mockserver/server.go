// Package mockserver provides a local chat API implementing both the
// streaming and the single-request endpoints, for development and for
// end-to-end tests of the client.
package mockserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/chat"
	"github.com/papercomputeco/parley/pkg/transport"
)

// Server is a chat API backed by a Responder. It keeps no conversation
// state of its own.
type Server struct {
	config    Config
	responder Responder
	logger    *zap.Logger
	server    *fiber.App
}

// New creates a new Server.
func New(config Config, responder Responder, logger *zap.Logger) (*Server, error) {
	if config.Path == "" {
		config.Path = transport.DefaultPath
	}
	if !strings.HasPrefix(config.Path, "/") {
		return nil, fmt.Errorf("invalid path %q: must start with /", config.Path)
	}
	if responder == nil {
		responder = EchoResponder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	s := &Server{
		config:    config,
		responder: responder,
		logger:    logger,
		server:    app,
	}

	app.Get(config.Path, s.handleStream)
	app.Post(config.Path, s.handleChat)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	return s, nil
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting mock chat server",
		zap.String("listen", s.config.ListenAddr),
		zap.String("path", s.config.Path),
		zap.Bool("streaming", !s.config.DisableStreaming),
	)

	return s.server.Listen(s.config.ListenAddr)
}

// RunWithListener serves on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	return s.server.Listener(ln)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.server.Shutdown()
}

// Handler exposes the server as a net/http handler. Streamed responses are
// buffered until complete when served this way.
func (s *Server) Handler() http.Handler {
	return adaptor.FiberApp(s.server)
}

// handleChat answers the single-request endpoint.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chat.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}

	s.logger.Debug("received chat request",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("history_len", len(req.History)),
	)

	reply, err := s.responder.Respond(c.UserContext(), req)
	if err != nil {
		s.logger.Error("responder failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(chat.ChatResponse{
		ConversationID: reply.ConversationID,
		Answer:         reply.Answer(),
	})
}

// handleStream answers the streaming endpoint with server-sent events.
func (s *Server) handleStream(c *fiber.Ctx) error {
	if s.config.DisableStreaming {
		return c.Status(fiber.StatusNotFound).JSON(chat.ErrorResponse{Error: "streaming disabled"})
	}

	req, err := parseStreamQuery(c)
	if err != nil {
		s.logger.Error("failed to parse stream request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: err.Error()})
	}

	s.logger.Debug("received stream request",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("history_len", len(req.History)),
	)

	reply, respondErr := s.responder.Respond(c.UserContext(), req)
	delay := s.config.FragmentDelay
	startTime := time.Now()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		if respondErr != nil {
			s.logger.Error("responder failed", zap.Error(respondErr))
			_ = writeEvent(w, chat.StreamEvent{Error: respondErr.Error()})
			return
		}

		for _, fragment := range reply.Fragments {
			if delay > 0 {
				time.Sleep(delay)
			}
			if err := writeEvent(w, chat.StreamEvent{Answer: fragment}); err != nil {
				s.logger.Debug("client went away", zap.Error(err))
				return
			}
		}

		if err := writeEvent(w, chat.StreamEvent{ConversationID: reply.ConversationID, Done: true}); err != nil {
			s.logger.Debug("client went away", zap.Error(err))
			return
		}

		s.logger.Debug("stream complete",
			zap.Int("fragments", len(reply.Fragments)),
			zap.Duration("duration", time.Since(startTime)),
		)
	}))

	return nil
}

// parseStreamQuery reads the request from the query string. Values are
// copied because fiber reuses its buffers once the handler returns, and
// the stream writer runs after that.
func parseStreamQuery(c *fiber.Ctx) (chat.ChatRequest, error) {
	req := chat.ChatRequest{
		Message:        strings.Clone(c.Query("message")),
		ConversationID: strings.Clone(c.Query("conversationId")),
		History:        []chat.Turn{},
	}

	if raw := c.Query("history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.History); err != nil {
			return chat.ChatRequest{}, fmt.Errorf("invalid history: %w", err)
		}
	}

	for _, t := range req.History {
		if !t.Role.Valid() {
			return chat.ChatRequest{}, fmt.Errorf("invalid history role %q", t.Role)
		}
	}

	return req, nil
}

func writeEvent(w *bufio.Writer, ev chat.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
