package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ezmesh/meshdm/pkg/dm"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

// ConversationsResponse lists every known conversation
type ConversationsResponse struct {
	Success       bool         `json:"success"`
	Count         int          `json:"count"`
	Conversations []dm.Summary `json:"conversations"`
}

// MessagesResponse carries one conversation's log
type MessagesResponse struct {
	Success  bool               `json:"success"`
	Peer     protocol.PublicKey `json:"peer"`
	Count    int                `json:"count"`
	Messages []dm.Message       `json:"messages"`
}

// SendRequest asks the node to message a peer
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse returns the stored message, delivery state included
type SendResponse struct {
	Success bool       `json:"success"`
	Message dm.Message `json:"message"`
}

// peerParam parses the :peer path segment, answering 400 itself on
// malformed keys.
func (s *Server) peerParam(c *gin.Context) (protocol.PublicKey, bool) {
	peer, err := protocol.ParsePublicKey(c.Param("peer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid peer key",
			Message: "Peer must be a 64-character hex public key",
		})
		return protocol.PublicKey{}, false
	}
	return peer, true
}

// handleConversations handles GET /api/v1/conversations
func (s *Server) handleConversations(c *gin.Context) {
	summaries := s.engine.Conversations()
	if summaries == nil {
		summaries = []dm.Summary{}
	}

	c.JSON(http.StatusOK, ConversationsResponse{
		Success:       true,
		Count:         len(summaries),
		Conversations: summaries,
	})
}

// handleMessages handles GET /api/v1/conversations/:peer/messages
func (s *Server) handleMessages(c *gin.Context) {
	peer, ok := s.peerParam(c)
	if !ok {
		return
	}

	msgs := s.engine.Messages(peer)
	if msgs == nil {
		msgs = []dm.Message{}
	}

	c.JSON(http.StatusOK, MessagesResponse{
		Success:  true,
		Peer:     peer,
		Count:    len(msgs),
		Messages: msgs,
	})
}

// handleSend handles POST /api/v1/conversations/:peer/messages
func (s *Server) handleSend(c *gin.Context) {
	peer, ok := s.peerParam(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	msg, err := s.engine.Send(peer, req.Text)
	switch {
	case err == nil:
	case errors.Is(err, dm.ErrEmptyText), errors.Is(err, protocol.ErrTextTooLong):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Unsendable text",
			Message: err.Error(),
		})
		return
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Send failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SendResponse{Success: true, Message: msg})
}

// handleMarkRead handles POST /api/v1/conversations/:peer/read
func (s *Server) handleMarkRead(c *gin.Context) {
	peer, ok := s.peerParam(c)
	if !ok {
		return
	}

	s.engine.MarkRead(peer)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
