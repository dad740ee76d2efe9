package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ZaguanLabs/coach/internal/conversation"
	"github.com/ZaguanLabs/coach/internal/insights"
)

// CoachRequest is the body of POST /api/coach.
type CoachRequest struct {
	Message string              `json:"message"`
	History []conversation.Turn `json:"history"`
}

// CoachResponse is the reply of POST /api/coach.
type CoachResponse struct {
	Reply string `json:"reply"`
}

// SendRequest is the body of POST /api/conversations/:id/messages.
type SendRequest struct {
	Content string `json:"content"`
}

// TitleRequest is the body of conversation create and rename calls.
type TitleRequest struct {
	Title string `json:"title"`
}

// ListResponse wraps conversation summaries.
type ListResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Provider: s.coach.ProviderName()})
}

// handleCoach answers one message statelessly; the client keeps the history.
func (s *Server) handleCoach(c echo.Context) error {
	var req CoachRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	reply, err := s.coach.Reply(c.Request().Context(), req.Message, req.History)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CoachResponse{Reply: reply})
}

func (s *Server) handleListConversations(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest("limit must be a non-negative integer")
		}
		limit = n
	}

	list, err := s.coach.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse{Conversations: list})
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req TitleRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest("invalid request body")
		}
	}
	conv, err := s.coach.Create(c.Request().Context(), req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.coach.Conversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleRenameConversation(c echo.Context) error {
	var req TitleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	conv, err := s.coach.Rename(c.Request().Context(), c.Param("id"), req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	if err := s.coach.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSendMessage(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	ex, err := s.coach.Send(c.Request().Context(), c.Param("id"), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ex)
}

func (s *Server) handleResetConversation(c echo.Context) error {
	conv, err := s.coach.Reset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handlePreviewInsights(c echo.Context) error {
	profile, err := insights.ParseProfile(c.QueryParam("profile"))
	if err != nil {
		return badRequest(err.Error())
	}
	ins, err := s.coach.PreviewInsights(c.Request().Context(), c.Param("id"), profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ins)
}

func (s *Server) handleApplyInsights(c echo.Context) error {
	profile, err := insights.ParseProfile(c.QueryParam("profile"))
	if err != nil {
		return badRequest(err.Error())
	}
	ins, err := s.coach.ApplyInsights(c.Request().Context(), c.Param("id"), profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ins)
}
