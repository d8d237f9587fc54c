package routes

import (
	"io"
	"strconv"

	"github.com/finbot/pkg/constant"
	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/domains/session"
	"github.com/finbot/pkg/dtos"
	"github.com/finbot/pkg/entities"
	"github.com/finbot/pkg/middleware"
	"github.com/gin-gonic/gin"
)

func SessionRoutes(r *gin.RouterGroup, m *session.Manager) {
	// Apply JWT authentication to all session endpoints
	authGroup := r.Group("", middleware.CheckAuth())
	{
		authGroup.POST("", createSession(m))
		authGroup.GET("", listSessions(m))
		authGroup.GET("/stats", sessionStats(m))
		authGroup.GET("/:id", getSession(m))
		authGroup.POST("/:id/start", startSession(m))
		authGroup.POST("/:id/stop", stopSession(m))
		authGroup.DELETE("/:id", deleteSession(m))
		authGroup.GET("/:id/qr", getQRCode(m))
		authGroup.POST("/:id/reset-auth", resetAuth(m))
		authGroup.POST("/:id/send-message", sendText(m))
		authGroup.POST("/:id/send-media", sendMedia(m))
	}
}

func createSession(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		var req dtos.CreateSessionDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}

		sess, err := m.CreateSession(c, entities.Platform(req.Platform), req.SessionID, req.Token)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		c.JSON(201, gin.H{
			"message": constant.SESSION_CREATED,
			"data":    toSessionDTO(sess),
		})
	}
}

func listSessions(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		var (
			sessions   []entities.Session
			totalPages int
			err        error
		)
		if pageParam := c.Query("page"); pageParam != "" {
			page, convErr := strconv.Atoi(pageParam)
			if convErr != nil {
				c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
				return
			}
			sessions, totalPages, err = m.ListPage(c, page)
		} else {
			sessions, err = m.List(c)
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		out := make([]dtos.SessionDTO, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, toSessionDTO(sess))
		}
		resp := gin.H{"sessions": out}
		if totalPages > 0 {
			resp["total_pages"] = totalPages
		}
		c.JSON(200, resp)
	}
}

func sessionStats(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		counts, err := m.Stats(c)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		byStatus := make(map[string]int64, len(counts))
		for status, count := range counts {
			byStatus[string(status)] = count
		}
		c.JSON(200, dtos.SessionStatsDTO{ByStatus: byStatus})
	}
}

func getSession(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		sess, err := m.Find(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": constant.SESSION_NOT_FOUND})
			return
		}

		resp := gin.H{"session": toSessionDTO(sess)}
		if info, ok := m.Runtime(sess.SessionID); ok {
			resp["runtime"] = dtos.RuntimeDTO{
				SessionID:        info.SessionID,
				Live:             info.Live,
				Connected:        info.Connected,
				EverConnected:    info.EverConnected,
				RestartAttempts:  info.RestartAttempts,
				BanAttempts:      info.BanAttempts,
				ReconnectPending: info.ReconnectPending,
			}
		}
		c.JSON(200, resp)
	}
}

func startSession(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := m.StartSession(c, c.Param("id")); err != nil {
			if err == session.ErrSessionNotFound {
				c.JSON(404, gin.H{"error": constant.SESSION_NOT_FOUND})
				return
			}
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.SESSION_STARTED})
	}
}

func stopSession(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		permanent := c.DefaultQuery("permanent", "true") == "true"
		if err := m.StopSession(c, c.Param("id"), permanent); err != nil {
			if err == session.ErrSessionNotFound {
				c.JSON(404, gin.H{"error": constant.SESSION_NOT_FOUND})
				return
			}
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.SESSION_STOPPED})
	}
}

func deleteSession(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := m.DeleteSession(c, c.Param("id")); err != nil {
			if err == session.ErrSessionNotFound {
				c.JSON(404, gin.H{"error": constant.SESSION_NOT_FOUND})
				return
			}
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.SESSION_DELETED})
	}
}

func getQRCode(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		code, ok := m.LastQR(sessionID)
		if !ok {
			c.JSON(404, gin.H{"error": constant.NO_QR_AVAILABLE})
			return
		}

		c.JSON(200, gin.H{
			"data":    dtos.QRCodeDTO{SessionID: sessionID, QRCode: code},
			"message": "Scan this QR code with the WhatsApp mobile app",
		})
	}
}

func resetAuth(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := m.ResetAuth(c, c.Param("id")); err != nil {
			if err == session.ErrSessionNotFound {
				c.JSON(404, gin.H{"error": constant.SESSION_NOT_FOUND})
				return
			}
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.SESSION_AUTH_RESET})
	}
}

func sendText(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		var req dtos.SendTextDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}

		res := m.SendText(c, c.Param("id"), req.Target, req.Message, nil)
		if !res.Success {
			c.JSON(500, gin.H{"error": res.Err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.MESSAGE_SENT,
			"data": dtos.MessageResponseDTO{
				MessageID: res.MessageID,
				Status:    "sent",
				To:        req.Target,
			},
		})
	}
}

func sendMedia(m *session.Manager) func(c *gin.Context) {
	return func(c *gin.Context) {
		target := c.PostForm("target")
		kind := c.PostForm("kind")
		if target == "" || kind == "" {
			c.JSON(400, gin.H{"error": "target and kind are required"})
			return
		}

		file, header, err := c.Request.FormFile("media")
		if err != nil {
			c.JSON(400, gin.H{"error": "Failed to get uploaded file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(500, gin.H{"error": constant.FILE_READ_FAILED})
			return
		}

		opts := &provider.SendOptions{
			Caption:  c.PostForm("caption"),
			MimeType: c.PostForm("mime_type"),
			FileName: header.Filename,
		}

		var res provider.SendResult
		switch kind {
		case "image":
			res = m.SendImage(c, c.Param("id"), target, data, opts)
		case "audio":
			res = m.SendAudio(c, c.Param("id"), target, data, opts)
		case "document":
			res = m.SendDocument(c, c.Param("id"), target, data, opts)
		default:
			c.JSON(400, gin.H{"error": "kind must be image, audio or document"})
			return
		}

		if !res.Success {
			c.JSON(500, gin.H{"error": res.Err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.MEDIA_SENT,
			"data": dtos.MessageResponseDTO{
				MessageID: res.MessageID,
				Status:    "sent",
				To:        target,
			},
		})
	}
}

func toSessionDTO(sess entities.Session) dtos.SessionDTO {
	return dtos.SessionDTO{
		SessionID: sess.SessionID,
		Platform:  string(sess.Platform),
		Status:    string(sess.Status),
		IsActive:  sess.IsActive,
		LastSeen:  sess.LastSeen,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}
