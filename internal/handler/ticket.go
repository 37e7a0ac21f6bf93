package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/desk-sync/internal/errs"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/reconcile"
)

// TicketHandler — операторская (admin) поверхность поверх Desk.
type TicketHandler struct {
	desk *reconcile.Desk
}

func NewTicketHandler(desk *reconcile.Desk) *TicketHandler {
	return &TicketHandler{desk: desk}
}

func (h *TicketHandler) List(c *gin.Context) {
	items := h.desk.Tickets()
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   len(items),
	})
}

func (h *TicketHandler) Get(c *gin.Context) {
	t, ok := h.desk.Ticket(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

type createTicketRequest struct {
	ID           string                 `json:"id"`
	CustomerName string                 `json:"customer_name" binding:"required"`
	Subject      string                 `json:"subject"`
	Priority     string                 `json:"priority"`
	Status       string                 `json:"status"`
	AdminNotes   string                 `json:"admin_notes"`
	Profile      *model.CustomerProfile `json:"profile"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t := h.desk.CreateTicket(model.Ticket{
		ID:           req.ID,
		CustomerName: req.CustomerName,
		Subject:      req.Subject,
		Priority:     req.Priority,
		Status:       model.TicketStatus(req.Status),
		AdminNotes:   req.AdminNotes,
		Profile:      req.Profile,
	})
	c.JSON(http.StatusCreated, t)
}

type updateTicketRequest struct {
	Subject    *string `json:"subject,omitempty"`
	Status     *string `json:"status,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	AdminNotes *string `json:"admin_notes,omitempty"`
}

func validStatus(s string) bool {
	switch model.TicketStatus(s) {
	case model.TicketStatusOpen, model.TicketStatusPending, model.TicketStatusResolved, model.TicketStatusArchived:
		return true
	}
	return false
}

func (h *TicketHandler) Update(c *gin.Context) {
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	upd := reconcile.TicketUpdate{
		Subject:    req.Subject,
		Priority:   req.Priority,
		AdminNotes: req.AdminNotes,
	}
	if req.Status != nil {
		if !validStatus(*req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: must be 'open', 'pending', 'resolved' or 'archived'"})
			return
		}
		s := model.TicketStatus(*req.Status)
		upd.Status = &s
	}
	if upd.Subject == nil && upd.Status == nil && upd.Priority == nil && upd.AdminNotes == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no changes"})
		return
	}
	t, err := h.desk.UpdateTicket(c.Param("id"), upd)
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) ListMessages(c *gin.Context) {
	if _, ok := h.desk.Ticket(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	msgs := h.desk.Messages(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs)})
}

type sendMessageRequest struct {
	Text       string            `json:"text" binding:"required"`
	Attachment *model.Attachment `json:"attachment"`
}

func (h *TicketHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	msg, err := h.desk.SendAdminMessage(c.Request.Context(), c.Param("id"), req.Text, req.Attachment)
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *TicketHandler) UpdateProfile(c *gin.Context) {
	var patch model.CustomerProfile
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.desk.UpdateProfileByAdmin(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) ApproveProfile(c *gin.Context) {
	t, err := h.desk.ApproveProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) RejectProfile(c *gin.Context) {
	t, err := h.desk.RejectProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Select помечает тикет активным: его unread сбрасывается и не растёт, пока
// фокус на нём.
func (h *TicketHandler) Select(c *gin.Context) {
	if err := h.desk.SelectTicket(c.Param("id")); err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

func (h *TicketHandler) Typing(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	h.desk.SetAdminTyping(c.Param("id"), req.Typing)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type addPostRequest struct {
	AuthorName string `json:"author_name" binding:"required"`
	AuthorRole string `json:"author_role"`
	Subject    string `json:"subject"`
	Content    string `json:"content" binding:"required"`
	Image      string `json:"image"`
}

func (h *TicketHandler) AddPost(c *gin.Context) {
	var req addPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	role := req.AuthorRole
	if role == "" {
		role = "admin"
	}
	post, err := h.desk.AddPost(c.Param("id"), model.TicketPost{
		AuthorName: req.AuthorName,
		AuthorRole: role,
		Subject:    req.Subject,
		Content:    req.Content,
		Image:      req.Image,
	})
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

type addCommentRequest struct {
	AuthorName string `json:"author_name" binding:"required"`
	AuthorRole string `json:"author_role"`
	Content    string `json:"content" binding:"required"`
	Image      string `json:"image"`
}

func (h *TicketHandler) AddComment(c *gin.Context) {
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	role := req.AuthorRole
	if role == "" {
		role = "admin"
	}
	comment, err := h.desk.AddComment(c.Param("id"), c.Param("postID"), model.PostComment{
		AuthorName: req.AuthorName,
		AuthorRole: role,
		Content:    req.Content,
		Image:      req.Image,
	})
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func writeDeskError(c *gin.Context, err error) {
	if errors.Is(err, errs.ErrTicketNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
