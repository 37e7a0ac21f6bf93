package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/desk-sync/internal/geoip"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/reconcile"
)

// SessionHandler — клиентская (customer) поверхность: инициализация сессии,
// отправка сообщений, подача анкеты.
type SessionHandler struct {
	desk *reconcile.Desk
	geo  *geoip.Client
}

func NewSessionHandler(desk *reconcile.Desk, geo *geoip.Client) *SessionHandler {
	return &SessionHandler{desk: desk, geo: geo}
}

type initSessionRequest struct {
	CaseID  string `json:"case_id"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
}

// Init находит или создаёт тикет сессии. Гео-lookup вызывающей стороны —
// best-effort с коротким дедлайном: провал не ломает инициализацию.
func (h *SessionHandler) Init(c *gin.Context) {
	var req initSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	info := &model.CustomerInfo{
		Browser: req.Browser,
		OS:      req.OS,
		Device:  req.Device,
	}
	if info.Device == "" {
		info.Device = "Web Browser"
	}
	if h.geo != nil {
		lookupCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		if looked := h.geo.Lookup(lookupCtx, c.ClientIP()); looked != nil {
			looked.Browser, looked.OS, looked.Device = info.Browser, info.OS, info.Device
			info = looked
		}
		cancel()
	}
	if info.IP == "" {
		info.IP = c.ClientIP()
	}

	t, err := h.desk.InitSession(c.Request.Context(), req.CaseID, info)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	msg, err := h.desk.SendCustomerMessage(c.Request.Context(), c.Param("id"), req.Text, req.Attachment)
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

const maxUploadSize = 20 << 20 // лимит relay-стороны на фото/видео

// Upload принимает файл из виджета multipart-формой (поле file, опционально
// caption) и пересылает его в relay.
func (h *SessionHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if fh.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}

	msg, err := h.desk.SendCustomerFile(c.Request.Context(), c.Param("id"), fh.Filename, data, c.PostForm("caption"))
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// SubmitProfile кладёт анкету клиента в pendingProfile до решения оператора.
func (h *SessionHandler) SubmitProfile(c *gin.Context) {
	var patch model.CustomerProfile
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.desk.SubmitProfile(c.Param("id"), patch)
	if err != nil {
		writeDeskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type typingPreviewRequest struct {
	Text string `json:"text"`
}

func (h *SessionHandler) Typing(c *gin.Context) {
	var req typingPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	h.desk.SetTypingPreview(c.Param("id"), req.Text)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
