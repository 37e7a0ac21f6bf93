package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/reconcile"
)

func setupRouter(d *reconcile.Desk) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	th := NewTicketHandler(d)
	sh := NewSessionHandler(d, nil)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/tickets", th.List)
		v1.POST("/tickets", th.Create)
		v1.GET("/tickets/:id", th.Get)
		v1.PUT("/tickets/:id", th.Update)
		v1.GET("/tickets/:id/messages", th.ListMessages)
		v1.POST("/tickets/:id/messages", th.SendMessage)
		v1.PUT("/tickets/:id/profile", th.UpdateProfile)
		v1.POST("/tickets/:id/profile/approve", th.ApproveProfile)
		v1.POST("/tickets/:id/profile/reject", th.RejectProfile)
		v1.POST("/tickets/:id/select", th.Select)
		v1.POST("/tickets/:id/posts", th.AddPost)
		v1.POST("/tickets/:id/posts/:postID/comments", th.AddComment)

		v1.POST("/sessions/init", sh.Init)
		v1.POST("/sessions/:id/messages", sh.SendMessage)
		v1.POST("/sessions/:id/profile", sh.SubmitProfile)
		v1.POST("/sessions/:id/typing", sh.Typing)
	}
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetTicket(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)

	w := do(t, r, http.MethodPost, "/api/v1/tickets", `{"customer_name":"Jane","subject":"Login issue","priority":"high"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != model.TicketStatusOpen {
		t.Fatalf("created: %+v", created)
	}

	w = do(t, r, http.MethodGet, "/api/v1/tickets/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/api/v1/tickets/000000", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateTicketRequiresCustomerName(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)

	w := do(t, r, http.MethodPost, "/api/v1/tickets", `{"subject":"no name"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateTicketValidation(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)
	created := d.CreateTicket(model.Ticket{ID: "123456", CustomerName: "Jane"})

	w := do(t, r, http.MethodPut, "/api/v1/tickets/"+created.ID, `{"status":"sideways"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: %d", w.Code)
	}

	w = do(t, r, http.MethodPut, "/api/v1/tickets/"+created.ID, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty update: %d", w.Code)
	}

	w = do(t, r, http.MethodPut, "/api/v1/tickets/"+created.ID, `{"status":"resolved"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("valid update: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPut, "/api/v1/tickets/000000", `{"status":"resolved"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing ticket: %d", w.Code)
	}
}

func TestSendAndListMessages(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)
	d.CreateTicket(model.Ticket{ID: "123456", CustomerName: "Jane"})

	w := do(t, r, http.MethodPost, "/api/v1/tickets/123456/messages", `{"text":"hello from support"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var msg model.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sender != model.SenderAdmin {
		t.Fatalf("sender: %s", msg.Sender)
	}

	w = do(t, r, http.MethodGet, "/api/v1/tickets/123456/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var listResp struct {
		Messages []model.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listResp.Total != 1 || listResp.Messages[0].Text != "hello from support" {
		t.Fatalf("list: %+v", listResp)
	}
}

func TestProfileReviewFlow(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)
	d.CreateTicket(model.Ticket{ID: "123456", CustomerName: "Guest"})

	w := do(t, r, http.MethodPost, "/api/v1/sessions/123456/profile", `{"full_name":"Jane Doe","id_card":"A1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/api/v1/tickets/123456/profile/approve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	var approved model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &approved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if approved.PendingProfile != nil || approved.Profile == nil || approved.Profile.FullName != "Jane Doe" {
		t.Fatalf("approved: %+v", approved)
	}
	if approved.CustomerName != "Jane Doe" {
		t.Fatalf("customer name: %q", approved.CustomerName)
	}

	w = do(t, r, http.MethodPost, "/api/v1/tickets/000000/profile/reject", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("reject missing: %d", w.Code)
	}
}

func TestSessionInitAndMessage(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderCustomer})
	r := setupRouter(d)

	w := do(t, r, http.MethodPost, "/api/v1/sessions/init", `{"browser":"Firefox","os":"Linux"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("init: %d %s", w.Code, w.Body.String())
	}
	var ticket model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ticket.ID) != 6 {
		t.Fatalf("case id: %q", ticket.ID)
	}
	if ticket.CustomerInfo == nil || ticket.CustomerInfo.Browser != "Firefox" {
		t.Fatalf("customer info: %+v", ticket.CustomerInfo)
	}

	w = do(t, r, http.MethodPost, "/api/v1/sessions/"+ticket.ID+"/messages", `{"text":"I need help"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var msg model.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sender != model.SenderCustomer {
		t.Fatalf("sender: %s", msg.Sender)
	}

	// Повторный init того же case id не создаёт второй тикет.
	w = do(t, r, http.MethodPost, "/api/v1/sessions/init", `{"case_id":"`+ticket.ID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("re-init: %d", w.Code)
	}
	if n := len(d.Tickets()); n != 1 {
		t.Fatalf("tickets: %d", n)
	}
}

func TestAddPostAndCommentRoutes(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)
	d.CreateTicket(model.Ticket{ID: "123456", CustomerName: "Jane"})

	w := do(t, r, http.MethodPost, "/api/v1/tickets/123456/posts", `{"author_name":"Support","subject":"Maintenance","content":"Back soon"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("post: %d %s", w.Code, w.Body.String())
	}
	var post model.TicketPost
	if err := json.Unmarshal(w.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if post.AuthorRole != "admin" {
		t.Fatalf("default author role: %q", post.AuthorRole)
	}

	w = do(t, r, http.MethodPost, "/api/v1/tickets/123456/posts/"+post.ID+"/comments", `{"author_name":"Jane","content":"thanks"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("comment: %d %s", w.Code, w.Body.String())
	}
}

func TestSelectResetsUnreadOverHTTP(t *testing.T) {
	d := reconcile.NewDesk(reconcile.Deps{Viewer: model.SenderAdmin})
	r := setupRouter(d)
	d.CreateTicket(model.Ticket{ID: "123456", CustomerName: "Jane"})

	w := do(t, r, http.MethodPost, "/api/v1/tickets/123456/select", "")
	if w.Code != http.StatusOK {
		t.Fatalf("select: %d", w.Code)
	}
	if d.ActiveTicketID() != "123456" {
		t.Fatalf("active: %q", d.ActiveTicketID())
	}
}
