package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/noturnachs/wasteph-sub000/config"
	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubMailer struct {
	fail bool
	sent []service.Mail
}

func (m *stubMailer) Send(ctx context.Context, mail service.Mail) service.SendResult {
	if m.fail {
		return service.SendResult{Success: false, Err: errors.New("smtp refused")}
	}
	m.sent = append(m.sent, mail)
	return service.SendResult{Success: true, MessageID: "stub"}
}

type stubRenderer struct {
	r *service.Renderer
}

func (s *stubRenderer) Render(tmpl *model.Template, data model.JSONMap) (string, error) {
	return s.r.Render(tmpl, data)
}

func (s *stubRenderer) ToPDF(ctx context.Context, html string) ([]byte, error) {
	return []byte("%PDF-1.4 stub"), nil
}

type testServer struct {
	router *gin.Engine
	store  *service.MemStore
	mailer *stubMailer
}

// testActor resolves the acting user from test headers, standing in for the
// JWT middleware.
func testActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			role = model.RoleAdmin
		}
		id, _ := strconv.Atoi(c.GetHeader("X-Test-User"))
		if id == 0 {
			id = 1
		}
		c.Set("actor", model.Actor{
			ID:          uint(id),
			Role:        role,
			MasterSales: c.GetHeader("X-Test-Master") == "true",
		})
		c.Next()
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := service.NewMemStore()
	blobs := service.NewMemBlobStore()
	mailer := &stubMailer{}
	renderer := &stubRenderer{r: service.NewRenderer(config.RendererConfig{})}

	ctx := context.Background()
	if err := store.CreateTemplate(ctx, &model.Template{
		Type:      model.TemplateProposal,
		Name:      "standard",
		HTML:      "<h1>{{.proposal_number}}</h1>",
		IsActive:  true,
		IsDefault: true,
	}); err != nil {
		t.Fatalf("Failed to seed template: %v", err)
	}
	if err := store.CreateTemplate(ctx, &model.Template{
		Type:     model.TemplateContract,
		Name:     "agreement",
		HTML:     "<h1>{{.contract_duration}}</h1>",
		IsActive: true,
	}); err != nil {
		t.Fatalf("Failed to seed contract template: %v", err)
	}
	store.PutInquiry(&model.Inquiry{
		ID:     1,
		Name:   "Acme Corp",
		Email:  "contact@acme.test",
		Status: model.InquiryNew,
	})

	templates := service.NewTemplateService(store.Templates(), nil, 0)
	proposals := service.NewProposalService(service.ProposalDeps{
		Proposals: store.Proposals(),
		Inquiries: store.Inquiries(),
		Templates: templates,
		Sequences: store,
		Renderer:  renderer,
		Mailer:    mailer,
		Blobs:     blobs,
		Notifier:  &service.LogNotifier{},
		AuditLog:  store,
	})
	contracts := service.NewContractService(service.ContractDeps{
		Contracts: store.Contracts(),
		Proposals: store.Proposals(),
		Inquiries: store.Inquiries(),
		Templates: templates,
		Renderer:  renderer,
		Mailer:    mailer,
		Blobs:     blobs,
		Notifier:  &service.LogNotifier{},
		AuditLog:  store,
		PublicURL: "https://backoffice.test",
	})

	ph := NewProposalHandler(proposals)
	ch := NewContractHandler(contracts)
	th := NewTemplateHandler(templates)
	pub := NewPublicHandler(contracts)

	router := gin.New()

	public := router.Group("/public")
	public.GET("/contracts/:token", pub.ValidateToken)
	public.POST("/contracts/:token/sign", pub.Sign)

	api := router.Group("/api")
	api.Use(testActor())
	api.POST("/proposals", ph.Create)
	api.GET("/proposals/:id", ph.Get)
	api.PUT("/proposals/:id", ph.Update)
	api.POST("/proposals/:id/approve", ph.Approve)
	api.POST("/proposals/:id/reject", ph.Reject)
	api.POST("/proposals/:id/send", ph.Send)
	api.POST("/proposals/:id/retry-email", ph.RetryEmail)
	api.POST("/proposals/:id/cancel", ph.Cancel)
	api.POST("/proposals/:id/response", ph.RecordResponse)
	api.GET("/proposals/:id/contract", ch.GetByProposal)
	api.POST("/proposals/:id/contract/request", ch.Request)
	api.GET("/contracts/:id", ch.Get)
	api.POST("/contracts/:id/fulfill", ch.Fulfill)
	api.POST("/contracts/:id/draft", ch.SaveDraft)
	api.POST("/contracts/:id/send", ch.Send)
	api.POST("/contracts/:id/hardbound", ch.Hardbound)
	api.POST("/contracts/:id/payment-preview", ch.PaymentPreview)
	api.POST("/templates", th.Create)
	api.GET("/templates/:id", th.Get)
	api.PUT("/templates/:id", th.Update)
	api.DELETE("/templates/:id", th.Delete)

	return &testServer{router: router, store: store, mailer: mailer}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

var asSales = map[string]string{"X-Test-Role": model.RoleSales, "X-Test-User": "10"}

func (s *testServer) createProposal(t *testing.T) uint {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/proposals", gin.H{"inquiry_id": 1, "payload": gin.H{"total": 1000}}, asSales)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create proposal = %d: %s", w.Code, w.Body.String())
	}
	var p model.Proposal
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("Failed to decode proposal: %v", err)
	}
	return p.ID
}

func (s *testServer) sentContractToken(t *testing.T, proposalID uint) string {
	t.Helper()
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", proposalID), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("Approve = %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/send", proposalID), nil, asSales); w.Code != http.StatusOK {
		t.Fatalf("Send = %d: %s", w.Code, w.Body.String())
	}
	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/contract/request", proposalID), gin.H{
		"start_date": "2026-01-01",
		"end_date":   "2026-12-31",
	}, asSales)
	if w.Code != http.StatusOK {
		t.Fatalf("Request contract = %d: %s", w.Code, w.Body.String())
	}
	var c model.Contract
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("Failed to decode contract: %v", err)
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/contracts/%d/fulfill", c.ID), gin.H{}, nil); w.Code != http.StatusOK {
		t.Fatalf("Fulfill = %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/contracts/%d/send", c.ID), nil, asSales); w.Code != http.StatusOK {
		t.Fatalf("Send contract = %d: %s", w.Code, w.Body.String())
	}

	stored, err := s.store.GetContract(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Failed to reload contract: %v", err)
	}
	return stored.SubmissionToken
}

func TestProposalLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := s.createProposal(t)

	// Read it back
	w := s.do(t, http.MethodGet, fmt.Sprintf("/api/proposals/%d", id), nil, asSales)
	if w.Code != http.StatusOK {
		t.Errorf("Get = %d", w.Code)
	}

	// A foreign sales user is rejected
	other := map[string]string{"X-Test-Role": model.RoleSales, "X-Test-User": "99"}
	if w := s.do(t, http.MethodGet, fmt.Sprintf("/api/proposals/%d", id), nil, other); w.Code != http.StatusForbidden {
		t.Errorf("Foreign get = %d, want 403", w.Code)
	}

	// Sales cannot approve
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", id), nil, asSales); w.Code != http.StatusForbidden {
		t.Errorf("Sales approve = %d, want 403", w.Code)
	}

	// Admin approves, then double approval conflicts
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", id), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("Approve = %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", id), nil, nil); w.Code != http.StatusConflict {
		t.Errorf("Double approve = %d, want 409", w.Code)
	}

	// Send and record a response
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/send", id), nil, asSales); w.Code != http.StatusOK {
		t.Fatalf("Send = %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/response", id), gin.H{"response": "accepted"}, nil); w.Code != http.StatusOK {
		t.Errorf("Response = %d: %s", w.Code, w.Body.String())
	}
}

func TestProposalValidationErrors(t *testing.T) {
	s := newTestServer(t)
	id := s.createProposal(t)

	// Blank rejection reason
	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/reject", id), gin.H{"reason": ""}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Blank reason = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rejection_reason") {
		t.Errorf("Expected field in body: %s", w.Body.String())
	}

	// Unknown proposal
	if w := s.do(t, http.MethodGet, "/api/proposals/999", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("Unknown proposal = %d, want 404", w.Code)
	}

	// Garbage id
	if w := s.do(t, http.MethodGet, "/api/proposals/abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Bad id = %d, want 400", w.Code)
	}

	// Malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/proposals", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Malformed body = %d, want 400", rec.Code)
	}
}

func TestProposalDeliveryFailureMapsTo502(t *testing.T) {
	s := newTestServer(t)
	id := s.createProposal(t)
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", id), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("Approve = %d", w.Code)
	}

	s.mailer.fail = true
	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/send", id), nil, asSales)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Failed delivery = %d, want 502", w.Code)
	}

	// Recovery path through retry
	s.mailer.fail = false
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/retry-email", id), nil, nil); w.Code != http.StatusOK {
		t.Errorf("Retry = %d: %s", w.Code, w.Body.String())
	}
}

func TestPublicSigningFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.sentContractToken(t, s.createProposal(t))

	// Validate the link
	w := s.do(t, http.MethodGet, "/public/contracts/"+token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Validate = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "submission_token") {
		t.Error("Public view must not echo the token")
	}

	// Unknown token
	if w := s.do(t, http.MethodGet, "/public/contracts/deadbeef", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("Unknown token = %d, want 404", w.Code)
	}

	// Sign with an uploaded document
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("document", "signed.pdf")
	if err != nil {
		t.Fatalf("Failed to build form: %v", err)
	}
	fw.Write([]byte("%PDF-1.4 signed"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/public/contracts/"+token+"/sign", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Sign = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), model.ContractSigned) {
		t.Errorf("Expected signed status in body: %s", rec.Body.String())
	}

	// The token is spent
	if w := s.do(t, http.MethodGet, "/public/contracts/"+token, nil, nil); w.Code != http.StatusConflict {
		t.Errorf("Spent token validate = %d, want 409", w.Code)
	}

	// Hardbound closes the chain
	stored, err := s.store.GetContractByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("Failed to reload contract: %v", err)
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/contracts/%d/hardbound", stored.ID), nil, nil); w.Code != http.StatusOK {
		t.Errorf("Hardbound = %d: %s", w.Code, w.Body.String())
	}
}

func TestPublicSignRequiresDocument(t *testing.T) {
	s := newTestServer(t)
	token := s.sentContractToken(t, s.createProposal(t))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/public/contracts/"+token+"/sign", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Sign without file = %d, want 400", rec.Code)
	}
}

func TestContractByProposalGuards(t *testing.T) {
	s := newTestServer(t)
	id := s.createProposal(t)

	// The owner can read (and lazily create) the contract
	w := s.do(t, http.MethodGet, fmt.Sprintf("/api/proposals/%d/contract", id), nil, asSales)
	if w.Code != http.StatusOK {
		t.Fatalf("Owner contract get = %d: %s", w.Code, w.Body.String())
	}

	// Another sales user cannot
	otherSales := map[string]string{"X-Test-Role": model.RoleSales, "X-Test-User": "11"}
	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/proposals/%d/contract", id), nil, otherSales)
	if w.Code != http.StatusForbidden {
		t.Errorf("Other sales contract get = %d, want 403", w.Code)
	}

	// A proposal that does not exist yields 404, not a fresh contract row
	w = s.do(t, http.MethodGet, "/api/proposals/9999/contract", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Ghost proposal contract get = %d, want 404", w.Code)
	}
}

func TestTemplateEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Sales cannot manage templates
	w := s.do(t, http.MethodPost, "/api/templates", gin.H{"type": "proposal", "name": "x", "html": "<p></p>"}, asSales)
	if w.Code != http.StatusForbidden {
		t.Errorf("Sales template create = %d, want 403", w.Code)
	}

	// Admin creates and reads back
	w = s.do(t, http.MethodPost, "/api/templates", gin.H{"type": "proposal", "name": "v2", "html": "<p>{{.proposal_number}}</p>"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Template create = %d: %s", w.Code, w.Body.String())
	}
	var tmpl model.Template
	if err := json.Unmarshal(w.Body.Bytes(), &tmpl); err != nil {
		t.Fatalf("Failed to decode template: %v", err)
	}
	if w := s.do(t, http.MethodGet, fmt.Sprintf("/api/templates/%d", tmpl.ID), nil, nil); w.Code != http.StatusOK {
		t.Errorf("Template get = %d", w.Code)
	}

	// Partial update leaves unsent fields alone
	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/templates/%d", tmpl.ID), gin.H{"name": "v3"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Template partial update = %d: %s", w.Code, w.Body.String())
	}
	var updated model.Template
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("Failed to decode template: %v", err)
	}
	if updated.Name != "v3" || updated.HTML != tmpl.HTML {
		t.Errorf("Partial update wrong: %+v", updated)
	}

	// Type changes are rejected outright
	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/templates/%d", tmpl.ID), gin.H{"type": "contract"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Type change = %d, want 400", w.Code)
	}

	// Unknown type rejected
	w = s.do(t, http.MethodPost, "/api/templates", gin.H{"type": "invoice", "name": "x", "html": "<p></p>"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Bad type = %d, want 400", w.Code)
	}
}

func TestContractPaymentPreviewEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Swap the contract template for one with a schedule
	ctx := context.Background()
	if err := s.store.CreateTemplate(ctx, &model.Template{
		Type:     model.TemplateContract,
		Name:     "with schedule",
		HTML:     "<h1>{{.contract_duration}}</h1>",
		IsActive: true,
		Config: model.JSONMap{
			"installments": []any{
				map[string]any{"label": "full", "formula": "total", "months_after_start": 0.0},
			},
		},
	}); err != nil {
		t.Fatalf("Failed to seed template: %v", err)
	}

	id := s.createProposal(t)
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/approve", id), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("Approve = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/send", id), nil, asSales); w.Code != http.StatusOK {
		t.Fatalf("Send = %d", w.Code)
	}
	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%d/contract/request", id), gin.H{
		"start_date": "2026-01-01",
		"end_date":   "2026-12-31",
		"fields":     gin.H{"total_amount": 5000},
	}, asSales)
	if w.Code != http.StatusOK {
		t.Fatalf("Request = %d: %s", w.Code, w.Body.String())
	}
	var c model.Contract
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("Failed to decode contract: %v", err)
	}

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/contracts/%d/payment-preview", c.ID), nil, asSales)
	if w.Code != http.StatusOK {
		t.Fatalf("Preview = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Schedule []service.PaymentPreview `json:"schedule"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode schedule: %v", err)
	}
	if len(resp.Schedule) != 1 || resp.Schedule[0].Amount != 5000 {
		t.Errorf("Unexpected schedule: %+v", resp.Schedule)
	}
}
