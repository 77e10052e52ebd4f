package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"extrapl/api/internal/auth"
	"extrapl/api/internal/authpw"
	"extrapl/api/internal/config"
	"extrapl/api/internal/docext"
	"extrapl/api/internal/email"
	"extrapl/api/internal/extract"
	"extrapl/api/internal/jobs"
	"extrapl/api/internal/rbac"
	"extrapl/api/internal/search"
	"extrapl/api/internal/store"
	"extrapl/api/internal/tool"
	"extrapl/api/internal/util"
)

// Session is an authenticated caller: the parsed access token plus the
// user row behind it.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	OrgID        string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the consumer-side view of the Postgres store.
type dataStore interface {
	Ping(ctx context.Context) error

	GetOrgBySubdomain(context.Context, string) (store.Organization, error)
	GetOrg(context.Context, string) (store.Organization, error)
	InsertOrg(context.Context, store.Organization) error
	UpdateOrg(context.Context, string, string) error
	ListOrgMembers(context.Context, string) ([]store.User, error)
	GetUserByID(context.Context, string) (store.User, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListProjects(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	GetProjectByInboundEmail(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	UpdateProject(context.Context, string, string, string) error
	DeleteProject(context.Context, string) error
	ListSchemaFields(context.Context, string) ([]store.SchemaField, error)
	ListCollections(context.Context, string) ([]store.Collection, error)
	ReplaceSchema(context.Context, string, []store.SchemaField, []store.Collection) error

	ListSteps(context.Context, string) ([]store.WorkflowStep, error)
	GetStep(context.Context, string) (store.WorkflowStep, error)
	InsertStep(context.Context, store.WorkflowStep) error
	UpdateStep(context.Context, string, string, string, int) error
	DeleteStep(context.Context, string) error
	ListStepValues(context.Context, string) ([]store.StepValue, error)
	ListProjectValues(context.Context, string) ([]store.StepValue, error)
	GetStepValue(context.Context, string) (store.StepValue, error)
	InsertStepValue(context.Context, store.StepValue) error
	UpdateStepValue(context.Context, store.StepValue) error
	DeleteStepValue(context.Context, string) error
	ListTools(context.Context, string) ([]store.Tool, error)
	GetTool(context.Context, string) (store.Tool, error)
	InsertTool(context.Context, store.Tool) error

	ListSessions(context.Context, string) ([]store.ExtractionSession, error)
	GetSession(context.Context, string) (store.ExtractionSession, error)
	GetSessionByThread(context.Context, string, string) (store.ExtractionSession, error)
	InsertSession(context.Context, store.ExtractionSession) error
	UpdateSessionStatus(context.Context, string, string) error
	DeleteSession(context.Context, string) error
	ListSessionDocuments(context.Context, string) ([]store.SessionDocument, error)
	InsertSessionDocument(context.Context, store.SessionDocument) error

	GetValidation(context.Context, string) (store.FieldValidation, error)
	ListValidationsBySession(context.Context, string) ([]store.FieldValidation, error)
	ListValidationsByValue(context.Context, string, string) ([]store.FieldValidation, error)
	ListValidationsByStep(context.Context, string, string) ([]store.FieldValidation, error)
	UpdateValidationStatus(context.Context, string, string, string) error
	ApplyValidationPlan(context.Context, string, string, []store.FieldValidation, []store.ValidationUpdate, []string) error

	HasInboundEmail(context.Context, string, string) (bool, error)
	InsertInboundEmail(context.Context, store.InboundEmail) error

	ListKanbanCards(context.Context, string) ([]store.KanbanCard, error)
	GetKanbanCard(context.Context, string) (store.KanbanCard, error)
	InsertKanbanCard(context.Context, store.KanbanCard) error
	UpdateKanbanCard(context.Context, string, string, string, string, int) error
	DeleteKanbanCard(context.Context, string) error
	ListChecklistItems(context.Context, string) ([]store.ChecklistItem, error)
	InsertChecklistItem(context.Context, store.ChecklistItem) error
	UpdateChecklistItem(context.Context, string, string, bool) error
	ListCardComments(context.Context, string) ([]store.CardComment, error)
	InsertCardComment(context.Context, store.CardComment) error
}

// refreshStore holds refresh sessions; backed by Redis when configured,
// Postgres otherwise.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, u store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// columnExtractor runs the extraction pipeline for one step value.
type columnExtractor interface {
	ExtractColumn(ctx context.Context, req extract.ColumnRequest) (extract.ColumnResult, error)
}

// textExtractor pulls plain text out of an uploaded document.
type textExtractor interface {
	ExtractText(ctx context.Context, fileName, contentType string, data []byte) (docext.Result, error)
}

// blobStore stores raw document and email bytes.
type blobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	refresh  refreshStore
	authpw   *authpw.Service
	email    *email.Service
	blobs    blobStore
	docs     textExtractor
	engine   columnExtractor
	model    tool.Model
	jobs     *jobs.Manager
	searcher *search.Service
}

type Deps struct {
	Store    dataStore
	Refresh  refreshStore
	AuthPW   *authpw.Service
	Email    *email.Service
	Blobs    blobStore
	Docs     textExtractor
	Engine   columnExtractor
	Model    tool.Model
	Jobs     *jobs.Manager
	Searcher *search.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		refresh:  deps.Refresh,
		authpw:   deps.AuthPW,
		email:    deps.Email,
		blobs:    deps.Blobs,
		docs:     deps.Docs,
		engine:   deps.Engine,
		model:    deps.Model,
		jobs:     deps.Jobs,
		searcher: deps.Searcher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the signup verification link. Failures are
// logged, not surfaced: the dev-bypass token covers unconfigured installs.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() || to == "" || token == "" {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.BaseURL, token)
	if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
		log.Printf("email: verification to %s: %v", to, err)
	}
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() || to == "" || token == "" {
		return
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.BaseURL, token)
	if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
		log.Printf("email: password reset to %s: %v", to, err)
	}
}

// OrgFromSubdomain resolves X-Org-Subdomain / Host into an organization.
func (s *Service) OrgFromSubdomain(ctx context.Context, subdomain string) (store.Organization, error) {
	org, err := s.store.GetOrgBySubdomain(ctx, subdomain)
	if err != nil {
		return store.Organization{}, notFound("Organization not found")
	}
	return org, nil
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Rotate: re-read the user so role changes apply on refresh.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Org:  user.OrgID,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshToken := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		OrgID:        user.OrgID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
