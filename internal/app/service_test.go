package app

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"extrapl/api/internal/authpw"
	"extrapl/api/internal/config"
	"extrapl/api/internal/extract"
	"extrapl/api/internal/store"
)

// fakeStore is an in-memory dataStore (and authpw.UserStore) for handler and
// service tests.
type fakeStore struct {
	mu sync.Mutex

	pingErr error

	orgs        map[string]store.Organization
	users       map[string]store.User
	projects    map[string]store.Project
	fields      map[string][]store.SchemaField
	collections map[string][]store.Collection
	steps       map[string]store.WorkflowStep
	values      map[string]store.StepValue
	tools       map[string]store.Tool
	sessions    map[string]store.ExtractionSession
	documents   map[string][]store.SessionDocument
	validations map[string]store.FieldValidation
	inbound     map[string]bool
	cards       map[string]store.KanbanCard
	checklist   map[string][]store.ChecklistItem
	comments    map[string][]store.CardComment
	revokedJTI  map[string]bool
	resets      map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:        map[string]store.Organization{},
		users:       map[string]store.User{},
		projects:    map[string]store.Project{},
		fields:      map[string][]store.SchemaField{},
		collections: map[string][]store.Collection{},
		steps:       map[string]store.WorkflowStep{},
		values:      map[string]store.StepValue{},
		tools:       map[string]store.Tool{},
		sessions:    map[string]store.ExtractionSession{},
		documents:   map[string][]store.SessionDocument{},
		validations: map[string]store.FieldValidation{},
		inbound:     map[string]bool{},
		cards:       map[string]store.KanbanCard{},
		checklist:   map[string][]store.ChecklistItem{},
		comments:    map[string][]store.CardComment{},
		revokedJTI:  map[string]bool{},
		resets:      map[string]string{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) GetOrgBySubdomain(_ context.Context, sub string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orgs {
		if o.Subdomain == sub {
			return o, nil
		}
	}
	return store.Organization{}, sql.ErrNoRows
}

func (f *fakeStore) GetOrg(_ context.Context, id string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orgs[id]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return o, nil
}

func (f *fakeStore) InsertOrg(_ context.Context, o store.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgs[o.ID] = o
	return nil
}

func (f *fakeStore) UpdateOrg(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orgs[id]
	if !ok {
		return sql.ErrNoRows
	}
	o.Name = name
	f.orgs[id] = o
	return nil
}

func (f *fakeStore) ListOrgMembers(_ context.Context, orgID string) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.User{}
	for _, u := range f.users {
		if u.OrgID == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTI[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTI[jti], nil
}

func (f *fakeStore) ListProjects(_ context.Context, orgID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Project{}
	for _, p := range f.projects {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetProjectByInboundEmail(_ context.Context, addr string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.InboundEmail == addr {
			return p, nil
		}
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) InsertProject(_ context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateProject(_ context.Context, id, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Name, p.Description = name, description
	f.projects[id] = p
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	return nil
}

func (f *fakeStore) ListSchemaFields(_ context.Context, projectID string) ([]store.SchemaField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields[projectID], nil
}

func (f *fakeStore) ListCollections(_ context.Context, projectID string) ([]store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[projectID], nil
}

func (f *fakeStore) ReplaceSchema(_ context.Context, projectID string, fields []store.SchemaField, cols []store.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[projectID] = fields
	f.collections[projectID] = cols
	return nil
}

func (f *fakeStore) ListSteps(_ context.Context, projectID string) ([]store.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.WorkflowStep{}
	for _, st := range f.steps {
		if st.ProjectID == projectID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStore) GetStep(_ context.Context, id string) (store.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.steps[id]
	if !ok {
		return store.WorkflowStep{}, sql.ErrNoRows
	}
	return st, nil
}

func (f *fakeStore) InsertStep(_ context.Context, st store.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[st.ID] = st
	return nil
}

func (f *fakeStore) UpdateStep(_ context.Context, id, name, stepType string, orderIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.steps[id]
	if !ok {
		return sql.ErrNoRows
	}
	st.StepName, st.StepType, st.OrderIndex = name, stepType, orderIndex
	f.steps[id] = st
	return nil
}

func (f *fakeStore) DeleteStep(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.steps, id)
	return nil
}

func (f *fakeStore) ListStepValues(_ context.Context, stepID string) ([]store.StepValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.StepValue{}
	for _, v := range f.values {
		if v.StepID == stepID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) ListProjectValues(_ context.Context, projectID string) ([]store.StepValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.StepValue{}
	for _, v := range f.values {
		if st, ok := f.steps[v.StepID]; ok && st.ProjectID == projectID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) GetStepValue(_ context.Context, id string) (store.StepValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[id]
	if !ok {
		return store.StepValue{}, sql.ErrNoRows
	}
	return v, nil
}

func (f *fakeStore) InsertStepValue(_ context.Context, v store.StepValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[v.ID] = v
	return nil
}

func (f *fakeStore) UpdateStepValue(_ context.Context, v store.StepValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[v.ID]; !ok {
		return sql.ErrNoRows
	}
	f.values[v.ID] = v
	return nil
}

func (f *fakeStore) DeleteStepValue(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, id)
	return nil
}

func (f *fakeStore) ListTools(_ context.Context, orgID string) ([]store.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Tool{}
	for _, tl := range f.tools {
		if tl.OrgID == orgID {
			out = append(out, tl)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTool(_ context.Context, id string) (store.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tl, ok := f.tools[id]
	if !ok {
		return store.Tool{}, sql.ErrNoRows
	}
	return tl, nil
}

func (f *fakeStore) InsertTool(_ context.Context, tl store.Tool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools[tl.ID] = tl
	return nil
}

func (f *fakeStore) ListSessions(_ context.Context, projectID string) ([]store.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.ExtractionSession{}
	for _, es := range f.sessions {
		if es.ProjectID == projectID {
			out = append(out, es)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (store.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	es, ok := f.sessions[id]
	if !ok {
		return store.ExtractionSession{}, sql.ErrNoRows
	}
	return es, nil
}

func (f *fakeStore) GetSessionByThread(_ context.Context, projectID, threadID string) (store.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, es := range f.sessions {
		if es.ProjectID == projectID && es.EmailThreadID == threadID {
			return es, nil
		}
	}
	return store.ExtractionSession{}, sql.ErrNoRows
}

func (f *fakeStore) InsertSession(_ context.Context, es store.ExtractionSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[es.ID] = es
	return nil
}

func (f *fakeStore) UpdateSessionStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	es, ok := f.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	es.Status = status
	f.sessions[id] = es
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) ListSessionDocuments(_ context.Context, sessionID string) ([]store.SessionDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.documents[sessionID], nil
}

func (f *fakeStore) InsertSessionDocument(_ context.Context, d store.SessionDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[d.SessionID] = append(f.documents[d.SessionID], d)
	return nil
}

func (f *fakeStore) GetValidation(_ context.Context, id string) (store.FieldValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fv, ok := f.validations[id]
	if !ok {
		return store.FieldValidation{}, sql.ErrNoRows
	}
	return fv, nil
}

func (f *fakeStore) ListValidationsBySession(_ context.Context, sessionID string) ([]store.FieldValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.FieldValidation{}
	for _, fv := range f.validations {
		if fv.SessionID == sessionID {
			out = append(out, fv)
		}
	}
	return out, nil
}

func (f *fakeStore) ListValidationsByValue(_ context.Context, sessionID, valueID string) ([]store.FieldValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.FieldValidation{}
	for _, fv := range f.validations {
		if fv.SessionID == sessionID && fv.ValueID == valueID {
			out = append(out, fv)
		}
	}
	return out, nil
}

func (f *fakeStore) ListValidationsByStep(_ context.Context, sessionID, stepID string) ([]store.FieldValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.FieldValidation{}
	for _, fv := range f.validations {
		if fv.SessionID == sessionID && fv.StepID == stepID {
			out = append(out, fv)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateValidationStatus(_ context.Context, id, status, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fv, ok := f.validations[id]
	if !ok {
		return sql.ErrNoRows
	}
	fv.ValidationStatus = status
	fv.ExtractedValue = value
	f.validations[id] = fv
	return nil
}

func (f *fakeStore) ApplyValidationPlan(_ context.Context, sessionID, valueID string, creates []store.FieldValidation, updates []store.ValidationUpdate, deleteIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fv := range creates {
		f.validations[fv.ID] = fv
	}
	for _, u := range updates {
		if fv, ok := f.validations[u.ID]; ok {
			fv.ExtractedValue = u.ExtractedValue
			fv.ValidationStatus = u.ValidationStatus
			f.validations[fv.ID] = fv
		}
	}
	for _, id := range deleteIDs {
		delete(f.validations, id)
	}
	return nil
}

func (f *fakeStore) HasInboundEmail(_ context.Context, projectID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inbound[projectID+"/"+messageID], nil
}

func (f *fakeStore) InsertInboundEmail(_ context.Context, m store.InboundEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound[m.ProjectID+"/"+m.MessageID] = true
	return nil
}

func (f *fakeStore) ListKanbanCards(_ context.Context, sessionID string) ([]store.KanbanCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.KanbanCard{}
	for _, c := range f.cards {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetKanbanCard(_ context.Context, id string) (store.KanbanCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[id]
	if !ok {
		return store.KanbanCard{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) InsertKanbanCard(_ context.Context, c store.KanbanCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[c.ID] = c
	return nil
}

func (f *fakeStore) UpdateKanbanCard(_ context.Context, id, title, description, lane string, orderIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Title, c.Description, c.Lane, c.OrderIndex = title, description, lane, orderIndex
	f.cards[id] = c
	return nil
}

func (f *fakeStore) DeleteKanbanCard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cards, id)
	return nil
}

func (f *fakeStore) ListChecklistItems(_ context.Context, cardID string) ([]store.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checklist[cardID], nil
}

func (f *fakeStore) InsertChecklistItem(_ context.Context, it store.ChecklistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checklist[it.CardID] = append(f.checklist[it.CardID], it)
	return nil
}

func (f *fakeStore) UpdateChecklistItem(_ context.Context, itemID, text string, done bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for cardID, items := range f.checklist {
		for i, it := range items {
			if it.ID == itemID {
				items[i].Text = text
				items[i].Done = done
				f.checklist[cardID] = items
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListCardComments(_ context.Context, cardID string) ([]store.CardComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[cardID], nil
}

func (f *fakeStore) InsertCardComment(_ context.Context, cm store.CardComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[cm.CardID] = append(f.comments[cm.CardID], cm)
	return nil
}

// authpw.UserStore

func (f *fakeStore) GetUserByEmail(_ context.Context, orgID, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.OrgID == orgID && u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

// fakeRefresh is an in-memory refreshStore.
type fakeRefresh struct {
	mu       sync.Mutex
	sessions map[string]store.User
}

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{sessions: map[string]store.User{}}
}

func (f *fakeRefresh) SaveRefreshSession(_ context.Context, tokenHash string, u store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = u
	return nil
}

func (f *fakeRefresh) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeRefresh) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

// fakeBlob is an in-memory blobStore.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (f *fakeBlob) Put(_ context.Context, key, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return data, nil
}

// fakeEngine satisfies columnExtractor.
type fakeEngine struct {
	result extract.ColumnResult
	err    error
	got    []extract.ColumnRequest
}

func (f *fakeEngine) ExtractColumn(_ context.Context, req extract.ColumnRequest) (extract.ColumnResult, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

// fakeModel satisfies tool.Model.
type fakeModel struct {
	answer string
	err    error
}

func (f *fakeModel) Generate(_ context.Context, _, _, _ string) (string, error) {
	return f.answer, f.err
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		BaseDomain: "extrapl.test",
		BaseURL:    "https://extrapl.test",
	}
}

// seedFakeStore loads two orgs so cross-tenant checks have a target.
func seedFakeStore(fs *fakeStore) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)

	fs.orgs["org-1"] = store.Organization{ID: "org-1", Name: "Acme", Subdomain: "acme"}
	fs.orgs["org-2"] = store.Organization{ID: "org-2", Name: "Rival", Subdomain: "rival"}

	fs.users["user-1"] = store.User{
		ID: "user-1", OrgID: "org-1", DisplayName: "Ada",
		Email: "ada@acme.test", PasswordHash: string(hash),
		Role: "admin", IsEmailVerified: true,
	}
	fs.users["user-2"] = store.User{
		ID: "user-2", OrgID: "org-1", DisplayName: "Vic",
		Email: "vic@acme.test", PasswordHash: string(hash),
		Role: "viewer", IsEmailVerified: true,
	}

	fs.projects["proj-1"] = store.Project{
		ID: "proj-1", OrgID: "org-1", Name: "Invoices",
		InboundEmail: "invoices@extrapl.test", CreatedBy: "user-1",
	}
	fs.projects["proj-2"] = store.Project{ID: "proj-2", OrgID: "org-2", Name: "Other"}

	fs.sessions["sess-1"] = store.ExtractionSession{
		ID: "sess-1", ProjectID: "proj-1", Name: "March batch", Status: "open", Source: "upload",
	}
	fs.sessions["sess-2"] = store.ExtractionSession{
		ID: "sess-2", ProjectID: "proj-2", Name: "Foreign", Status: "open", Source: "upload",
	}

	fs.validations["fv-1"] = store.FieldValidation{
		ID: "fv-1", SessionID: "sess-1", StepID: "step-1", ValueID: "val-1",
		ExtractedValue: "INV-1", ValidationStatus: "pending", IdentifierID: "r1",
	}
	fs.validations["fv-2"] = store.FieldValidation{
		ID: "fv-2", SessionID: "sess-2", StepID: "step-9", ValueID: "val-9",
		ExtractedValue: "foreign", ValidationStatus: "pending", IdentifierID: "r1",
	}
}

type testApp struct {
	fs      *fakeStore
	refresh *fakeRefresh
	engine  *fakeEngine
	blobs   *fakeBlob
	svc     *Service
	server  *HTTPServer
}

func newTestApp() *testApp {
	fs := newFakeStore()
	seedFakeStore(fs)
	refresh := newFakeRefresh()
	engine := &fakeEngine{}
	blobs := newFakeBlob()
	svc := New(testConfig(), Deps{
		Store:   fs,
		Refresh: refresh,
		AuthPW:  authpw.NewService(fs),
		Engine:  engine,
		Blobs:   blobs,
	})
	return &testApp{
		fs:      fs,
		refresh: refresh,
		engine:  engine,
		blobs:   blobs,
		svc:     svc,
		server:  NewHTTPServer(svc, "*"),
	}
}

func (a *testApp) login(userID string) Session {
	sess, err := a.svc.CreateSession(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return sess
}
