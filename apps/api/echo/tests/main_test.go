package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/mpkschool/backend/apps/api/echo"
	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/auth"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/realtime"
	"github.com/mpkschool/backend/core/user"
	"github.com/mpkschool/backend/services/logger"
	"github.com/mpkschool/backend/services/metrics"
	"github.com/mpkschool/backend/storage"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type fixture struct {
	app     *Server
	store   *storage.Storage
	tokens  *auth.TokenIssuer
	hub     *realtime.Hub
	metrics *metricsvc.Collector
}

func setup(t *testing.T, confs ...func(*core.Config)) *fixture {
	return setupWith(t, nil, confs...)
}

// setupWith lets `wrap` decorate the message repository the services use.
func setupWith(t *testing.T, wrap func(chat.Repository) chat.Repository, confs ...func(*core.Config)) *fixture {
	conf := core.NewTestConfig()
	for _, fn := range confs {
		fn(conf)
	}
	logger := logsvc.NewDiscardLogger(conf)

	// set up storage & services
	store := storage.NewMemory()
	usrSvc := user.NewService(store.Users)
	var msgRepo chat.Repository = store.Messages
	if wrap != nil {
		msgRepo = wrap(msgRepo)
	}
	chatSvc := chat.NewService(msgRepo, conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)

	tokens := auth.NewTokenIssuer(conf)
	collector := metricsvc.NewCollector()
	hub := realtime.NewHub(realtime.HubDeps{
		Conf:       conf,
		Logger:     logger,
		ChatSvc:    chatSvc,
		Observer:   collector,
		Validate:   validate,
		Translator: translator,
	})

	// set up server
	app := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		ChatSvc:    chatSvc,
		Resolver:   auth.NewResolver(tokens, usrSvc),
		Hub:        hub,
		Metrics:    collector,
		Storage:    store,
		Validate:   validate,
		Translator: translator,
	})
	return &fixture{app: app, store: store, tokens: tokens, hub: hub, metrics: collector}
}

// messageRepo behaves like a network backed repository: writes fail once the context is done.
// `hangUp` runs after every read and a non nil `down` fails every call.
type messageRepo struct {
	chat.Repository
	hangUp func()
	down   error
}

func (r *messageRepo) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if r.down != nil {
		return chat.Message{}, r.down
	}
	msg, err := r.Repository.GetMessage(ctx, id)
	if r.hangUp != nil {
		r.hangUp()
	}
	return msg, err
}

func (r *messageRepo) write(ctx context.Context) error {
	if r.down != nil {
		return r.down
	}
	return ctx.Err()
}

func (r *messageRepo) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if err := r.write(ctx); err != nil {
		return chat.Message{}, err
	}
	return r.Repository.CreateMessage(ctx, msg)
}

func (r *messageRepo) AddDeletedFor(ctx context.Context, id, identityID string) error {
	if err := r.write(ctx); err != nil {
		return err
	}
	return r.Repository.AddDeletedFor(ctx, id, identityID)
}

func (r *messageRepo) DeleteMessage(ctx context.Context, id string) error {
	if err := r.write(ctx); err != nil {
		return err
	}
	return r.Repository.DeleteMessage(ctx, id)
}

func (r *messageRepo) QueryMessages(ctx context.Context, filter chat.QueryFilter) ([]chat.Message, error) {
	if r.down != nil {
		return nil, r.down
	}
	return r.Repository.QueryMessages(ctx, filter)
}

func (f *fixture) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	f.app.ServeHTTP(rec, req)
}

func (f *fixture) getToken(t *testing.T, usr user.User) string {
	token, err := f.tokens.TokenFor(usr)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !ok1 || !ok2 {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode() failed: %v; body %s", err, rec.Body.String())
	}
}
