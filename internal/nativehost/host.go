// Package nativehost speaks the browser native-messaging protocol on top of
// the service facade. A browser extension unlocks once, receives a session
// token, and must present the token with a fresh nonce on every request.
package nativehost

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/melvsalonga/securepass/internal/service"
	"github.com/melvsalonga/securepass/internal/session"
	"github.com/melvsalonga/securepass/internal/sitematch"
	"github.com/melvsalonga/securepass/internal/vault"
)

// Version is reported by the health request.
const Version = "0.2.0"

const bufferSize = 1 << 16

var (
	errUnauthorized  = errors.New("unauthorized")
	errNonceReplayed = errors.New("nonce replayed")
)

// Response is the frame written back for every request.
type Response struct {
	OK      bool   `json:"ok"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

type unlockRequest struct {
	Username       string `json:"username"`
	MasterPassword string `json:"masterPassword"`
}

type sessionRequest struct {
	SessionToken string `json:"sessionToken"`
	Nonce        string `json:"nonce"`
}

type credentialsRequest struct {
	sessionRequest
	URL      string `json:"url"`
	Username string `json:"username"`
}

type saveRequest struct {
	sessionRequest
	URL      string `json:"url"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type phishingRequest struct {
	URL string `json:"url"`
}

// Credential is what autofill receives.
type Credential struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokens holds the single browser session. It lives exactly as long as the
// gate stays unlocked.
type tokens struct {
	mu     sync.Mutex
	token  string
	nonces map[string]struct{}
}

func (t *tokens) establish() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = base64.StdEncoding.EncodeToString(buf)
	t.nonces = make(map[string]struct{})
	return t.token, nil
}

func (t *tokens) validate(token, nonce string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" || token == "" || nonce == "" {
		return errUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(t.token), []byte(token)) != 1 {
		return errUnauthorized
	}
	if _, seen := t.nonces[nonce]; seen {
		return errNonceReplayed
	}
	t.nonces[nonce] = struct{}{}
	return nil
}

func (t *tokens) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.nonces = nil
}

// Host dispatches native-messaging requests.
type Host struct {
	svc    *service.Service
	log    *zap.SugaredLogger
	tokens tokens
	unsub  func()
}

// New returns a Host. The browser token is dropped whenever the gate locks.
func New(svc *service.Service, logger *zap.SugaredLogger) *Host {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Host{svc: svc, log: logger}
	h.unsub = svc.Gate().Subscribe(func(ev session.Event) error {
		if ev.State == session.Locked {
			h.tokens.clear()
		}
		return nil
	})
	return h
}

// Close detaches the host from the session gate.
func (h *Host) Close() {
	h.unsub()
	h.tokens.clear()
}

// Run serves frames from r to w until EOF or ctx is done.
func (h *Host) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReaderSize(r, bufferSize)
	writer := bufio.NewWriterSize(w, bufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := ReadFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := WriteFrame(writer, h.Handle(payload)); err != nil {
			return err
		}
	}
}

func badJSON() Response {
	return Response{Code: "BAD_JSON", Message: "invalid json"}
}

func sessionError(err error) Response {
	if errors.Is(err, errNonceReplayed) {
		return Response{Code: "NONCE_REPLAY"}
	}
	return Response{Code: "UNAUTHORIZED"}
}

func fromResult(res service.Result) Response {
	if res.Success {
		return Response{OK: true, Data: res.Data}
	}
	return Response{Code: strings.ToUpper(res.Code), Message: res.Error}
}

// Handle answers one request payload.
func (h *Host) Handle(payload []byte) Response {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return badJSON()
	}

	switch env.Type {
	case "health":
		return Response{OK: true, Data: map[string]string{"version": Version}}
	case "unlock":
		var req unlockRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return badJSON()
		}
		return h.unlock(req)
	case "lock":
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return badJSON()
		}
		if err := h.tokens.validate(req.SessionToken, req.Nonce); err != nil {
			return sessionError(err)
		}
		return fromResult(h.svc.Lock())
	case "getCredentials":
		var req credentialsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return badJSON()
		}
		return h.credentials(req)
	case "saveCredential":
		var req saveRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return badJSON()
		}
		return h.save(req)
	case "phishingCheck":
		var req phishingRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return badJSON()
		}
		return Response{OK: true, Data: sitematch.Check(req.URL, nil)}
	default:
		return Response{Code: "UNSUPPORTED", Message: "unsupported command"}
	}
}

func (h *Host) unlock(req unlockRequest) Response {
	if strings.TrimSpace(req.Username) == "" || req.MasterPassword == "" {
		return Response{Code: "BAD_REQUEST", Message: "username and master password required"}
	}
	h.tokens.clear()

	res := h.svc.Authenticate(req.Username, req.MasterPassword)
	if !res.Success {
		h.log.Warnw("browser unlock rejected", "username", req.Username, "code", res.Code)
		return Response{Code: "UNLOCK_FAILED", Message: "unlock failed"}
	}
	token, err := h.tokens.establish()
	if err != nil {
		h.svc.Lock()
		return Response{Code: "INTERNAL", Message: "unlock failed"}
	}
	data := map[string]any{"token": token}
	if st, ok := res.Data.(service.AuthStatus); ok && st.Warning != "" {
		data["warning"] = st.Warning
	}
	return Response{OK: true, Data: data}
}

// lookup runs the facade's site match and turns an unsafe verdict into a refusal.
func (h *Host) lookup(pageURL string) (service.SiteLookup, *Response) {
	res := h.svc.FindRecordsForURL(pageURL)
	if !res.Success {
		r := fromResult(res)
		return service.SiteLookup{}, &r
	}
	found, _ := res.Data.(service.SiteLookup)
	if !found.Verdict.OK {
		return found, &Response{Code: "PHISHING", Data: found.Verdict}
	}
	return found, nil
}

func (h *Host) credentials(req credentialsRequest) Response {
	if err := h.tokens.validate(req.SessionToken, req.Nonce); err != nil {
		return sessionError(err)
	}
	if req.URL == "" {
		return Response{Code: "BAD_REQUEST", Message: "url required"}
	}
	found, refusal := h.lookup(req.URL)
	if refusal != nil {
		return *refusal
	}

	items := make([]Credential, 0, len(found.Records))
	for _, r := range found.Records {
		if req.Username != "" && !strings.EqualFold(r.Username, req.Username) {
			continue
		}
		items = append(items, Credential{ID: r.ID, Title: r.Title, Username: r.Username, Password: r.Password})
	}
	return Response{OK: true, Data: map[string]any{"items": items}}
}

func (h *Host) save(req saveRequest) Response {
	if err := h.tokens.validate(req.SessionToken, req.Nonce); err != nil {
		return sessionError(err)
	}
	if req.URL == "" || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return Response{Code: "BAD_REQUEST", Message: "url, username and password required"}
	}
	found, refusal := h.lookup(req.URL)
	if refusal != nil {
		return *refusal
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = found.Verdict.ETLD1
	}
	return fromResult(h.svc.AddRecord(vault.RecordInput{
		Title:    title,
		Username: req.Username,
		Password: req.Password,
		URL:      req.URL,
	}))
}
