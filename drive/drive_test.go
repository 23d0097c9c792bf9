package drive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/obs-relay/fault"
)

type staticCreds struct {
	tok *oauth2.Token
	err error
}

func (s staticCreds) GetValidCredential(context.Context) (*oauth2.Token, error) { return s.tok, s.err }

type captured struct {
	auth    string
	name    string
	parents []string
	body    string
}

func fakeDrive(t *testing.T, id string, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/files") {
			http.NotFound(w, r)
			return
		}
		c.auth = r.Header.Get("Authorization")
		if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && params["boundary"] != "" {
			mr := multipart.NewReader(r.Body, params["boundary"])
			if part, err := mr.NextPart(); err == nil {
				var meta struct {
					Name    string   `json:"name"`
					Parents []string `json:"parents"`
				}
				_ = json.NewDecoder(part).Decode(&meta)
				c.name, c.parents = meta.Name, meta.Parents
			}
			if part, err := mr.NextPart(); err == nil {
				b, _ := io.ReadAll(part)
				c.body = string(b)
			}
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"insufficient permissions"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "webViewLink": "https://drive.google.com/file/d/" + id + "/view"})
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func replay(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "replay.mp4")
	if err := os.WriteFile(p, []byte("mp4-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func validCreds() staticCreds {
	return staticCreds{tok: &oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}}
}

func TestUploadSendsFileToFolder(t *testing.T) {
	srv, c := fakeDrive(t, "abc123", http.StatusOK)
	u := New(validCreds(), "folder-9", WithEndpoint(srv.URL+"/"))
	if u.FolderID() != "folder-9" {
		t.Fatalf("folder = %q", u.FolderID())
	}

	up, err := u.Upload(context.Background(), replay(t))
	if err != nil {
		t.Fatal(err)
	}
	if up.ID != "abc123" || !strings.Contains(up.Link, "abc123") {
		t.Fatalf("got %+v", up)
	}
	if c.auth != "Bearer tok-1" {
		t.Fatalf("authorization = %q", c.auth)
	}
	if c.name != "replay.mp4" || len(c.parents) != 1 || c.parents[0] != "folder-9" {
		t.Fatalf("metadata name=%q parents=%v", c.name, c.parents)
	}
	if c.body != "mp4-bytes" {
		t.Fatalf("body = %q", c.body)
	}
}

func TestUploadEmptyIDFails(t *testing.T) {
	srv, _ := fakeDrive(t, "", http.StatusOK)
	u := New(validCreds(), "", WithEndpoint(srv.URL+"/"))
	if _, err := u.Upload(context.Background(), replay(t)); !fault.Is(err, fault.UploadFailed) {
		t.Fatalf("want upload_failed, got %v", err)
	}
}

func TestUploadServerError(t *testing.T) {
	srv, _ := fakeDrive(t, "x", http.StatusForbidden)
	u := New(validCreds(), "", WithEndpoint(srv.URL+"/"))
	if _, err := u.Upload(context.Background(), replay(t)); !fault.Is(err, fault.UploadFailed) {
		t.Fatalf("want upload_failed, got %v", err)
	}
}

func TestUploadCredentialFailure(t *testing.T) {
	srv, c := fakeDrive(t, "x", http.StatusOK)
	u := New(staticCreds{err: errors.New("consent declined")}, "", WithEndpoint(srv.URL+"/"))
	if _, err := u.Upload(context.Background(), replay(t)); !fault.Is(err, fault.AuthFailed) {
		t.Fatalf("want auth_failed, got %v", err)
	}
	if c.auth != "" {
		t.Fatal("no request should reach the sink without a credential")
	}
}

func TestUploadMissingFile(t *testing.T) {
	srv, _ := fakeDrive(t, "x", http.StatusOK)
	u := New(validCreds(), "", WithEndpoint(srv.URL+"/"))
	if _, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.mp4")); !fault.Is(err, fault.UploadFailed) {
		t.Fatalf("want upload_failed, got %v", err)
	}
}

func TestOAuthConfig(t *testing.T) {
	if _, err := OAuthConfig("", "", "", "", nil); err == nil {
		t.Fatal("expected error without client credentials")
	}
	cfg, err := OAuthConfig("id", "secret", "http://localhost:8080/auth/drive/callback", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scopes[0] != DefaultScopes[0] || cfg.RedirectURL == "" {
		t.Fatalf("got %+v", cfg)
	}

	secrets := filepath.Join(t.TempDir(), "client_secret.json")
	_ = os.WriteFile(secrets, []byte(`{"installed":{"client_id":"cid","client_secret":"cs","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`), 0o600)
	cfg, err = OAuthConfig("", "", "http://localhost:9999/cb", secrets, []string{"scope-a"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "cid" || cfg.RedirectURL != "http://localhost:9999/cb" || cfg.Scopes[0] != "scope-a" {
		t.Fatalf("got %+v", cfg)
	}
}

func TestParseScopes(t *testing.T) {
	got := ParseScopes("a, b c")
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
	if ParseScopes("")[0] != DefaultScopes[0] {
		t.Fatal("expected default scope")
	}
}

func TestContentType(t *testing.T) {
	if contentType("x.MKV") != "video/x-matroska" {
		t.Fatal("mkv")
	}
	if contentType("x.unknownext") != "application/octet-stream" {
		t.Fatal("fallback")
	}
}
