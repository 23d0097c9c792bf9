// Package drive uploads archived replays to Google Drive.
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/onnwee/obs-relay/archive"
	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/telemetry"
)

// DefaultScopes limits access to files this app creates.
var DefaultScopes = []string{gdrive.DriveFileScope}

// Credentials supplies a valid OAuth2 token.
type Credentials interface {
	GetValidCredential(ctx context.Context) (*oauth2.Token, error)
}

// Uploader implements archive.Sink with files.create.
type Uploader struct {
	creds    Credentials
	folderID string
	endpoint string
	base     *http.Client
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithEndpoint overrides the API base URL (tests).
func WithEndpoint(u string) Option { return func(up *Uploader) { up.endpoint = u } }

// WithHTTPClient sets the transport used beneath the OAuth2 client.
func WithHTTPClient(c *http.Client) Option { return func(up *Uploader) { up.base = c } }

// New returns an uploader. folderID may be empty to upload to the Drive root.
func New(creds Credentials, folderID string, opts ...Option) *Uploader {
	u := &Uploader{creds: creds, folderID: folderID}
	for _, o := range opts {
		o(u)
	}
	return u
}

// FolderID returns the destination folder, if any.
func (u *Uploader) FolderID() string { return u.folderID }

func (u *Uploader) service(ctx context.Context, tok *oauth2.Token) (*gdrive.Service, error) {
	if u.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, u.base)
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)))}
	if u.endpoint != "" {
		opts = append(opts, option.WithEndpoint(u.endpoint))
	}
	return gdrive.NewService(ctx, opts...)
}

// Upload sends the file at path and returns its Drive id and view link.
func (u *Uploader) Upload(ctx context.Context, path string) (archive.Upload, error) {
	const op = "drive.upload"
	tok, err := u.creds.GetValidCredential(ctx)
	if err != nil {
		if fault.Is(err, fault.AuthFailed) {
			return archive.Upload{}, err
		}
		return archive.Upload{}, fault.New(fault.AuthFailed, op, err)
	}
	svc, err := u.service(ctx, tok)
	if err != nil {
		return archive.Upload{}, fault.New(fault.UploadFailed, op, fmt.Errorf("create drive client: %w", err))
	}

	f, err := os.Open(path)
	if err != nil {
		return archive.Upload{}, fault.New(fault.UploadFailed, op, fmt.Errorf("open file: %w", err))
	}
	defer f.Close()
	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	meta := &gdrive.File{Name: filepath.Base(path)}
	if u.folderID != "" {
		meta.Parents = []string{u.folderID}
	}
	start := time.Now()
	res, err := svc.Files.Create(meta).
		Media(f, googleapi.ContentType(contentType(path))).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return archive.Upload{}, fault.New(fault.UploadFailed, op, fmt.Errorf("drive upload: %w", err))
	}
	if res.Id == "" {
		return archive.Upload{}, fault.Newf(fault.UploadFailed, op, "drive upload: empty id")
	}
	telemetry.RecordUpload(time.Since(start), size)
	link := res.WebViewLink
	if link == "" {
		link = "https://drive.google.com/file/d/" + res.Id + "/view"
	}
	slog.Info("replay uploaded",
		slog.String("file", meta.Name),
		slog.String("drive_id", res.Id),
		slog.Int64("bytes", size),
		slog.Duration("took", time.Since(start)),
		slog.String("component", "drive"))
	return archive.Upload{ID: res.Id, Link: link}, nil
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".flv":
		return "video/x-flv"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// OAuthConfig builds the consent configuration. A client secrets file, when
// given, takes precedence over the explicit client id and secret.
func OAuthConfig(clientID, clientSecret, redirectURL, secretsFile string, scopes []string) (*oauth2.Config, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if secretsFile != "" {
		b, err := os.ReadFile(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("read client secrets: %w", err)
		}
		cfg, err := google.ConfigFromJSON(b, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse client secrets: %w", err)
		}
		if redirectURL != "" {
			cfg.RedirectURL = redirectURL
		}
		return cfg, nil
	}
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google client id/secret not configured")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}, nil
}

// ParseScopes accepts comma or space separated scopes.
func ParseScopes(s string) []string {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) == 0 {
		return DefaultScopes
	}
	return fields
}
