// Package main provides a CLI tool to seed or re-encode the Google Drive credential.
//
// It imports a token JSON file into the configured token store, or seals an
// existing plaintext credential with ENCRYPTION_KEY.
//
// Usage:
//
//	import-token -in token.json [--dry-run]
//	import-token --seal-existing [--dry-run]
//	import-token --generate-key
//
// Accepted token files are golang.org/x/oauth2 token JSON ("access_token")
// and google-auth authorized-user JSON ("token"), as written by other tools.
//
// Environment Variables:
//
//	TOKEN_STORE: file (default) or postgres
//	GOOGLE_TOKEN_FILE: token cache path for TOKEN_STORE=file
//	DB_DSN: Database connection string (TOKEN_STORE=postgres)
//	ENCRYPTION_KEY: Base64-encoded 32-byte key; tokens are sealed when set
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/obs-relay/config"
	"github.com/onnwee/obs-relay/crypto"
	"github.com/onnwee/obs-relay/db"
	"github.com/onnwee/obs-relay/oauth"
)

const credentialName = "google_drive"

func main() {
	in := flag.String("in", "", "Token JSON file to import")
	sealExisting := flag.Bool("seal-existing", false, "Encrypt the stored plaintext credential with ENCRYPTION_KEY")
	dryRun := flag.Bool("dry-run", false, "Show what would be written without making changes")
	generateKey := flag.Bool("generate-key", false, "Print a new base64 ENCRYPTION_KEY and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *generateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			slog.Error("failed to generate key", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}
	if (*in != "") == *sealExisting {
		slog.Error("exactly one of -in or --seal-existing is required")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	plain, closeFn, err := openBlobs(ctx, cfg)
	if err != nil {
		slog.Error("failed to open token store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeFn()

	var sealer crypto.Sealer
	if cfg.EncryptionKey != "" {
		if sealer, err = crypto.NewAESSealer(cfg.EncryptionKey); err != nil {
			slog.Error("failed to initialize sealer", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if *sealExisting {
		if sealer == nil {
			slog.Error("ENCRYPTION_KEY environment variable is required for --seal-existing")
			os.Exit(1)
		}
		err = sealStored(ctx, plain, sealer, *dryRun)
	} else {
		var tok *oauth2.Token
		tok, err = readTokenFile(*in)
		if err == nil {
			target := plain
			if sealer != nil {
				target = &oauth.SealedStore{Inner: plain, Sealer: sealer}
			}
			err = importToken(ctx, target, tok, *dryRun)
		}
	}
	if err != nil {
		slog.Error("import failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("done", slog.String("token_store", cfg.TokenStore), slog.Bool("dry_run", *dryRun))
}

// openBlobs returns the unsealed backend selected by TOKEN_STORE.
func openBlobs(ctx context.Context, cfg *config.Config) (oauth.BlobStore, func(), error) {
	if cfg.TokenStore != config.TokenStorePostgres {
		return oauth.NewFileStore(cfg.GoogleTokenFile), func() {}, nil
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	return db.NewCredentialStore(database, credentialName), func() { closeDB(database) }, nil
}

func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		slog.Warn("failed to close database", slog.Any("error", err))
	}
}

// tokenFile covers both oauth2.Token JSON and google-auth authorized-user JSON.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Expiry       string `json:"expiry"`
}

func readTokenFile(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return parseToken(b)
}

func parseToken(b []byte) (*oauth2.Token, error) {
	var f tokenFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	tok := &oauth2.Token{AccessToken: f.AccessToken, RefreshToken: f.RefreshToken, TokenType: f.TokenType}
	if tok.AccessToken == "" {
		tok.AccessToken = f.Token
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file has neither an access token nor a refresh token")
	}
	if tok.AccessToken == "" {
		// refresh-only import: an expired placeholder forces a refresh on first use
		tok.AccessToken = "pending-refresh"
		tok.Expiry = time.Unix(1, 0)
	}
	if f.Expiry != "" {
		t, err := time.Parse(time.RFC3339Nano, f.Expiry)
		if err != nil {
			// google-auth writes naive UTC timestamps
			if t, err = time.Parse(time.RFC3339Nano, f.Expiry+"Z"); err != nil {
				return nil, fmt.Errorf("parse expiry %q: %w", f.Expiry, err)
			}
		}
		tok.Expiry = t
	}
	return tok, nil
}

func importToken(ctx context.Context, blobs oauth.BlobStore, tok *oauth2.Token, dryRun bool) error {
	logger := slog.With(slog.Bool("refresh_token", tok.RefreshToken != ""), slog.Time("expiry", tok.Expiry))
	if dryRun {
		logger.Info("would import token (dry-run)")
		return nil
	}
	if err := oauth.NewStore(blobs, nil, nil).Install(ctx, tok); err != nil {
		return err
	}
	logger.Info("imported token")
	return nil
}

// sealStored re-writes a plaintext credential through the sealer.
func sealStored(ctx context.Context, plain oauth.BlobStore, sealer crypto.Sealer, dryRun bool) error {
	blob, err := plain.Load(ctx)
	if errors.Is(err, oauth.ErrNoBlob) {
		slog.Info("no stored credential found to seal")
		return nil
	}
	if err != nil {
		return err
	}
	if !json.Valid(blob) {
		if _, err := sealer.Open(blob); err == nil {
			slog.Info("stored credential is already sealed")
			return nil
		}
		return errors.New("stored credential is neither plaintext JSON nor sealed with this key")
	}
	if dryRun {
		slog.Info("would seal stored credential (dry-run)", slog.Int("bytes", len(blob)))
		return nil
	}
	if err := (&oauth.SealedStore{Inner: plain, Sealer: sealer}).Save(ctx, blob); err != nil {
		return fmt.Errorf("save sealed credential: %w", err)
	}
	slog.Info("sealed stored credential")
	return nil
}
