// internal/platform/di/infra.go
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/ehgus2390/chineseapp/internal/adapters/out/secrets"
	"github.com/ehgus2390/chineseapp/internal/infra/config"
)

// Infra owns the external clients.
// - Firestore is strict when STORE_BACKEND=firestore
// - GCS is strict when BLOB_BUCKET is set
// - Firebase Auth/Messaging, Secret Manager and Play are best-effort (warn + continue)
type Infra struct {
	Config *config.Config
	Log    *zap.Logger

	Firestore     *firestore.Client
	GCS           *storage.Client
	FirebaseApp   *firebase.App
	FirebaseAuth  *firebaseauth.Client
	Messaging     *messaging.Client
	SecretManager *secretmanager.Client
	Secrets       *secrets.Provider
	Play          *androidpublisher.Service

	// SendGridAPIKey is resolved once, from env or Secret Manager.
	SendGridAPIKey string
}

// NewInfra dials every client cfg asks for.
func NewInfra(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Infra, error) {
	if cfg == nil {
		return nil, errors.New("di.infra: config is nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("infra")
	inf := &Infra{Config: cfg, Log: log}

	credFile := strings.TrimSpace(cfg.FirestoreCredentialsFile)
	if credFile == "" {
		credFile = strings.TrimSpace(cfg.GCPCreds)
	}
	var clientOpts []option.ClientOption
	if credFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credFile))
		log.Info("using credentials file for GCP clients", zap.String("file", redactPath(credFile)))
	} else {
		log.Info("using application default credentials")
	}

	// 1) Firestore (strict)
	if cfg.StoreBackend == config.BackendFirestore {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("di.infra: firestore.NewClient failed (project=%s): %w", cfg.ProjectID, err)
		}
		inf.Firestore = fsClient
		log.Info("firestore connected", zap.String("project", cfg.ProjectID))
	} else {
		log.Warn("STORE_BACKEND=memory: documents are not persisted")
	}

	// 2) GCS (strict when a bucket is configured)
	if cfg.BlobBucket != "" {
		gcsClient, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			_ = inf.Close()
			return nil, fmt.Errorf("di.infra: storage.NewClient failed: %w", err)
		}
		inf.GCS = gcsClient
		log.Info("gcs client initialized", zap.String("bucket", cfg.BlobBucket))
	} else {
		log.Warn("BLOB_BUCKET is empty: purge will not delete uploads")
	}

	// 3) Firebase App/Auth/Messaging (best-effort)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		log.Warn("firebase app init failed", zap.Error(err))
	} else {
		inf.FirebaseApp = fbApp
		if authClient, err := fbApp.Auth(ctx); err != nil {
			log.Warn("firebase auth init failed (callables and purge disabled)", zap.Error(err))
		} else {
			inf.FirebaseAuth = authClient
		}
		if msgClient, err := fbApp.Messaging(ctx); err != nil {
			log.Warn("firebase messaging init failed (push disabled)", zap.Error(err))
		} else {
			inf.Messaging = msgClient
		}
	}

	// 4) Secret Manager (best-effort, only when a secret is referenced)
	if cfg.SendGridAPIKeySecret != "" || cfg.PlayCredentialsSecret != "" {
		sm, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			log.Warn("secretmanager.NewClient failed (secret-backed features disabled)", zap.Error(err))
		} else {
			inf.SecretManager = sm
			inf.Secrets = secrets.NewProvider(sm, cfg.ProjectID)
		}
	}

	// 5) SendGrid key
	inf.SendGridAPIKey = cfg.SendGridAPIKey
	if inf.SendGridAPIKey == "" && cfg.SendGridAPIKeySecret != "" {
		key, err := inf.Secrets.AccessString(ctx, cfg.SendGridAPIKeySecret)
		if err != nil {
			log.Warn("sendgrid key unavailable (moderation alerts disabled)", zap.Error(err))
		} else {
			inf.SendGridAPIKey = key
		}
	}

	// 6) Play Developer API (best-effort)
	if cfg.PlayPackageName != "" {
		playOpts := []option.ClientOption{option.WithScopes(androidpublisher.AndroidpublisherScope)}
		if cfg.PlayCredentialsSecret != "" {
			creds, err := inf.Secrets.Access(ctx, cfg.PlayCredentialsSecret)
			if err != nil {
				log.Warn("play credentials unavailable", zap.Error(err))
			} else {
				playOpts = append(playOpts, option.WithCredentialsJSON(creds))
			}
		} else {
			playOpts = append(playOpts, clientOpts...)
		}
		svc, err := androidpublisher.NewService(ctx, playOpts...)
		if err != nil {
			log.Warn("androidpublisher.NewService failed (google_play purchases disabled)", zap.Error(err))
		} else {
			inf.Play = svc
		}
	}

	return inf, nil
}

func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	if i.Firestore != nil {
		_ = i.Firestore.Close()
	}
	if i.GCS != nil {
		_ = i.GCS.Close()
	}
	if i.SecretManager != nil {
		_ = i.SecretManager.Close()
	}
	return nil
}

// redactPath keeps only the last path segment.
func redactPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	last := parts[len(parts)-1]
	if last == "" {
		return "***"
	}
	return "***/" + last
}
