package signalling

import (
	"context"
	"fmt"
	"log"
	"time"

	"blockdrop/internal/config"
	"blockdrop/pkg/utils"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

const (
	sessionsPath       = "sessions"
	answerPollInterval = 5 * time.Second
	answerPollAttempts = 24
	codeAttempts       = 3
)

// Session is the record a sender publishes under its code. Only vanilla ICE:
// offer and answer carry every candidate.
type Session struct {
	ID        string `json:"sessionId"`
	Offer     string `json:"offer"`
	Answer    string `json:"answer"`
	CreatedAt int64  `json:"createdAt"`
}

// FirebaseClient stores sessions in the Firebase Realtime Database
type FirebaseClient struct {
	ref *db.Ref
}

func NewFirebaseClient(ctx context.Context, cfg *config.FirebaseConfig) (*FirebaseClient, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseClient{ref: client.NewRef(sessionsPath)}, nil
}

func (f *FirebaseClient) CreateSession(ctx context.Context, offer string) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := utils.GenerateCode(utils.SessionCodeLength)
		if err != nil {
			return "", fmt.Errorf("error generating session code: %w", err)
		}

		if _, err := f.getSession(ctx, code); err == nil {
			log.Printf("Session code %s already in use, generating another", code)
			continue
		}

		session := Session{ID: code, Offer: offer, CreatedAt: time.Now().Unix()}
		if err := f.ref.Child(code).Set(ctx, session); err != nil {
			return "", fmt.Errorf("error creating session: %w", err)
		}

		log.Println("Session created successfully")
		return code, nil
	}
	return "", fmt.Errorf("no free session code after %d attempts", codeAttempts)
}

func (f *FirebaseClient) UpdateAnswer(ctx context.Context, sessionID, answer string) error {
	if _, err := f.getSession(ctx, sessionID); err != nil {
		return err
	}

	if err := f.ref.Child(sessionID).Update(ctx, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("error updating answer for session %s: %w", sessionID, err)
	}
	return nil
}

// WaitForAnswer polls the session until the receiver has stored an answer.
// The session is deleted when nobody answers in time.
func (f *FirebaseClient) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	if _, err := f.getSession(ctx, sessionID); err != nil {
		return "", err
	}

	log.Printf("Waiting for receiver to answer...")
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for i := 0; i < answerPollAttempts; i++ {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}

		var answer string
		if err := f.ref.Child(sessionID).Child("answer").Get(ctx, &answer); err != nil {
			log.Printf("Error polling answer for %s: %v", sessionID, err)
			continue
		}
		if answer != "" {
			return answer, nil
		}
	}

	if err := f.DeleteSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("error deleting session: %w", err)
	}
	return "", fmt.Errorf("timeout waiting for answer")
}

func (f *FirebaseClient) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := f.getSession(ctx, sessionID); err != nil {
		log.Printf("Session %s not found, skipping deletion", sessionID)
		return nil
	}

	if err := f.ref.Child(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("error deleting session %s: %w", sessionID, err)
	}
	return nil
}

func (f *FirebaseClient) GetOffer(ctx context.Context, sessionID string) (string, error) {
	session, err := f.getSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.Offer == "" {
		return "", fmt.Errorf("session %s has no offer", sessionID)
	}
	return session.Offer, nil
}

func (f *FirebaseClient) getSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := f.ref.Child(sessionID).Get(ctx, &session); err != nil {
		return nil, fmt.Errorf("error fetching session %s: %w", sessionID, err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return &session, nil
}
