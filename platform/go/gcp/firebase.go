package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// ClientOptions returns the google api options for an optional service account file.
func ClientOptions(credentialsFile string) []option.ClientOption {
	if credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// GetApp Creates a Firebase App instance. An empty credentialsFile uses application default credentials.
func GetApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}
	return firebase.NewApp(ctx, cfg, ClientOptions(credentialsFile)...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client used to verify
// platform admin tokens.
func InitFirebaseAuth(ctx context.Context, projectID, credentialsFile string) (*firebaseauth.Client, error) {
	firebaseApp, err := GetApp(ctx, projectID, credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return fbAuth, nil
}
