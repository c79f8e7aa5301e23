package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/gcp"
)

// buildAuthMiddleware accepts tokens issued by /auth plus, depending on AUTH_PROVIDER,
// platform admin tokens. The platform verifiers only ever yield CONTROLPLANE credentials.
func buildAuthMiddleware(ctx context.Context, cfg config, tokens *platformauth.TokenService, logger *zap.Logger) func(http.Handler) http.Handler {
	var platform platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseProjectID, cfg.GCPCredentialsFile)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		platform = platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		platform = platformauth.UnsignedTokenVerifier()
	case "none":
		logger.Info("platform admin tokens disabled")
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	return platformauth.JWT(platformauth.FirstOf(tokens.Verify(), platform), platformauth.DefaultCredentialExtractor)
}
