package envvars

import (
	"log"
	"os"
)

const (
	ProjectID            = "GCP_PROJECT_ID"
	FirebaseAPIKey       = "FIREBASE_API_KEY"
	FirebaseRefreshToken = "FIREBASE_REFRESH_TOKEN"
	DefaultsOwnerEmail   = "DEFAULTS_OWNER_EMAIL"
	Environment          = "ENVIRONMENT"

	ProductionEnv = "production"
	DevEnv        = "dev"
)

type Env struct {
	ProjectID            string
	FirebaseAPIKey       string
	FirebaseRefreshToken string
	DefaultsOwnerEmail   string
	Environment          string
}

func GetEnv() Env {
	projectID, ok := os.LookupEnv(ProjectID)
	if !ok {
		log.Fatalf("%s required", ProjectID)
	}
	apiKey, ok := os.LookupEnv(FirebaseAPIKey)
	if !ok {
		log.Fatalf("%s required", FirebaseAPIKey)
	}
	refreshToken := os.Getenv(FirebaseRefreshToken)
	ownerEmail := os.Getenv(DefaultsOwnerEmail)
	environment, ok := os.LookupEnv(Environment)
	if !ok {
		environment = DevEnv
	}
	return Env{
		ProjectID:            projectID,
		FirebaseAPIKey:       apiKey,
		FirebaseRefreshToken: refreshToken,
		DefaultsOwnerEmail:   ownerEmail,
		Environment:          environment,
	}
}

func IsProd(env Env) bool {
	return env.Environment == ProductionEnv
}

func IsDev(env Env) bool {
	return env.Environment == DevEnv
}
