package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rallyPoint/clients/gcp"
	"rallyPoint/envvars"
	"rallyPoint/gateway"
	"rallyPoint/model"
	"rallyPoint/services/alliance"
	"rallyPoint/services/defaults"
	"rallyPoint/services/media"
	"rallyPoint/services/saver"
	"rallyPoint/services/session"

	"github.com/go-resty/resty/v2"
)

func main() {
	ctx := context.Background()
	env := envvars.GetEnv()

	client := gcp.CreateFirestore(ctx, env.ProjectID)
	defer client.Close()
	store := gateway.NewStore(client)

	mediaService := media.NewService(store)
	allianceService := alliance.NewService(store, nil)
	defaultsService := defaults.NewService(store, env.DefaultsOwnerEmail, nil)
	sess := session.New(store, mediaService, allianceService, saver.Config{})

	sess.OnAuthStateChange(func(signedIn bool, p alliance.Principal) {
		slog.Info("auth state changed", "signedIn", signedIn, "uid", p.UID)
	})
	sess.OnDataLoaded(func(players map[string]model.PlayerEntry) {
		slog.Info("user data loaded", "players", len(players))
	})

	if env.FirebaseRefreshToken == "" {
		slog.Error("FIREBASE_REFRESH_TOKEN required to start a session")
		return
	}

	auth := session.NewAuthClient(resty.New(), env.FirebaseAPIKey)
	tok, err := auth.RefreshIDToken(ctx, env.FirebaseRefreshToken)
	if err != nil {
		slog.With("error", err.Error()).Error("failed to refresh id token")
		return
	}
	if err := sess.SignInWithToken(ctx, tok.IDToken); err != nil {
		slog.With("error", err.Error()).Error("failed to sign in")
		return
	}

	rec := sess.Record()
	if _, err := defaultsService.Load(ctx, defaults.BuildingPositionsKind); err != nil {
		slog.With("error", err.Error()).Warn("failed to load shared defaults")
	}
	slog.Info("session ready", "players", len(rec.PlayerDatabase), "events", len(rec.Events))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Flush outstanding edits before the process exits.
	res := <-sess.Save(ctx, true)
	if res.Err != nil {
		slog.With("error", res.Err.Error()).Error("final save failed")
	}
	sess.SignOut()
}
