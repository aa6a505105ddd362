// Package defaults serves the shared default layouts new users start from.
// One designated account is the sole writer of record; everyone else only
// reads. Latest data wins by version number, no merging across writes.
package defaults

import (
	"context"
	"fmt"
	"time"

	"rallyPoint/gateway"
	"rallyPoint/model"

	"github.com/rs/zerolog/log"
)

const collection = "sharedDefaults"

// Kind selects which shared defaults document to address.
type Kind string

const (
	BuildingConfigKind    Kind = "buildingConfig"
	BuildingPositionsKind Kind = "buildingPositions"
)

type Service interface {
	// Load reads the shared defaults for a kind. A missing document is not
	// an error: new deployments simply have no defaults yet.
	Load(ctx context.Context, kind Kind) (model.GlobalDefaults, error)

	// MaybePublish derives defaults from the owner's local data and writes
	// them when the shared document is absent or empty. Accounts other than
	// the configured owner never write.
	MaybePublish(ctx context.Context, kind Kind, principalEmail string, local model.GlobalDefaults) error
}

type service struct {
	gw         gateway.Gateway
	ownerEmail string
	now        func() time.Time
}

var _ Service = (*service)(nil)

func NewService(gw gateway.Gateway, ownerEmail string, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{gw: gw, ownerEmail: ownerEmail, now: now}
}

func (s *service) Load(ctx context.Context, kind Kind) (model.GlobalDefaults, error) {
	doc, err := s.gw.Get(ctx, collection+"/"+string(kind))
	if err != nil {
		if gateway.IsNotFound(err) {
			return model.GlobalDefaults{}, nil
		}
		return model.GlobalDefaults{}, fmt.Errorf("failed to load shared defaults %s: %w", kind, err)
	}
	var out model.GlobalDefaults
	if err := doc.DataTo(&out); err != nil {
		return model.GlobalDefaults{}, err
	}
	return out, nil
}

func (s *service) MaybePublish(ctx context.Context, kind Kind, principalEmail string, local model.GlobalDefaults) error {
	if s.ownerEmail == "" || principalEmail != s.ownerEmail {
		return nil
	}
	if len(local.Events) == 0 {
		return nil
	}

	existing, err := s.Load(ctx, kind)
	if err != nil {
		return err
	}
	if len(existing.Events) > 0 {
		// Already published; the owner's next intentional update goes
		// through the same path once the document is cleared.
		return nil
	}

	version := s.now().UnixMilli()
	if existing.Version >= version {
		version = existing.Version + 1
	}
	err = s.gw.SetMerge(ctx, collection+"/"+string(kind), map[string]any{
		"events":  local.Events,
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to publish shared defaults %s: %w", kind, err)
	}
	log.Info().Str("kind", string(kind)).Int64("version", version).Msg("published shared defaults")
	return nil
}
