package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jEdgeSourceConfig holds the graph-backed edge source dependencies.
type Neo4jEdgeSourceConfig struct {
	Logger   *slog.Logger
	Driver   neo4j.DriverWithContext
	Database string
}

func (cfg *Neo4jEdgeSourceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Driver == nil {
		return errors.New("neo4j driver is required")
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	return nil
}

// Neo4jEdgeSource reads referral edges from the user graph, where
// (:User {id})-[:REFERRED_BY]->(:User {id, wallet}).
type Neo4jEdgeSource struct {
	log *slog.Logger
	cfg Neo4jEdgeSourceConfig
}

func NewNeo4jEdgeSource(cfg Neo4jEdgeSourceConfig) (*Neo4jEdgeSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Neo4jEdgeSource{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

const referrerQuery = `
	MATCH (u:User {id: $userID})-[:REFERRED_BY]->(r:User)
	RETURN r.id AS id, r.wallet AS wallet
	LIMIT 1`

func (s *Neo4jEdgeSource) ReferrerOf(ctx context.Context, userID string) (*Referrer, error) {
	session := s.cfg.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.cfg.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, referrerQuery, map[string]any{"userID": userID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}

		record := records[0]
		id, _ := record.Get("id")
		idStr, ok := id.(string)
		if !ok || idStr == "" {
			return nil, fmt.Errorf("referrer of %s has no id", userID)
		}

		ref := &Referrer{UserID: idStr}
		if wallet, _ := record.Get("wallet"); wallet != nil {
			ref.Wallet, _ = wallet.(string)
		}
		return ref, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query referral edge: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return result.(*Referrer), nil
}
