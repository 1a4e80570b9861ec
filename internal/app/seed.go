package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agenthub/internal/credentials"
	"agenthub/internal/engine"
	"agenthub/internal/repo"
)

// SeedFile is the YAML shape accepted by `agenthub seed`.
type SeedFile struct {
	Users []struct {
		Username string `yaml:"username"`
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Role     string `yaml:"role"`
	} `yaml:"users"`
	Agents []struct {
		Name         string   `yaml:"name"`
		Description  string   `yaml:"description"`
		AgentType    string   `yaml:"agent_type"`
		Version      string   `yaml:"version"`
		Status       string   `yaml:"status"`
		Capabilities []string `yaml:"capabilities"`
	} `yaml:"agents"`
	Projects []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Owner       string `yaml:"owner"` // username of an entry in users
	} `yaml:"projects"`
}

// Seed loads a YAML fixture into storage. Users that already exist are
// skipped so reseeding the same file is safe.
func Seed(ctx context.Context, a *App, creds *credentials.Service, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file SeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	owners := map[string]string{} // username -> user id
	for _, u := range file.Users {
		created, err := creds.Register(ctx, credentials.RegisterInput{
			Username: u.Username,
			Email:    u.Email,
			Password: u.Password,
			Role:     u.Role,
		})
		if err != nil {
			if errors.Is(err, repo.ErrConflict) {
				existing, lookupErr := a.Repo.GetUserByEmail(ctx, u.Email)
				if lookupErr != nil {
					return lookupErr
				}
				owners[u.Username] = existing.ID
				continue
			}
			return fmt.Errorf("seed user %q: %w", u.Username, err)
		}
		owners[u.Username] = created.ID
	}
	for _, ag := range file.Agents {
		created, err := a.Engine.CreateAgent(ctx, engine.CreateAgentInput{
			Name:         ag.Name,
			Description:  ag.Description,
			AgentType:    ag.AgentType,
			Version:      ag.Version,
			Capabilities: ag.Capabilities,
		})
		if err != nil {
			return fmt.Errorf("seed agent %q: %w", ag.Name, err)
		}
		if ag.Status != "" && ag.Status != created.Status {
			if _, err := a.Engine.SetAgentStatus(ctx, created.ID, ag.Status); err != nil {
				return fmt.Errorf("seed agent %q: %w", ag.Name, err)
			}
		}
	}
	for _, p := range file.Projects {
		ownerID, ok := owners[p.Owner]
		if !ok {
			return fmt.Errorf("seed project %q: owner %q not in seed users", p.Name, p.Owner)
		}
		if _, err := a.Engine.CreateProject(ctx, engine.CreateProjectInput{
			Name:        p.Name,
			Description: p.Description,
			OwnerID:     ownerID,
		}); err != nil {
			return fmt.Errorf("seed project %q: %w", p.Name, err)
		}
	}
	return nil
}
